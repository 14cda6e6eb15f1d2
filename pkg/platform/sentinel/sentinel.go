package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Vault backends and stores return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: no record exists for the key
// - ErrConflict: the stored version moved underneath an optimistic write
// - ErrCorrupt: ciphertext failed authentication or could not be decoded
// - ErrUnavailable: backend or key material temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrCorrupt     = errors.New("corrupt record")
	ErrUnavailable = errors.New("unavailable")
)
