package vault

import (
	"encoding/json"
	"time"
)

// Algorithm identifies the envelope format written by this package.
const Algorithm = "AES-256-GCM+HKDF-SHA256"

// Envelope is the at-rest form of one record. Nothing in it is plaintext
// except the addressing fields.
type Envelope struct {
	UserID     string    `json:"user_id"`
	DataType   string    `json:"data_type"`
	RecordID   string    `json:"record_id"`
	Ciphertext []byte    `json:"ciphertext"`
	IV         []byte    `json:"iv"`
	Salt       []byte    `json:"salt"`
	KeyVersion int       `json:"key_version"`
	Algorithm  string    `json:"algorithm"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Record is a decrypted envelope. Data holds the JSON encoding of the value
// passed to Put.
type Record struct {
	RecordID  string
	DataType  string
	UpdatedAt time.Time
	Data      json.RawMessage
}

// Decode unmarshals the record payload into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}
