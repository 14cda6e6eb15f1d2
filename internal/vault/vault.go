// Package vault is the encrypted object store: every record is sealed with
// AES-256-GCM under a data key derived per write from the device master key.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"healthvault/internal/vault/keys"
	dErrors "healthvault/pkg/domain-errors"
	"healthvault/pkg/platform/audit"
	"healthvault/pkg/platform/sentinel"
	"healthvault/pkg/requestcontext"
)

var errIntegrity = errors.New("record failed authentication")

//go:generate mockgen -source=vault.go -destination=mocks/backend_mock.go -package=mocks

// Backend persists envelopes. Put replaces any envelope stored under the same
// (userID, dataType). Delete and DeleteUser report how many envelopes were
// removed.
type Backend interface {
	Put(ctx context.Context, env Envelope) error
	List(ctx context.Context, userID, dataType string) ([]Envelope, error)
	Delete(ctx context.Context, userID, dataType string) (int, error)
	DeleteUser(ctx context.Context, userID string) (int, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Store encrypts on write and decrypts on read.
type Store struct {
	backend        Backend
	keys           keys.Provider
	random         io.Reader
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *Metrics

	mu     sync.Mutex
	master []byte
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Store) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithRandom overrides the salt and IV source.
func WithRandom(r io.Reader) Option {
	return func(s *Store) {
		s.random = r
	}
}

func New(backend Backend, provider keys.Provider, opts ...Option) *Store {
	s := &Store{backend: backend, keys: provider, random: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the master key. It is safe to call more than once; Put and
// Get call it implicitly.
func (s *Store) Initialize(ctx context.Context) error {
	_, err := s.masterKey(ctx)
	return err
}

func (s *Store) masterKey(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master != nil {
		return s.master, nil
	}
	if s.keys == nil {
		return nil, dErrors.New(dErrors.CodeStoreUnavailable, "secure storage unavailable")
	}
	key, err := s.keys.MasterKey(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "secure storage unavailable")
	}
	if len(key) != keys.KeySize {
		return nil, dErrors.New(dErrors.CodeStoreUnavailable, "secure storage unavailable")
	}
	s.master = key
	return key, nil
}

// Put encrypts record and stores it under (userID, dataType), replacing any
// previous record. An empty recordID defaults to dataType.
func (s *Store) Put(ctx context.Context, userID, dataType string, record any, recordID string) error {
	defer s.observe("put", time.Now())

	if userID == "" || dataType == "" {
		return dErrors.New(dErrors.CodeBadRequest, "user ID and data type required")
	}
	master, err := s.masterKey(ctx)
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(record)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "record is not serializable")
	}
	if recordID == "" {
		recordID = dataType
	}

	env := Envelope{
		UserID:     userID,
		DataType:   dataType,
		RecordID:   recordID,
		KeyVersion: s.keys.Version(),
		UpdatedAt:  requestcontext.Now(ctx),
	}
	if err := seal(s.random, master, &env, plaintext); err != nil {
		s.countWrite("error")
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encrypt record")
	}
	if err := s.backend.Put(ctx, env); err != nil {
		s.countWrite("error")
		return wrapBackend(err, "failed to persist record")
	}
	s.countWrite("ok")
	return nil
}

// Get returns the decrypted records for (userID, dataType), newest first.
// Records that fail authentication are skipped and reported to audit; they
// never surface as an error.
func (s *Store) Get(ctx context.Context, userID, dataType string) ([]Record, error) {
	records, _, err := s.read(ctx, userID, dataType)
	return records, err
}

// GetVerified is Get for callers about to rewrite what they read. It fails
// with CodeIntegrity when any stored envelope did not authenticate, so an
// unreadable record is never mistaken for an absent one and overwritten.
func (s *Store) GetVerified(ctx context.Context, userID, dataType string) ([]Record, error) {
	records, skipped, err := s.read(ctx, userID, dataType)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		return nil, dErrors.Wrap(errIntegrity, dErrors.CodeIntegrity, "stored record failed authentication")
	}
	return records, nil
}

func (s *Store) read(ctx context.Context, userID, dataType string) ([]Record, int, error) {
	defer s.observe("get", time.Now())

	master, err := s.masterKey(ctx)
	if err != nil {
		return nil, 0, err
	}
	envs, err := s.backend.List(ctx, userID, dataType)
	if err != nil {
		s.countRead("error")
		return nil, 0, wrapBackend(err, "failed to read records")
	}
	sort.SliceStable(envs, func(i, j int) bool {
		return envs[i].UpdatedAt.After(envs[j].UpdatedAt)
	})

	records := make([]Record, 0, len(envs))
	skipped := 0
	for _, env := range envs {
		plaintext, err := open(master, env)
		if err != nil {
			s.reportIntegrityFailure(ctx, env)
			skipped++
			continue
		}
		records = append(records, Record{
			RecordID:  env.RecordID,
			DataType:  env.DataType,
			UpdatedAt: env.UpdatedAt,
			Data:      plaintext,
		})
	}
	if len(records) == 0 {
		s.countRead("miss")
	} else {
		s.countRead("hit")
	}
	return records, skipped, nil
}

// Delete removes the records stored under (userID, dataType).
func (s *Store) Delete(ctx context.Context, userID, dataType string) (int, error) {
	defer s.observe("delete", time.Now())

	if userID == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	n, err := s.backend.Delete(ctx, userID, dataType)
	if err != nil {
		return 0, wrapBackend(err, "failed to delete records")
	}
	return n, nil
}

// DeleteUser removes every record held for userID, whatever its data type.
func (s *Store) DeleteUser(ctx context.Context, userID string) (int, error) {
	defer s.observe("delete_user", time.Now())

	if userID == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	n, err := s.backend.DeleteUser(ctx, userID)
	if err != nil {
		return 0, wrapBackend(err, "failed to erase user records")
	}
	return n, nil
}

func wrapBackend(err error, msg string) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Store) reportIntegrityFailure(ctx context.Context, env Envelope) {
	if s.metrics != nil {
		s.metrics.IntegrityFailures.Inc()
	}
	subject := audit.HashSubject(env.UserID)
	if s.logger != nil {
		s.logger.WarnContext(ctx, string(audit.EventIntegrityFailed),
			"subject", subject,
			"data_type", env.DataType,
			"key_version", env.KeyVersion,
			"log_type", "audit",
		)
	}
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Action:      string(audit.EventIntegrityFailed),
		SubjectHash: subject,
		DataType:    env.DataType,
		Severity:    audit.SeverityWarning,
		Reason:      errIntegrity.Error(),
	})
}

func (s *Store) countWrite(outcome string) {
	if s.metrics != nil {
		s.metrics.Writes.WithLabelValues(outcome).Inc()
	}
}

func (s *Store) countRead(outcome string) {
	if s.metrics != nil {
		s.metrics.Reads.WithLabelValues(outcome).Inc()
	}
}

func (s *Store) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
