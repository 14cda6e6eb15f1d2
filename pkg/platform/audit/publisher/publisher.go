// Package publisher emits audit events synchronously.
//
// Emit is awaited by the caller inside the same logical operation as the
// write that triggered it, so a failure is observable instead of vanishing in
// a detached goroutine. Whether a failure aborts the caller is the caller's
// decision; the profile and consent services log and count it.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "healthvault/pkg/platform/audit"
	"healthvault/pkg/requestcontext"
)

// ErrMissingAction is returned for events without an action.
var ErrMissingAction = errors.New("audit event requires Action")

// Publisher writes audit events to a Store.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a publisher backed by store.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills in derived fields (category, timestamp, request ID, actor) and
// persists the event. It returns the store error, if any.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	start := time.Now()

	if event.Action == "" {
		return ErrMissingAction
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Actor == "" {
		event.Actor = requestcontext.Actor(ctx)
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityInfo
	}

	if err := p.store.Append(ctx, event); err != nil {
		if p.metrics != nil {
			p.metrics.incPersistFailures()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit persistence failed",
				"action", event.Action,
				"subject_hash", event.SubjectHash,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}

	if p.metrics != nil {
		p.metrics.observePersist(time.Since(start).Seconds())
		p.metrics.incEmitted(string(event.Category))
	}
	return nil
}
