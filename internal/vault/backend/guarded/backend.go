// Package guarded wraps a remote vault backend in a circuit breaker so a
// down Redis or Postgres fails fast instead of stalling every profile call
// until its timeout.
package guarded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"healthvault/internal/vault"
	"healthvault/pkg/platform/circuit"
	"healthvault/pkg/platform/sentinel"
)

type Backend struct {
	next    vault.Backend
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func New(next vault.Backend, breaker *circuit.Breaker, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{next: next, breaker: breaker, logger: logger}
}

func (b *Backend) Put(ctx context.Context, env vault.Envelope) error {
	return b.do(ctx, func() error {
		return b.next.Put(ctx, env)
	})
}

func (b *Backend) List(ctx context.Context, userID, dataType string) ([]vault.Envelope, error) {
	var envs []vault.Envelope
	err := b.do(ctx, func() error {
		var err error
		envs, err = b.next.List(ctx, userID, dataType)
		return err
	})
	return envs, err
}

func (b *Backend) Delete(ctx context.Context, userID, dataType string) (int, error) {
	var n int
	err := b.do(ctx, func() error {
		var err error
		n, err = b.next.Delete(ctx, userID, dataType)
		return err
	})
	return n, err
}

func (b *Backend) DeleteUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := b.do(ctx, func() error {
		var err error
		n, err = b.next.DeleteUser(ctx, userID)
		return err
	})
	return n, err
}

func (b *Backend) do(ctx context.Context, fn func() error) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("%w: %s circuit open", sentinel.ErrUnavailable, b.breaker.Name())
	}

	err := fn()
	switch {
	case err == nil:
		if _, change := b.breaker.RecordSuccess(); change.Closed {
			b.logger.InfoContext(ctx, "vault backend recovered", "backend", b.breaker.Name())
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up; says nothing about the backend.
	default:
		if _, change := b.breaker.RecordFailure(); change.Opened {
			b.logger.WarnContext(ctx, "vault backend circuit opened", "backend", b.breaker.Name(), "error", err)
		}
	}
	return err
}
