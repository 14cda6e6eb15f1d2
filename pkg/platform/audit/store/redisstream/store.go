// Package redisstream appends audit events to a capped Redis stream.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	audit "healthvault/pkg/platform/audit"
)

const (
	DefaultStream = "healthvault:audit"
	// DefaultMaxLen bounds retention; older entries are trimmed approximately.
	DefaultMaxLen = 10000
)

// Store writes each event as one XADD entry with a JSON "data" field.
type Store struct {
	client *redis.Client
	stream string
	maxLen int64
}

type Option func(*Store)

func WithStream(name string) Option {
	return func(s *Store) { s.stream = name }
}

func WithMaxLen(n int64) Option {
	return func(s *Store) { s.maxLen = n }
}

func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, stream: DefaultStream, maxLen: DefaultMaxLen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"action":   event.Action,
			"category": string(event.Category),
			"data":     string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd audit event: %w", err)
	}
	return nil
}
