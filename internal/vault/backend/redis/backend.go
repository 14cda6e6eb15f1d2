// Package redis stores vault envelopes in Redis, one string key per
// (user, data type).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"healthvault/internal/vault"
	"healthvault/pkg/platform/sentinel"
)

const (
	defaultPrefix = "healthvault:vault:"
	scanBatch     = 100
)

// Backend implements vault.Backend on a go-redis client whose lifecycle is
// managed by the caller.
type Backend struct {
	client *redis.Client
	prefix string
}

type Option func(*Backend)

// WithKeyPrefix namespaces keys, e.g. per test.
func WithKeyPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

func New(client *redis.Client, opts ...Option) *Backend {
	b := &Backend{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// userPrefix escapes glob metacharacters so SCAN MATCH only sees this user.
func (b *Backend) userPrefix(userID string) string {
	return b.prefix + escapeKeyPart(userID) + ":"
}

func (b *Backend) key(userID, dataType string) string {
	return b.userPrefix(userID) + escapeKeyPart(dataType)
}

func (b *Backend) Put(ctx context.Context, env vault.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.client.Set(ctx, b.key(env.UserID, env.DataType), data, 0).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, userID, dataType string) ([]vault.Envelope, error) {
	data, err := b.client.Get(ctx, b.key(userID, dataType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var env vault.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return []vault.Envelope{{UserID: userID, DataType: dataType}}, nil
	}
	return []vault.Envelope{env}, nil
}

func (b *Backend) Delete(ctx context.Context, userID, dataType string) (int, error) {
	n, err := b.client.Del(ctx, b.key(userID, dataType)).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// DeleteUser walks the user's keyspace with SCAN and deletes in batches.
func (b *Backend) DeleteUser(ctx context.Context, userID string) (int, error) {
	pattern := globEscape(b.userPrefix(userID)) + "*"
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, unavailable(err)
		}
		if len(keys) > 0 {
			n, err := b.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, unavailable(err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: redis: %v", sentinel.ErrUnavailable, err)
}

// escapeKeyPart keeps ':' as an unambiguous separator.
func escapeKeyPart(s string) string {
	return strings.NewReplacer("%", "%25", ":", "%3A").Replace(s)
}

func globEscape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
