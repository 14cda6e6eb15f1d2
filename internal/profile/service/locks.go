package service

import (
	"context"
	"time"

	dErrors "healthvault/pkg/domain-errors"
)

// numLockShards spreads users over a fixed set of locks so unrelated users
// rarely contend while one user's writes are strictly serialized.
const numLockShards = 128

// defaultLockTimeout bounds how long a caller waits for its user's shard.
const defaultLockTimeout = 5 * time.Second

// userLocks serializes read-modify-write cycles per user. Each shard is a
// one-slot channel so waiting respects context cancellation.
type userLocks struct {
	shards  [numLockShards]chan struct{}
	timeout time.Duration
}

func newUserLocks(timeout time.Duration) *userLocks {
	l := &userLocks{timeout: timeout}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// run executes fn while holding the shard for userID.
func (l *userLocks) run(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "profile update aborted: context cancelled")
	}

	timeout := l.timeout
	if timeout == 0 {
		timeout = defaultLockTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := l.shards[shardFor(userID)]
	select {
	case shard <- struct{}{}:
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "profile is busy")
	}
	defer func() { <-shard }()

	return fn(ctx)
}

// shardFor uses FNV-1a for better distribution than multiply-add.
func shardFor(userID string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(userID); i++ {
		h ^= uint32(userID[i])
		h *= fnvPrime
	}
	return h % numLockShards
}
