package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/internal/logger"
)

const runLockKey = "dripline:sequence:run"

// RunLocker guards against overlapping live batch runs.
type RunLocker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LockClient is the subset of *database.Redis the run lock needs.
type LockClient interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) (bool, error)
}

// RedisRunLock is a single-holder lock stored in Redis with a TTL so a
// crashed run cannot block the sequence forever.
type RedisRunLock struct {
	client LockClient
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisRunLock creates a new RedisRunLock.
func NewRedisRunLock(client LockClient, ttl time.Duration, log *logger.Logger) *RedisRunLock {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisRunLock{client: client, ttl: ttl, log: log.WithComponent("run_lock")}
}

// Acquire takes the lock or returns ErrBatchInProgress.
func (l *RedisRunLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.New().String()
	ok, err := l.client.TryLock(ctx, runLockKey, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrBatchInProgress
	}

	return func() {
		released, err := l.client.Unlock(context.Background(), runLockKey, token)
		if err != nil {
			l.log.Warn().Err(err).Msg("failed to release run lock")
			return
		}
		if !released {
			l.log.Warn().Msg("run lock expired before release")
		}
	}, nil
}
