package rewards

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const watchedCountPrefix = "watched:count:"

// WatchedCounter keeps the per-user watched count shown in the hub header.
// It is incremented optimistically when a claim is submitted and decremented
// as a compensating action when the provider reports a duplicate.
type WatchedCounter struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewWatchedCounter creates a watched counter.
func NewWatchedCounter(rdb *redis.Client, logger *zap.Logger) *WatchedCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatchedCounter{redis: rdb, logger: logger}
}

// Incr bumps the user's watched count.
func (c *WatchedCounter) Incr(ctx context.Context, userID uuid.UUID) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Incr(ctx, watchedCountPrefix+userID.String()).Err(); err != nil {
		c.logger.Warn("incr watched count failed", zap.Error(err), zap.String("user_id", userID.String()))
	}
}

// Decr is the compensating decrement after a duplicate-claim response.
func (c *WatchedCounter) Decr(ctx context.Context, userID uuid.UUID) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Decr(ctx, watchedCountPrefix+userID.String()).Err(); err != nil {
		c.logger.Warn("decr watched count failed", zap.Error(err), zap.String("user_id", userID.String()))
	}
}

// Get returns the user's watched count, zero on any failure.
func (c *WatchedCounter) Get(ctx context.Context, userID uuid.UUID) int64 {
	if c.redis == nil {
		return 0
	}
	n, err := c.redis.Get(ctx, watchedCountPrefix+userID.String()).Int64()
	if err != nil {
		return 0
	}
	return n
}
