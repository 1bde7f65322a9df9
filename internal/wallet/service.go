package wallet

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-rewards/backend/internal/models"
)

const (
	cacheKeyPrefix = "wallet:balance:"
	cacheTTL       = 10 * time.Minute
)

// BalanceFetcher is the outbound wallet lookup, satisfied by *Client.
type BalanceFetcher interface {
	Balance(ctx context.Context, userID uuid.UUID) (float64, error)
}

// Service wraps the wallet client with a redis-cached local estimate. The
// estimate is what the UI falls back to when the wallet service is slow or
// down after a claim.
type Service struct {
	client BalanceFetcher
	redis  *redis.Client
	logger *zap.Logger
}

// NewService creates a wallet service.
func NewService(client BalanceFetcher, rdb *redis.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, redis: rdb, logger: logger}
}

// Balance returns the fresh balance and updates the cached estimate. On
// lookup failure it returns the cached estimate with Cached=true, or an
// error when no estimate exists either.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (*models.WalletBalance, error) {
	bal, err := s.client.Balance(ctx, userID)
	if err == nil {
		s.setEstimate(ctx, userID, bal)
		return &models.WalletBalance{Balance: bal, Cached: false, FetchedAt: time.Now()}, nil
	}
	s.logger.Warn("wallet lookup failed, trying cached estimate", zap.Error(err), zap.String("user_id", userID.String()))
	if est, ok := s.Estimate(ctx, userID); ok {
		return &models.WalletBalance{Balance: est, Cached: true, FetchedAt: time.Now()}, nil
	}
	return nil, fmt.Errorf("wallet balance: %w", err)
}

// Refresh fetches a fresh balance only (no cache fallback) and updates the
// estimate on success. Used by the post-claim retry loop, which wants to
// distinguish fresh figures from stale ones.
func (s *Service) Refresh(ctx context.Context, userID uuid.UUID) (float64, error) {
	bal, err := s.client.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.setEstimate(ctx, userID, bal)
	return bal, nil
}

// Estimate returns the locally cached balance estimate, if any.
func (s *Service) Estimate(ctx context.Context, userID uuid.UUID) (float64, bool) {
	if s.redis == nil {
		return 0, false
	}
	v, err := s.redis.Get(ctx, cacheKeyPrefix+userID.String()).Result()
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// AddToEstimate bumps the cached estimate by delta (e.g. a just-earned
// reward) without waiting for the wallet service to catch up.
func (s *Service) AddToEstimate(ctx context.Context, userID uuid.UUID, delta float64) {
	if s.redis == nil {
		return
	}
	key := cacheKeyPrefix + userID.String()
	if err := s.redis.IncrByFloat(ctx, key, delta).Err(); err != nil {
		s.logger.Warn("bump balance estimate failed", zap.Error(err), zap.String("user_id", userID.String()))
		return
	}
	s.redis.Expire(ctx, key, cacheTTL)
}

func (s *Service) setEstimate(ctx context.Context, userID uuid.UUID, bal float64) {
	if s.redis == nil {
		return
	}
	s.redis.Set(ctx, cacheKeyPrefix+userID.String(), strconv.FormatFloat(bal, 'f', -1, 64), cacheTTL)
}
