package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-rewards/backend/internal/models"
	"github.com/aura-rewards/backend/internal/rewards"
	"github.com/aura-rewards/backend/pkg/queue"
)

// Broadcaster delivers events to connected clients. Implemented by the
// realtime hub; an explicit interface instead of ambient global events keeps
// ownership and lifecycle visible.
type Broadcaster interface {
	SendToSession(sessionID uuid.UUID, event string, payload interface{})
	SendToUser(userID uuid.UUID, event string, payload interface{})
}

// ClaimSubmitter submits a claim to the rewards provider. Satisfied by
// *rewards.Client.
type ClaimSubmitter interface {
	SubmitClaim(ctx context.Context, claim *models.RewardClaim) error
}

// ClaimStore persists claim audit rows. Satisfied by *rewards.Repository.
type ClaimStore interface {
	RecordClaim(ctx context.Context, claim *models.RewardClaim) error
}

// HistoryRecorder appends credited watches to the user's history. Satisfied
// by *history.Repository.
type HistoryRecorder interface {
	Record(ctx context.Context, rec *models.WatchRecord) error
}

// WalletRefresher fetches fresh balances and maintains the cached estimate.
// Satisfied by *wallet.Service.
type WalletRefresher interface {
	Refresh(ctx context.Context, userID uuid.UUID) (float64, error)
	Estimate(ctx context.Context, userID uuid.UUID) (float64, bool)
	AddToEstimate(ctx context.Context, userID uuid.UUID, delta float64)
}

// WatchedCounter is the optimistic per-user watched count. Satisfied by
// *rewards.WatchedCounter.
type WatchedCounter interface {
	Incr(ctx context.Context, userID uuid.UUID)
	Decr(ctx context.Context, userID uuid.UUID)
}

// AttemptEnqueuer queues failed-attempt persistence jobs. Satisfied by
// *queue.Queue.
type AttemptEnqueuer interface {
	EnqueueFailedAttempt(ctx context.Context, payload queue.FailedAttemptPayload) error
	EnqueueAuditExport(ctx context.Context, payload queue.AuditExportPayload) error
}

// Settler decides reward eligibility for an ended session and carries out the
// claim, the compensations and the client notifications.
type Settler struct {
	provider    ClaimSubmitter
	store       ClaimStore
	history     HistoryRecorder
	wallet      WalletRefresher
	counter     WatchedCounter
	jobs        AttemptEnqueuer
	broadcaster Broadcaster
	logger      *zap.Logger

	amount     float64
	minFrac    float64
	retries    int
	retryDelay time.Duration
}

// NewSettler creates a settler.
func NewSettler(provider ClaimSubmitter, store ClaimStore, history HistoryRecorder,
	wallet WalletRefresher, counter WatchedCounter, jobs AttemptEnqueuer,
	broadcaster Broadcaster, amount, minFraction float64, retries int, retryDelay time.Duration,
	logger *zap.Logger) *Settler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries <= 0 {
		retries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Settler{
		provider:    provider,
		store:       store,
		history:     history,
		wallet:      wallet,
		counter:     counter,
		jobs:        jobs,
		broadcaster: broadcaster,
		logger:      logger,
		amount:      amount,
		minFrac:     minFraction,
		retries:     retries,
		retryDelay:  retryDelay,
	}
}

// Settle evaluates an ended session and performs the claim or records the
// failure. ctx is the session's context: tearing the session down cancels
// in-flight balance retries. The snapshot must not be mutated concurrently.
func (s *Settler) Settle(ctx context.Context, sess *models.WatchSession) {
	if !sess.Eligible(s.minFrac) {
		s.settleIneligible(ctx, sess)
		return
	}
	if sess.UserID == nil {
		// eligible but anonymous: nudge towards an account, submit nothing
		s.broadcaster.SendToSession(sess.ID, "signup_prompt", map[string]interface{}{
			"message": "Sign up to earn rewards for videos you watch.",
			"amount":  s.amount,
		})
		return
	}
	s.settleEligible(ctx, sess)
}

func (s *Settler) settleEligible(ctx context.Context, sess *models.WatchSession) {
	userID := *sess.UserID
	now := time.Now()
	end := now
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}
	claim := &models.RewardClaim{
		UserID:        userID,
		MediaID:       sess.MediaID,
		MediaTitle:    sess.MediaTitle,
		ChannelID:     sess.ChannelID,
		ChannelName:   sess.ChannelName,
		DurationSec:   sess.DurationSec,
		WatchStart:    sess.StartedAt,
		WatchEnd:      end,
		WatchFraction: sess.Progress,
		Flags:         sess.Flags,
		IsValidated:   true,
		Amount:        s.amount,
		Status:        models.ClaimStatusPending,
	}

	s.counter.Incr(ctx, userID)

	err := s.provider.SubmitClaim(ctx, claim)
	switch {
	case err == nil:
		claim.Status = models.ClaimStatusCredited
		s.recordClaim(ctx, claim)
		if err := s.history.Record(ctx, &models.WatchRecord{
			UserID:     userID,
			MediaID:    sess.MediaID,
			MediaTitle: sess.MediaTitle,
			Amount:     s.amount,
		}); err != nil {
			s.logger.Error("record watch history failed", zap.Error(err), zap.String("session_id", sess.ID.String()))
		}
		s.wallet.AddToEstimate(ctx, userID, s.amount)
		s.broadcaster.SendToSession(sess.ID, "reward_earned", map[string]interface{}{"amount": s.amount})
		s.broadcaster.SendToUser(userID, "reward_earned", map[string]interface{}{"amount": s.amount})
		s.refreshBalance(ctx, userID)

	case errors.Is(err, rewards.ErrAlreadyWatched):
		// benign duplicate: compensate the optimistic increment, inform, no error surface
		s.counter.Decr(ctx, userID)
		claim.Status = models.ClaimStatusDuplicate
		s.recordClaim(ctx, claim)
		s.broadcaster.SendToSession(sess.ID, "already_watched", map[string]interface{}{
			"message": "You already earned a reward for this video.",
		})

	default:
		claim.Status = models.ClaimStatusFailed
		s.recordClaim(ctx, claim)
		s.logger.Error("claim submission failed", zap.Error(err),
			zap.String("session_id", sess.ID.String()), zap.String("user_id", userID.String()))
		s.broadcaster.SendToSession(sess.ID, "reward_error", map[string]interface{}{
			"message": "Something went wrong crediting your reward. Please try again later.",
		})
	}
}

func (s *Settler) settleIneligible(ctx context.Context, sess *models.WatchSession) {
	reasons := rejectionReasons(sess, s.minFrac)

	attempt := models.FailedAttempt{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		MediaID:       sess.MediaID,
		WatchFraction: sess.Progress,
		Flags:         sess.Flags,
		Reasons:       reasons,
	}
	// best effort, fire and forget
	if err := s.jobs.EnqueueFailedAttempt(ctx, queue.FailedAttemptPayload{Attempt: attempt}); err != nil {
		s.logger.Warn("enqueue failed attempt failed", zap.Error(err), zap.String("session_id", sess.ID.String()))
	}
	if snapshot, err := json.Marshal(sess); err == nil {
		if err := s.jobs.EnqueueAuditExport(ctx, queue.AuditExportPayload{SessionID: sess.ID, Snapshot: snapshot}); err != nil {
			s.logger.Warn("enqueue audit export failed", zap.Error(err), zap.String("session_id", sess.ID.String()))
		}
	}

	s.broadcaster.SendToSession(sess.ID, "session_rejected", map[string]interface{}{
		"reasons": reasons,
	})
}

// rejectionReasons returns the first applicable explanation, in priority
// order: violated flags, then insufficient watch fraction, then generic.
func rejectionReasons(sess *models.WatchSession, minFrac float64) []string {
	if flags := sess.Flags.List(); len(flags) > 0 {
		return flags
	}
	if sess.Progress < minFrac {
		return []string{"insufficient_watch_fraction"}
	}
	return []string{"not_eligible"}
}

// refreshBalance polls the wallet with bounded retries after a credited
// claim, broadcasting the fresh balance or falling back to the cached
// estimate. Cancelled when the owning session is torn down.
func (s *Settler) refreshBalance(ctx context.Context, userID uuid.UUID) {
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
		}
		bal, err := s.wallet.Refresh(ctx, userID)
		if err == nil {
			s.broadcaster.SendToUser(userID, "balance_updated", map[string]interface{}{
				"balance": bal, "cached": false,
			})
			return
		}
		s.logger.Warn("wallet refresh failed", zap.Error(err),
			zap.String("user_id", userID.String()), zap.Int("attempt", attempt+1))
	}
	if est, ok := s.wallet.Estimate(ctx, userID); ok {
		s.broadcaster.SendToUser(userID, "balance_updated", map[string]interface{}{
			"balance": est, "cached": true,
		})
	}
}

func (s *Settler) recordClaim(ctx context.Context, claim *models.RewardClaim) {
	if err := s.store.RecordClaim(ctx, claim); err != nil {
		s.logger.Error("record claim failed", zap.Error(err),
			zap.String("user_id", claim.UserID.String()), zap.String("media_id", claim.MediaID.String()))
	}
}
