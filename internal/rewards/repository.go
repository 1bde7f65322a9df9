package rewards

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-rewards/backend/internal/models"
)

// Repository persists reward claims and failed attempts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rewards repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordClaim inserts a claim audit row. Flags are stored as JSON for abuse
// review queries.
func (r *Repository) RecordClaim(ctx context.Context, claim *models.RewardClaim) error {
	flags, err := json.Marshal(claim.Flags)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO reward_claims
			(user_id, media_id, media_title, channel_id, channel_name, duration_sec,
			 watch_start, watch_end, watch_fraction, flags, is_validated, amount, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 RETURNING id, created_at`,
		claim.UserID, claim.MediaID, claim.MediaTitle, claim.ChannelID, claim.ChannelName,
		claim.DurationSec, claim.WatchStart, claim.WatchEnd, claim.WatchFraction,
		flags, claim.IsValidated, claim.Amount, claim.Status).
		Scan(&claim.ID, &claim.CreatedAt)
}

// ListFailedAttempts returns recent ineligible sessions for abuse review,
// newest first.
func (r *Repository) ListFailedAttempts(ctx context.Context, limit, offset int) ([]models.FailedAttempt, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, user_id, media_id, watch_fraction, flags, reasons, created_at
		 FROM failed_attempts ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.FailedAttempt
	for rows.Next() {
		var a models.FailedAttempt
		var flags, reasons []byte
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.MediaID, &a.WatchFraction, &flags, &reasons, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(flags, &a.Flags); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(reasons, &a.Reasons); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// CountCredited returns how many claims the user has been credited for. Used
// as the durable fallback behind the Redis watched counter.
func (r *Repository) CountCredited(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reward_claims WHERE user_id = $1 AND status = 'credited'`, userID).Scan(&n)
	return n, err
}

// RecordFailedAttempt inserts a failed-attempt row (called from the worker).
func (r *Repository) RecordFailedAttempt(ctx context.Context, a *models.FailedAttempt) error {
	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return err
	}
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO failed_attempts (session_id, user_id, media_id, watch_fraction, flags, reasons)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		a.SessionID, a.UserID, a.MediaID, a.WatchFraction, flags, reasons).
		Scan(&a.ID, &a.CreatedAt)
}
