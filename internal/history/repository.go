package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-rewards/backend/internal/models"
)

// Repository handles watch history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByUser returns one page of a user's watch history, newest first,
// plus the total row count.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WatchRecord, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM watch_history WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, media_id, media_title, amount, watched_at
		 FROM watch_history WHERE user_id = $1 ORDER BY watched_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []models.WatchRecord
	for rows.Next() {
		var rec models.WatchRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.MediaID, &rec.MediaTitle, &rec.Amount, &rec.WatchedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, rec)
	}
	return list, total, rows.Err()
}

// Record appends one history row after a credited claim.
func (r *Repository) Record(ctx context.Context, rec *models.WatchRecord) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO watch_history (user_id, media_id, media_title, amount)
		 VALUES ($1, $2, $3, $4) RETURNING id, watched_at`,
		rec.UserID, rec.MediaID, rec.MediaTitle, rec.Amount).Scan(&rec.ID, &rec.WatchedAt)
}

// AlreadyWatched reports whether the user already has a successful claim for
// this media. The primary lookup scans watch history; on failure it falls
// back to a cheaper probe against credited claims. When both fail the error
// is returned and the caller decides the default.
func (r *Repository) AlreadyWatched(ctx context.Context, userID, mediaID uuid.UUID) (bool, error) {
	var watched bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM watch_history WHERE user_id = $1 AND media_id = $2)`,
		userID, mediaID).Scan(&watched)
	if err == nil {
		return watched, nil
	}
	probeErr := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM reward_claims WHERE user_id = $1 AND media_id = $2 AND status = 'credited')`,
		userID, mediaID).Scan(&watched)
	if probeErr == nil {
		return watched, nil
	}
	return false, fmt.Errorf("history lookup: %w (probe: %v)", err, probeErr)
}

// WatchedCount returns the number of distinct media the user has been
// credited for.
func (r *Repository) WatchedCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT media_id) FROM watch_history WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}
