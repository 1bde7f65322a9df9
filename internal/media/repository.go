package media

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-rewards/backend/internal/models"
)

// Repository handles the media catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a media repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const mediaColumns = `id, title, channel_id, channel_name, duration_sec, s3_key,
	COALESCE(thumbnail_url,''), position, active, created_at, updated_at`

func scanMedia(row pgx.Row) (*models.MediaItem, error) {
	var m models.MediaItem
	err := row.Scan(&m.ID, &m.Title, &m.ChannelID, &m.ChannelName, &m.DurationSec,
		&m.S3Key, &m.ThumbnailURL, &m.Position, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByID returns one media item, or nil when not found.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	m, err := scanMedia(r.pool.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// List returns active media items in playlist order.
func (r *Repository) List(ctx context.Context) ([]models.MediaItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+mediaColumns+` FROM media_items WHERE active ORDER BY position, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.MediaItem
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// Next returns the active item that follows the given one in playlist order,
// or nil when the given item is last. Feeds the auto-advance queue.
func (r *Repository) Next(ctx context.Context, afterID uuid.UUID) (*models.MediaItem, error) {
	m, err := scanMedia(r.pool.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media_items
		 WHERE active AND (position, created_at) > (SELECT position, created_at FROM media_items WHERE id = $1)
		 ORDER BY position, created_at LIMIT 1`, afterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}
