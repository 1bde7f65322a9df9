package models

import (
	"time"

	"github.com/google/uuid"
)

// MediaItem is one watchable video in the hub catalog.
type MediaItem struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	ChannelID    string    `json:"channel_id"`
	ChannelName  string    `json:"channel_name"`
	DurationSec  float64   `json:"duration_sec"`
	S3Key        string    `json:"-"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Position     int       `json:"position"` // ordering within the hub playlist
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
