package models

import (
	"time"

	"github.com/google/uuid"
)

// Claim outcome classes distinguished by the settlement path.
const (
	ClaimStatusPending   = "pending"
	ClaimStatusCredited  = "credited"
	ClaimStatusDuplicate = "duplicate"
	ClaimStatusFailed    = "failed"
)

// RewardClaim is a reward claim submitted for one completed, validated session.
type RewardClaim struct {
	ID            uuid.UUID      `json:"id"`
	UserID        uuid.UUID      `json:"user_id"`
	MediaID       uuid.UUID      `json:"media_id"`
	MediaTitle    string         `json:"media_title"`
	ChannelID     string         `json:"channel_id"`
	ChannelName   string         `json:"channel_name"`
	DurationSec   float64        `json:"duration_sec"`
	WatchStart    time.Time      `json:"watch_start"`
	WatchEnd      time.Time      `json:"watch_end"`
	WatchFraction float64        `json:"watch_fraction"`
	Flags         ViolationFlags `json:"flags"`
	IsValidated   bool           `json:"is_validated"`
	Amount        float64        `json:"amount"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}

// FailedAttempt records a session that ended ineligible, for abuse analytics.
// Persistence is best-effort and never blocks settlement.
type FailedAttempt struct {
	ID            uuid.UUID      `json:"id"`
	SessionID     uuid.UUID      `json:"session_id"`
	UserID        *uuid.UUID     `json:"user_id,omitempty"`
	MediaID       uuid.UUID      `json:"media_id"`
	WatchFraction float64        `json:"watch_fraction"`
	Flags         ViolationFlags `json:"flags"`
	Reasons       []string       `json:"reasons"`
	CreatedAt     time.Time      `json:"created_at"`
}

// WatchRecord is one row of a user's watch history.
type WatchRecord struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	MediaID    uuid.UUID `json:"media_id"`
	MediaTitle string    `json:"media_title"`
	Amount     float64   `json:"amount"`
	WatchedAt  time.Time `json:"watched_at"`
}
