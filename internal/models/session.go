package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a watch session.
type SessionState string

const (
	SessionIdle     SessionState = "idle"
	SessionWatching SessionState = "watching"
	SessionEnded    SessionState = "ended"
	SessionSettled  SessionState = "settled"
)

// PlayerState is the last reported state of the client player.
type PlayerState string

const (
	PlayerPlaying PlayerState = "playing"
	PlayerPaused  PlayerState = "paused"
	PlayerEnded   PlayerState = "ended"
)

// ViolationFlags is the fixed set of anti-cheat booleans for one session.
// Once set, a flag is only cleared by the matching "stay and earn" consent
// resolution, never by the passage of time.
type ViolationFlags struct {
	Seeked          bool `json:"seeked"`
	SpeedChanged    bool `json:"speed_changed"`
	TabSwitched     bool `json:"tab_switched"`
	RefreshDetected bool `json:"refresh_detected"`
	PauseDetected   bool `json:"pause_detected"`
}

// Any reports whether at least one flag is set.
func (f ViolationFlags) Any() bool {
	return f.Seeked || f.SpeedChanged || f.TabSwitched || f.RefreshDetected || f.PauseDetected
}

// List returns the names of the set flags, in a fixed order.
func (f ViolationFlags) List() []string {
	var out []string
	if f.Seeked {
		out = append(out, "seeked")
	}
	if f.SpeedChanged {
		out = append(out, "speed_changed")
	}
	if f.TabSwitched {
		out = append(out, "tab_switched")
	}
	if f.RefreshDetected {
		out = append(out, "refresh_detected")
	}
	if f.PauseDetected {
		out = append(out, "pause_detected")
	}
	return out
}

// PauseStats is the pause bookkeeping for one session. OpenedAt is non-nil
// exactly while the player is paused and a pause episode is open.
type PauseStats struct {
	Count    int        `json:"count"`
	TotalSec float64    `json:"total_sec"`
	OpenedAt *time.Time `json:"opened_at,omitempty"`
}

// PromptKind identifies which violation a consent prompt describes.
type PromptKind string

const (
	PromptSeek    PromptKind = "seek"
	PromptSpeed   PromptKind = "speed"
	PromptPause   PromptKind = "pause"
	PromptTab     PromptKind = "tab"
	PromptRefresh PromptKind = "refresh"
)

// ConsentPrompt is one unresolved violation awaiting a user choice between
// "stay and earn" and "proceed anyway".
type ConsentPrompt struct {
	Kind     PromptKind `json:"kind"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	SafeTime float64    `json:"safe_time"`          // pre-violation playhead, used for seek revert
	JumpTo   float64    `json:"jump_to,omitempty"`  // seek destination, accepted on "proceed"
	RaisedAt time.Time  `json:"raised_at"`
}

// WatchSession is one watch attempt of one media item, from open to settlement.
type WatchSession struct {
	ID             uuid.UUID      `json:"id"`
	UserID         *uuid.UUID     `json:"user_id,omitempty"` // nil for anonymous viewers
	MediaID        uuid.UUID      `json:"media_id"`
	MediaTitle     string         `json:"media_title"`
	ChannelID      string         `json:"channel_id"`
	ChannelName    string         `json:"channel_name"`
	State          SessionState   `json:"state"`
	PlayerState    PlayerState    `json:"player_state"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	LastSampleAt   time.Time      `json:"last_sample_at"`
	SafeTimeSec    float64        `json:"safe_time_sec"` // last known legitimate playhead
	DurationSec    float64        `json:"duration_sec"`
	Progress       float64        `json:"progress"` // 0..1, monotonic unless a seek is accepted
	Flags          ViolationFlags `json:"flags"`
	Pauses         PauseStats     `json:"pauses"`
	AlreadyWatched bool           `json:"already_watched"` // prior successful claim exists for this user+media
	Completed      bool           `json:"completed"`       // player reported natural "ended"
}

// Eligible reports whether the session qualifies for a reward claim.
func (s *WatchSession) Eligible(minFraction float64) bool {
	return !s.Flags.Any() && s.Progress >= minFraction
}
