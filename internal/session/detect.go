package session

import (
	"time"

	"github.com/aura-rewards/backend/internal/models"
)

// Config holds the anti-cheat thresholds and session timing knobs.
type Config struct {
	SeekThreshold   float64 // seconds; forward jump must exceed this (exclusive)
	SeekSlack       float64 // seconds past last safe time the jump must land
	PauseEpisodeMax time.Duration
	PauseCountMax   int
	PauseTotalMax   time.Duration
	MinFraction     float64
	AutoAdvance     time.Duration
	CloseDelay      time.Duration
	StaleAfter      time.Duration
}

// DefaultConfig mirrors the product thresholds: 5s seek, 2s slack, 30s/5x/120s
// pause limits, 90% watch fraction, 5s auto-advance, 3s close delay.
func DefaultConfig() Config {
	return Config{
		SeekThreshold:   5,
		SeekSlack:       2,
		PauseEpisodeMax: 30 * time.Second,
		PauseCountMax:   5,
		PauseTotalMax:   120 * time.Second,
		MinFraction:     0.9,
		AutoAdvance:     5 * time.Second,
		CloseDelay:      3 * time.Second,
		StaleAfter:      30 * time.Minute,
	}
}

// Observation is one player telemetry report.
type Observation struct {
	CurrentTime float64
	Duration    float64
	Rate        float64
	State       models.PlayerState
	At          time.Time
}

// Command instructs the client player to correct its state.
type Command struct {
	Action string  `json:"action"` // pause | play | seek | set_rate | confirm_leave
	Value  float64 `json:"value,omitempty"`
}

// Intent is a state transition proposed by a detector. Detectors never mutate
// the session; the engine applies intents under the session lock, where
// already-watched prompt suppression also happens.
type Intent struct {
	Flag     models.PromptKind      // violation to flag; empty means none
	Prompt   *models.ConsentPrompt  // prompt to raise (suppressed when already watched)
	Commands []Command              // player corrections, applied unconditionally
	Pauses   *models.PauseStats     // replacement pause bookkeeping, when it changed
}

// DetectSeek flags a forward jump that exceeds the threshold and lands beyond
// the safe time plus slack. Idempotent: a session already flagged produces no
// further intent, and a no-jump sample never touches the safe-time pointer
// beyond the sampled position.
func DetectSeek(s *models.WatchSession, obs Observation, cfg Config) *Intent {
	if s.Flags.Seeked {
		return nil
	}
	jump := obs.CurrentTime - s.SafeTimeSec
	if jump > cfg.SeekThreshold && obs.CurrentTime > s.SafeTimeSec+cfg.SeekSlack {
		return &Intent{
			Flag:   models.PromptSeek,
			Prompt: seekPrompt(s.SafeTimeSec, obs.CurrentTime, obs.At),
		}
	}
	return nil
}

// DetectSpeed fires when playback rate exceeds 1x. The rate correction is a
// side effect sent even when the flag is already set; the prompt is raised
// once per session.
func DetectSpeed(s *models.WatchSession, obs Observation, _ Config) *Intent {
	if obs.Rate <= 1 {
		return nil
	}
	intent := &Intent{
		Commands: []Command{{Action: "set_rate", Value: 1}},
	}
	if !s.Flags.SpeedChanged {
		intent.Flag = models.PromptSpeed
		intent.Prompt = speedPrompt(obs.Rate, obs.At)
	}
	return intent
}

// DetectPause tracks pause episodes via player state transitions. An episode
// opens on playing→paused and closes on paused→playing; closing an episode
// checks the three limits. Once flagged, later cycles keep the bookkeeping
// but never re-prompt.
func DetectPause(s *models.WatchSession, obs Observation, cfg Config) *Intent {
	switch {
	case obs.State == models.PlayerPaused && s.PlayerState != models.PlayerPaused:
		if s.Pauses.OpenedAt != nil {
			return nil
		}
		opened := obs.At
		next := s.Pauses
		next.Count++
		next.OpenedAt = &opened
		return &Intent{Pauses: &next}

	case obs.State == models.PlayerPlaying && s.PlayerState == models.PlayerPaused:
		if s.Pauses.OpenedAt == nil {
			return nil
		}
		episode := obs.At.Sub(*s.Pauses.OpenedAt).Seconds()
		next := s.Pauses
		next.TotalSec += episode
		next.OpenedAt = nil
		intent := &Intent{Pauses: &next}
		if !s.Flags.PauseDetected &&
			(episode > cfg.PauseEpisodeMax.Seconds() ||
				next.Count > cfg.PauseCountMax ||
				next.TotalSec > cfg.PauseTotalMax.Seconds()) {
			intent.Flag = models.PromptPause
			intent.Prompt = pausePrompt(next.Count, next.TotalSec, obs.At)
		}
		return intent
	}
	return nil
}

// DetectTab handles the page going hidden. Pausing the player is
// unconditional and precedes the already-watched check the engine applies to
// the prompt. Fires once per session; tab switches do not move the playhead,
// so no position is captured.
func DetectTab(s *models.WatchSession, at time.Time) *Intent {
	intent := &Intent{
		Commands: []Command{{Action: "pause"}},
	}
	if !s.Flags.TabSwitched {
		intent.Flag = models.PromptTab
		intent.Prompt = tabPrompt(at)
	}
	return intent
}

// DetectUnload handles the browser unload/refresh signal. The player is
// paused and the client is told to show the native leave confirmation; a
// "proceed" resolution tears the session down.
func DetectUnload(s *models.WatchSession, at time.Time) *Intent {
	intent := &Intent{
		Commands: []Command{{Action: "pause"}, {Action: "confirm_leave"}},
	}
	if !s.Flags.RefreshDetected {
		intent.Flag = models.PromptRefresh
		intent.Prompt = refreshPrompt(at)
	}
	return intent
}
