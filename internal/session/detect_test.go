package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-rewards/backend/internal/models"
)

func watchingSession() *models.WatchSession {
	return &models.WatchSession{
		State:       models.SessionWatching,
		PlayerState: models.PlayerPlaying,
		DurationSec: 300,
	}
}

func TestDetectSeekThresholdIsExclusive(t *testing.T) {
	cfg := DefaultConfig()
	s := watchingSession()
	s.SafeTimeSec = 10

	// a jump of exactly the threshold does not fire
	intent := DetectSeek(s, Observation{CurrentTime: 15, At: time.Now()}, cfg)
	assert.Nil(t, intent)

	// just over the threshold does
	intent = DetectSeek(s, Observation{CurrentTime: 15.1, At: time.Now()}, cfg)
	require.NotNil(t, intent)
	assert.Equal(t, models.PromptSeek, intent.Flag)
	require.NotNil(t, intent.Prompt)
	assert.Equal(t, 10.0, intent.Prompt.SafeTime)
	assert.Equal(t, 15.1, intent.Prompt.JumpTo)
}

func TestDetectSeekRequiresLandingBeyondSlack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeekThreshold = 1
	s := watchingSession()
	s.SafeTimeSec = 10

	// jump exceeds the threshold but lands within the slack window
	intent := DetectSeek(s, Observation{CurrentTime: 11.5, At: time.Now()}, cfg)
	assert.Nil(t, intent)

	intent = DetectSeek(s, Observation{CurrentTime: 12.5, At: time.Now()}, cfg)
	assert.NotNil(t, intent)
}

func TestDetectSeekIdempotentOnceFlagged(t *testing.T) {
	cfg := DefaultConfig()
	s := watchingSession()
	s.Flags.Seeked = true

	intent := DetectSeek(s, Observation{CurrentTime: 100, At: time.Now()}, cfg)
	assert.Nil(t, intent)
}

func TestDetectSpeed(t *testing.T) {
	cfg := DefaultConfig()
	s := watchingSession()

	assert.Nil(t, DetectSpeed(s, Observation{Rate: 1, At: time.Now()}, cfg))
	assert.Nil(t, DetectSpeed(s, Observation{Rate: 0.5, At: time.Now()}, cfg))

	intent := DetectSpeed(s, Observation{Rate: 2, At: time.Now()}, cfg)
	require.NotNil(t, intent)
	assert.Equal(t, models.PromptSpeed, intent.Flag)
	require.Len(t, intent.Commands, 1)
	assert.Equal(t, Command{Action: "set_rate", Value: 1}, intent.Commands[0])

	// once flagged the correction is still sent, the prompt is not re-raised
	s.Flags.SpeedChanged = true
	intent = DetectSpeed(s, Observation{Rate: 1.5, At: time.Now()}, cfg)
	require.NotNil(t, intent)
	assert.Empty(t, intent.Flag)
	assert.Nil(t, intent.Prompt)
	assert.Len(t, intent.Commands, 1)
}

func TestDetectPauseShortEpisodeNoFlag(t *testing.T) {
	cfg := DefaultConfig()
	s := watchingSession()
	start := time.Now()

	intent := DetectPause(s, Observation{State: models.PlayerPaused, At: start}, cfg)
	require.NotNil(t, intent)
	require.NotNil(t, intent.Pauses)
	assert.Equal(t, 1, intent.Pauses.Count)
	require.NotNil(t, intent.Pauses.OpenedAt)
	s.Pauses = *intent.Pauses
	s.PlayerState = models.PlayerPaused

	intent = DetectPause(s, Observation{State: models.PlayerPlaying, At: start.Add(10 * time.Second)}, cfg)
	require.NotNil(t, intent)
	assert.Empty(t, intent.Flag)
	assert.Nil(t, intent.Pauses.OpenedAt)
	assert.InDelta(t, 10, intent.Pauses.TotalSec, 0.01)
}

func TestDetectPauseLongEpisodeFlags(t *testing.T) {
	cfg := DefaultConfig()
	s := watchingSession()
	start := time.Now()

	s.Pauses = *DetectPause(s, Observation{State: models.PlayerPaused, At: start}, cfg).Pauses
	s.PlayerState = models.PlayerPaused

	intent := DetectPause(s, Observation{State: models.PlayerPlaying, At: start.Add(31 * time.Second)}, cfg)
	require.NotNil(t, intent)
	assert.Equal(t, models.PromptPause, intent.Flag)
	require.NotNil(t, intent.Prompt)
}

func TestDetectPauseCountLimit(t *testing.T) {
	cfg := DefaultConfig()
	s := watchingSession()
	at := time.Now()

	var flagged bool
	for i := 0; i < 6; i++ {
		open := DetectPause(s, Observation{State: models.PlayerPaused, At: at}, cfg)
		require.NotNil(t, open)
		s.Pauses = *open.Pauses
		s.PlayerState = models.PlayerPaused

		at = at.Add(2 * time.Second)
		closeIntent := DetectPause(s, Observation{State: models.PlayerPlaying, At: at}, cfg)
		require.NotNil(t, closeIntent)
		s.Pauses = *closeIntent.Pauses
		s.PlayerState = models.PlayerPlaying
		if closeIntent.Flag == models.PromptPause {
			flagged = true
			s.Flags.PauseDetected = true
			assert.Equal(t, 6, closeIntent.Pauses.Count, "should flag on the sixth episode")
		}
		at = at.Add(time.Second)
	}
	assert.True(t, flagged)
}

func TestDetectPauseCumulativeLimit(t *testing.T) {
	cfg := DefaultConfig()
	s := watchingSession()
	s.Pauses = models.PauseStats{Count: 2, TotalSec: 100}
	start := time.Now()

	s.Pauses = *DetectPause(s, Observation{State: models.PlayerPaused, At: start}, cfg).Pauses
	s.PlayerState = models.PlayerPaused

	// 25s episode: under the episode limit, but cumulative crosses 120s
	intent := DetectPause(s, Observation{State: models.PlayerPlaying, At: start.Add(25 * time.Second)}, cfg)
	require.NotNil(t, intent)
	assert.Equal(t, models.PromptPause, intent.Flag)
	assert.InDelta(t, 125, intent.Pauses.TotalSec, 0.01)
}

func TestDetectPauseNoRepromptOnceFlagged(t *testing.T) {
	cfg := DefaultConfig()
	s := watchingSession()
	s.Flags.PauseDetected = true
	start := time.Now()

	s.Pauses = *DetectPause(s, Observation{State: models.PlayerPaused, At: start}, cfg).Pauses
	s.PlayerState = models.PlayerPaused

	intent := DetectPause(s, Observation{State: models.PlayerPlaying, At: start.Add(60 * time.Second)}, cfg)
	require.NotNil(t, intent)
	assert.Empty(t, intent.Flag)
	assert.Nil(t, intent.Prompt)
	assert.InDelta(t, 60, intent.Pauses.TotalSec, 0.01)
}

func TestDetectTab(t *testing.T) {
	s := watchingSession()

	intent := DetectTab(s, time.Now())
	require.NotNil(t, intent)
	assert.Equal(t, models.PromptTab, intent.Flag)
	require.Len(t, intent.Commands, 1)
	assert.Equal(t, "pause", intent.Commands[0].Action)

	// pause command survives the flag, the prompt does not repeat
	s.Flags.TabSwitched = true
	intent = DetectTab(s, time.Now())
	require.NotNil(t, intent)
	assert.Empty(t, intent.Flag)
	assert.Nil(t, intent.Prompt)
	assert.Len(t, intent.Commands, 1)
}

func TestDetectUnload(t *testing.T) {
	s := watchingSession()

	intent := DetectUnload(s, time.Now())
	require.NotNil(t, intent)
	assert.Equal(t, models.PromptRefresh, intent.Flag)
	require.Len(t, intent.Commands, 2)
	assert.Equal(t, "pause", intent.Commands[0].Action)
	assert.Equal(t, "confirm_leave", intent.Commands[1].Action)
}
