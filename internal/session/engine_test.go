package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-rewards/backend/internal/models"
)

type fakeCatalog struct {
	mu    sync.Mutex
	items []models.MediaItem
}

func (c *fakeCatalog) GetByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			item := c.items[i]
			return &item, nil
		}
	}
	return nil, nil
}

func (c *fakeCatalog) Next(ctx context.Context, afterID uuid.UUID) (*models.MediaItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == afterID && i+1 < len(c.items) {
			item := c.items[i+1]
			return &item, nil
		}
	}
	return nil, nil
}

type engineFixture struct {
	*settleFixture
	engine  *Engine
	catalog *fakeCatalog
	media   models.MediaItem
}

func newEngineFixture(t *testing.T, tweak func(*Config)) *engineFixture {
	t.Helper()
	sf := newSettleFixture()
	cfg := DefaultConfig()
	cfg.AutoAdvance = 50 * time.Millisecond
	cfg.CloseDelay = 24 * time.Hour // keep settled sessions around unless a test wants teardown
	if tweak != nil {
		tweak(&cfg)
	}
	item := models.MediaItem{
		ID:          uuid.New(),
		Title:       "Deep Sea Documentary",
		DurationSec: 300,
		Active:      true,
	}
	catalog := &fakeCatalog{items: []models.MediaItem{item}}
	engine := NewEngine(cfg, catalog, sf.history, sf.settler, sf.broadcaster, nil)
	return &engineFixture{settleFixture: sf, engine: engine, catalog: catalog, media: item}
}

func (f *engineFixture) sample(t *testing.T, id uuid.UUID, currentTime float64, state models.PlayerState) {
	t.Helper()
	err := f.engine.Sample(id, Observation{
		CurrentTime: currentTime,
		Duration:    f.media.DurationSec,
		Rate:        1,
		State:       state,
		At:          time.Now(),
	})
	require.NoError(t, err)
}

func TestOpenLoadsAlreadyWatched(t *testing.T) {
	f := newEngineFixture(t, nil)
	userID := uuid.New()
	f.history.watched[f.media.ID] = true

	sess, err := f.engine.Open(context.Background(), &userID, f.media.ID, false)
	require.NoError(t, err)
	assert.True(t, sess.AlreadyWatched)
	assert.Equal(t, models.SessionWatching, sess.State)
}

func TestOpenUnknownMedia(t *testing.T) {
	f := newEngineFixture(t, nil)
	_, err := f.engine.Open(context.Background(), nil, uuid.New(), false)
	assert.ErrorIs(t, err, ErrMediaNotFound)
}

func TestOpenHistoryFailureFailsOpen(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.history.watchedErr = assert.AnError
	userID := uuid.New()

	sess, err := f.engine.Open(context.Background(), &userID, f.media.ID, false)
	require.NoError(t, err)
	assert.False(t, sess.AlreadyWatched)
}

func TestCleanWatchAdvancesSafeTime(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, err := f.engine.Open(context.Background(), nil, f.media.ID, false)
	require.NoError(t, err)

	for _, ct := range []float64{1, 2, 3, 4.5} {
		f.sample(t, sess.ID, ct, models.PlayerPlaying)
	}

	snap, prompt, err := f.engine.Get(sess.ID)
	require.NoError(t, err)
	assert.Nil(t, prompt)
	assert.Equal(t, 4.5, snap.SafeTimeSec)
	assert.InDelta(t, 4.5/300, snap.Progress, 1e-9)
	assert.False(t, snap.Flags.Any())
}

func TestSeekRaisesPromptAndFreezesSafeTime(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)

	f.sample(t, sess.ID, 10, models.PlayerPlaying)
	f.sample(t, sess.ID, 60, models.PlayerPlaying) // jump of 50s

	snap, prompt, err := f.engine.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, snap.Flags.Seeked)
	require.NotNil(t, prompt)
	assert.Equal(t, models.PromptSeek, prompt.Kind)
	assert.Equal(t, 10.0, prompt.SafeTime)
	assert.Equal(t, 60.0, prompt.JumpTo)
	assert.Equal(t, 10.0, snap.SafeTimeSec, "safe time frozen at pre-jump position")
	assert.Len(t, f.broadcaster.named("consent_prompt"), 1)

	// further playback past the jump must not launder the safe time
	f.sample(t, sess.ID, 65, models.PlayerPlaying)
	snap, _, _ = f.engine.Get(sess.ID)
	assert.Equal(t, 10.0, snap.SafeTimeSec)
}

func TestSeekStayRevertsAndClearsFlag(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)
	f.sample(t, sess.ID, 10, models.PlayerPlaying)
	f.sample(t, sess.ID, 60, models.PlayerPlaying)

	require.NoError(t, f.engine.Resolve(sess.ID, true))

	snap, prompt, _ := f.engine.Get(sess.ID)
	assert.Nil(t, prompt)
	assert.False(t, snap.Flags.Seeked)
	assert.Equal(t, 10.0, snap.SafeTimeSec)

	var seekCmd *Command
	for _, e := range f.broadcaster.named("player_command") {
		cmd := e.Payload.(Command)
		if cmd.Action == "seek" {
			seekCmd = &cmd
		}
	}
	require.NotNil(t, seekCmd, "player told to seek back")
	assert.Equal(t, 10.0, seekCmd.Value)
}

func TestSeekProceedKeepsFlagAndAcceptsJump(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)
	f.sample(t, sess.ID, 10, models.PlayerPlaying)
	f.sample(t, sess.ID, 60, models.PlayerPlaying)

	require.NoError(t, f.engine.Resolve(sess.ID, false))

	snap, prompt, _ := f.engine.Get(sess.ID)
	assert.Nil(t, prompt)
	assert.True(t, snap.Flags.Seeked, "proceeding keeps the flag")
	assert.Equal(t, 60.0, snap.SafeTimeSec, "jump destination accepted")
	assert.InDelta(t, 60.0/300, snap.Progress, 1e-9, "jump credited only on proceed")
}

func TestFirstSampleSetsBaseline(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, err := f.engine.Open(context.Background(), nil, f.media.ID, false)
	require.NoError(t, err)

	// a player resuming mid-video reports its position before any playback;
	// that position is the baseline, not a jump from zero
	f.sample(t, sess.ID, 10, models.PlayerPlaying)

	snap, prompt, err := f.engine.Get(sess.ID)
	require.NoError(t, err)
	assert.Nil(t, prompt)
	assert.False(t, snap.Flags.Seeked)
	assert.Equal(t, 10.0, snap.SafeTimeSec)
	assert.InDelta(t, 10.0/300, snap.Progress, 1e-9)
}

func TestSeekStayDiscardsJumpedProgress(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)
	f.sample(t, sess.ID, 10, models.PlayerPlaying)
	f.sample(t, sess.ID, 280, models.PlayerPlaying)

	snap, _, _ := f.engine.Get(sess.ID)
	assert.InDelta(t, 10.0/300, snap.Progress, 1e-9, "progress frozen while the jump is unresolved")

	require.NoError(t, f.engine.Resolve(sess.ID, true))

	snap, _, _ = f.engine.Get(sess.ID)
	assert.False(t, snap.Flags.Seeked)
	assert.Equal(t, 10.0, snap.SafeTimeSec)
	assert.InDelta(t, 10.0/300, snap.Progress, 1e-9, "staying discards the jumped-over stretch")
}

func TestEndedFrameAfterJumpIsFlagged(t *testing.T) {
	f := newEngineFixture(t, nil)
	userID := uuid.New()
	sess, _ := f.engine.Open(context.Background(), &userID, f.media.ID, false)

	f.sample(t, sess.ID, 1, models.PlayerPlaying)
	f.sample(t, sess.ID, 300, models.PlayerEnded) // dragging the scrubber to the end

	require.Eventually(t, func() bool {
		return len(f.broadcaster.named("session_rejected")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap, _, _ := f.engine.Get(sess.ID)
	assert.True(t, snap.Flags.Seeked)
	assert.InDelta(t, 1.0/300, snap.Progress, 1e-9, "jump to the end earns no progress")
	assert.Empty(t, f.broadcaster.named("reward_earned"))
	assert.Zero(t, f.counter.value())
}

func TestResolveWithoutPrompt(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)
	assert.ErrorIs(t, f.engine.Resolve(sess.ID, true), ErrNoActivePrompt)
}

func TestSpeedViolationForcesRateBack(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)

	err := f.engine.Sample(sess.ID, Observation{
		CurrentTime: 5, Duration: 300, Rate: 2, State: models.PlayerPlaying, At: time.Now(),
	})
	require.NoError(t, err)

	snap, prompt, _ := f.engine.Get(sess.ID)
	assert.True(t, snap.Flags.SpeedChanged)
	require.NotNil(t, prompt)
	assert.Equal(t, models.PromptSpeed, prompt.Kind)

	cmds := f.broadcaster.named("player_command")
	require.NotEmpty(t, cmds)
	assert.Equal(t, Command{Action: "set_rate", Value: 1}, cmds[0].Payload.(Command))
}

func TestTabHiddenPausesAndPrompts(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)

	require.NoError(t, f.engine.Visibility(sess.ID, true))

	snap, prompt, _ := f.engine.Get(sess.ID)
	assert.True(t, snap.Flags.TabSwitched)
	require.NotNil(t, prompt)
	assert.Equal(t, models.PromptTab, prompt.Kind)

	cmds := f.broadcaster.named("player_command")
	require.NotEmpty(t, cmds)
	assert.Equal(t, "pause", cmds[0].Payload.(Command).Action)

	// becoming visible again is not a violation
	require.NoError(t, f.engine.Visibility(sess.ID, false))
	snap, _, _ = f.engine.Get(sess.ID)
	assert.True(t, snap.Flags.TabSwitched)
}

func TestAlreadyWatchedSuppressesPromptsNotCommands(t *testing.T) {
	f := newEngineFixture(t, nil)
	userID := uuid.New()
	f.history.watched[f.media.ID] = true
	sess, _ := f.engine.Open(context.Background(), &userID, f.media.ID, false)

	require.NoError(t, f.engine.Visibility(sess.ID, true))

	snap, prompt, _ := f.engine.Get(sess.ID)
	assert.True(t, snap.Flags.TabSwitched, "flag still recorded")
	assert.Nil(t, prompt, "no dialog for a session that cannot earn")
	assert.Empty(t, f.broadcaster.named("consent_prompt"))
	require.NotEmpty(t, f.broadcaster.named("player_command"), "player still paused")
}

func TestQueuedPromptsResolveInOrder(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)

	f.sample(t, sess.ID, 10, models.PlayerPlaying)
	f.sample(t, sess.ID, 60, models.PlayerPlaying) // seek
	require.NoError(t, f.engine.Visibility(sess.ID, true))

	_, prompt, _ := f.engine.Get(sess.ID)
	require.NotNil(t, prompt)
	assert.Equal(t, models.PromptSeek, prompt.Kind)

	require.NoError(t, f.engine.Resolve(sess.ID, true))
	_, prompt, _ = f.engine.Get(sess.ID)
	require.NotNil(t, prompt, "tab prompt surfaces next")
	assert.Equal(t, models.PromptTab, prompt.Kind)

	require.NoError(t, f.engine.Resolve(sess.ID, true))
	snap, prompt, _ := f.engine.Get(sess.ID)
	assert.Nil(t, prompt)
	assert.False(t, snap.Flags.Any())
}

func TestEndedSessionSettles(t *testing.T) {
	f := newEngineFixture(t, nil)
	userID := uuid.New()
	sess, _ := f.engine.Open(context.Background(), &userID, f.media.ID, false)

	f.sample(t, sess.ID, 295, models.PlayerPlaying)
	f.sample(t, sess.ID, 300, models.PlayerEnded)

	require.Eventually(t, func() bool {
		snap, _, err := f.engine.Get(sess.ID)
		return err == nil && snap.State == models.SessionSettled
	}, 2*time.Second, 10*time.Millisecond)

	snap, _, _ := f.engine.Get(sess.ID)
	assert.True(t, snap.Completed)
	assert.NotEmpty(t, f.broadcaster.named("reward_earned"))
	assert.Equal(t, 1, f.counter.value())
}

func TestEndedIneligibleSessionRejected(t *testing.T) {
	f := newEngineFixture(t, nil)
	userID := uuid.New()
	sess, _ := f.engine.Open(context.Background(), &userID, f.media.ID, false)

	f.sample(t, sess.ID, 10, models.PlayerPlaying)
	f.sample(t, sess.ID, 60, models.PlayerPlaying) // seek flag
	f.sample(t, sess.ID, 300, models.PlayerEnded)

	require.Eventually(t, func() bool {
		return len(f.broadcaster.named("session_rejected")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.broadcaster.named("reward_earned"))
	require.Len(t, f.jobs.attempts, 1)
	assert.Equal(t, []string{"seeked"}, f.jobs.attempts[0].Attempt.Reasons)
}

func TestAutoAdvanceCountdownLoadsNextItem(t *testing.T) {
	f := newEngineFixture(t, nil)
	next := models.MediaItem{ID: uuid.New(), Title: "Coral Reefs", DurationSec: 240, Active: true}
	f.catalog.mu.Lock()
	f.catalog.items = append(f.catalog.items, next)
	f.catalog.mu.Unlock()

	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, true)
	f.sample(t, sess.ID, 300, models.PlayerEnded)

	require.Eventually(t, func() bool {
		return len(f.broadcaster.named("countdown_started")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, _, err := f.engine.Get(sess.ID)
		return err == nil && snap.MediaID == next.ID
	}, 2*time.Second, 10*time.Millisecond)

	snap, _, _ := f.engine.Get(sess.ID)
	assert.Equal(t, models.SessionWatching, snap.State)
	assert.False(t, snap.Flags.Any())
	assert.Zero(t, snap.Progress)
	assert.False(t, snap.Completed)
}

func TestCancelCountdownKeepsCurrentItem(t *testing.T) {
	f := newEngineFixture(t, func(cfg *Config) { cfg.AutoAdvance = 80 * time.Millisecond })
	next := models.MediaItem{ID: uuid.New(), Title: "Coral Reefs", DurationSec: 240, Active: true}
	f.catalog.mu.Lock()
	f.catalog.items = append(f.catalog.items, next)
	f.catalog.mu.Unlock()

	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, true)
	f.sample(t, sess.ID, 300, models.PlayerEnded)

	require.Eventually(t, func() bool {
		return len(f.broadcaster.named("countdown_started")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.engine.CancelCountdown(sess.ID))

	time.Sleep(150 * time.Millisecond)
	snap, _, err := f.engine.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, f.media.ID, snap.MediaID, "countdown cancelled, item unchanged")
}

func TestNextAtEndOfPlaylist(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)

	_, err := f.engine.Next(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrNoNextItem)
}

func TestCloseUnfinishedRequiresConfirmation(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)
	f.sample(t, sess.ID, 30, models.PlayerPlaying)

	assert.ErrorIs(t, f.engine.Close(sess.ID, false), ErrConfirmRequired)

	require.NoError(t, f.engine.Close(sess.ID, true))
	_, _, err := f.engine.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NotEmpty(t, f.broadcaster.named("session_closed"))
}

func TestUnloadProceedTearsDown(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)
	f.sample(t, sess.ID, 30, models.PlayerPlaying)

	require.NoError(t, f.engine.Unload(sess.ID))
	_, prompt, _ := f.engine.Get(sess.ID)
	require.NotNil(t, prompt)
	assert.Equal(t, models.PromptRefresh, prompt.Kind)

	require.NoError(t, f.engine.Resolve(sess.ID, false))
	_, _, err := f.engine.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUnloadStayKeepsSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, _ := f.engine.Open(context.Background(), nil, f.media.ID, false)
	f.sample(t, sess.ID, 30, models.PlayerPlaying)

	require.NoError(t, f.engine.Unload(sess.ID))
	require.NoError(t, f.engine.Resolve(sess.ID, true))

	snap, _, err := f.engine.Get(sess.ID)
	require.NoError(t, err)
	assert.False(t, snap.Flags.RefreshDetected)
}
