package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-rewards/backend/internal/models"
	"github.com/aura-rewards/backend/internal/realtime"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMediaNotFound   = errors.New("media not found")
	ErrNoActivePrompt  = errors.New("no active prompt")
	ErrConfirmRequired = errors.New("confirmation required to leave without earning")
	ErrNoNextItem      = errors.New("no next item")
	ErrNotWatching     = errors.New("session is not watching")
)

// HistoryLookup resolves the already-watched flag before a session starts.
// Satisfied by *history.Repository.
type HistoryLookup interface {
	AlreadyWatched(ctx context.Context, userID, mediaID uuid.UUID) (bool, error)
}

// MediaCatalog supplies media items and playlist order. Satisfied by
// *media.Repository.
type MediaCatalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)
	Next(ctx context.Context, afterID uuid.UUID) (*models.MediaItem, error)
}

// state is one live session plus its timers. All mutation happens under mu;
// the source this replaces kept the same truth in scattered mutable refs on
// a single UI thread, so a per-session lock is the whole concurrency story.
type state struct {
	mu          sync.Mutex
	sess        *models.WatchSession
	prompts     promptQueue
	autoAdvance bool
	primed      bool // first playing sample seen; it sets the safe-time baseline
	ctx         context.Context // session lifetime; teardown cancels retries and countdowns
	cancel      context.CancelFunc
	countdown   *time.Timer // auto-advance countdown, nil when not running
	closeTimer  *time.Timer
}

// Engine owns all live watch sessions: it runs the detectors over incoming
// telemetry, arbitrates consent prompts, settles ended sessions and drives
// the auto-advance queue.
type Engine struct {
	cfg         Config
	media       MediaCatalog
	history     HistoryLookup
	settler     *Settler
	broadcaster Broadcaster
	logger      *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*state
}

// NewEngine creates a session engine.
func NewEngine(cfg Config, media MediaCatalog, history HistoryLookup, settler *Settler, broadcaster Broadcaster, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:         cfg,
		media:       media,
		history:     history,
		settler:     settler,
		broadcaster: broadcaster,
		logger:      logger,
		sessions:    make(map[uuid.UUID]*state),
	}
}

// Open creates a session for one watch attempt. userID is nil for anonymous
// viewers. The already-watched flag comes from history; on lookup failure the
// session proceeds as not watched and the claim store catches duplicates at
// settlement.
func (e *Engine) Open(ctx context.Context, userID *uuid.UUID, mediaID uuid.UUID, autoAdvance bool) (*models.WatchSession, error) {
	item, err := e.media.GetByID(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrMediaNotFound
	}

	alreadyWatched := false
	if userID != nil {
		watched, err := e.history.AlreadyWatched(ctx, *userID, mediaID)
		if err != nil {
			e.logger.Warn("already-watched lookup failed, assuming not watched",
				zap.Error(err), zap.String("media_id", mediaID.String()))
		} else {
			alreadyWatched = watched
		}
	}

	now := time.Now()
	sess := &models.WatchSession{
		ID:             uuid.New(),
		UserID:         userID,
		MediaID:        item.ID,
		MediaTitle:     item.Title,
		ChannelID:      item.ChannelID,
		ChannelName:    item.ChannelName,
		State:          models.SessionWatching,
		PlayerState:    models.PlayerPlaying,
		StartedAt:      now,
		LastSampleAt:   now,
		DurationSec:    item.DurationSec,
		AlreadyWatched: alreadyWatched,
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	st := &state{sess: sess, autoAdvance: autoAdvance, ctx: sessCtx, cancel: cancel}

	e.mu.Lock()
	e.sessions[sess.ID] = st
	e.mu.Unlock()

	e.logger.Info("session opened",
		zap.String("session_id", sess.ID.String()),
		zap.String("media_id", mediaID.String()),
		zap.Bool("already_watched", alreadyWatched))

	snap := *sess
	return &snap, nil
}

// Get returns a snapshot of the session.
func (e *Engine) Get(sessionID uuid.UUID) (*models.WatchSession, *models.ConsentPrompt, error) {
	st, err := e.lookup(sessionID)
	if err != nil {
		return nil, nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	snap := *st.sess
	var prompt *models.ConsentPrompt
	if p := st.prompts.active(); p != nil {
		cp := *p
		prompt = &cp
	}
	return &snap, prompt, nil
}

// Sample processes one telemetry report: progress bookkeeping, then the
// detectors in fixed order (seek before speed before pause), then the
// safe-time advance. "ended" reports route to settlement.
func (e *Engine) Sample(sessionID uuid.UUID, obs Observation) error {
	st, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.sess
	if sess.State != models.SessionWatching {
		return ErrNotWatching
	}
	if obs.At.IsZero() {
		obs.At = time.Now()
	}
	if obs.State == "" {
		obs.State = sess.PlayerState
	}
	sess.LastSampleAt = obs.At

	if obs.State == models.PlayerEnded {
		// close any open pause episode before settling
		if intent := DetectPause(sess, Observation{State: models.PlayerPlaying, At: obs.At}, e.cfg); intent != nil {
			e.apply(st, intent)
		}
		// an ended frame is still telemetry: a playhead that jumped here
		// gets flagged, and the jump earns no progress. Prompts are moot on
		// a finished session, so only the flags are kept.
		seekIntent := DetectSeek(sess, obs, e.cfg)
		if seekIntent != nil {
			seekIntent.Prompt = nil
		}
		e.apply(st, seekIntent)
		if spdIntent := DetectSpeed(sess, obs, e.cfg); spdIntent != nil {
			spdIntent.Prompt = nil
			e.apply(st, spdIntent)
		}
		if obs.Duration > 0 && seekIntent == nil && st.pendingSeek() == nil {
			e.advanceProgress(sess, obs.CurrentTime, obs.Duration)
		}
		e.endLocked(st, obs.At)
		return nil
	}

	// the first playing sample sets the safe-time baseline; everything after
	// it is measured against that position
	if !st.primed {
		st.primed = true
		if obs.CurrentTime > sess.SafeTimeSec {
			sess.SafeTimeSec = obs.CurrentTime
		}
	}

	seekIntent := DetectSeek(sess, obs, e.cfg)
	e.apply(st, seekIntent)
	e.apply(st, DetectSpeed(sess, obs, e.cfg))
	e.apply(st, DetectPause(sess, obs, e.cfg))

	// a detected jump freezes both the safe time and the progress at their
	// pre-jump values until the prompt resolves; "proceed" credits the jump,
	// "stay" discards it
	seekPending := seekIntent != nil || st.pendingSeek() != nil
	if obs.Duration > 0 {
		sess.DurationSec = obs.Duration
		if !seekPending {
			e.advanceProgress(sess, obs.CurrentTime, obs.Duration)
		}
	}
	if !seekPending && obs.CurrentTime > sess.SafeTimeSec {
		sess.SafeTimeSec = obs.CurrentTime
	}
	sess.PlayerState = obs.State
	return nil
}

// HandleSample implements realtime.TelemetryHandler.
func (e *Engine) HandleSample(sessionID uuid.UUID, frame realtime.SampleFrame) {
	obs := Observation{
		CurrentTime: frame.CurrentTime,
		Duration:    frame.Duration,
		Rate:        frame.Rate,
		State:       models.PlayerState(frame.PlayerState),
		At:          time.Now(),
	}
	if err := e.Sample(sessionID, obs); err != nil && !errors.Is(err, ErrNotWatching) {
		e.logger.Debug("sample dropped", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

// Visibility handles the page going hidden or visible. Only the hidden
// transition matters; the pause side effect applies even for already-watched
// sessions, the prompt does not.
func (e *Engine) Visibility(sessionID uuid.UUID, hidden bool) error {
	st, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	if !hidden {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sess.State != models.SessionWatching {
		return nil
	}
	e.apply(st, DetectTab(st.sess, time.Now()))
	return nil
}

// HandleVisibility implements realtime.TelemetryHandler.
func (e *Engine) HandleVisibility(sessionID uuid.UUID, hidden bool) {
	if err := e.Visibility(sessionID, hidden); err != nil {
		e.logger.Debug("visibility dropped", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

// Unload handles the browser refresh/leave signal.
func (e *Engine) Unload(sessionID uuid.UUID) error {
	st, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sess.State != models.SessionWatching || st.sess.Completed {
		return nil
	}
	e.apply(st, DetectUnload(st.sess, time.Now()))
	return nil
}

// HandleUnload implements realtime.TelemetryHandler.
func (e *Engine) HandleUnload(sessionID uuid.UUID) {
	if err := e.Unload(sessionID); err != nil {
		e.logger.Debug("unload dropped", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

// Resolve applies the user's choice on the active prompt. "stay" clears the
// flag and corrects playback; "proceed" keeps the flag and, for the refresh
// prompt, tears the session down.
func (e *Engine) Resolve(sessionID uuid.UUID, stay bool) error {
	st, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()

	prompt := st.prompts.active()
	if prompt == nil {
		st.mu.Unlock()
		return ErrNoActivePrompt
	}
	sess := st.sess

	teardown := false
	if stay {
		switch prompt.Kind {
		case models.PromptSeek:
			sess.Flags.Seeked = false
			sess.SafeTimeSec = prompt.SafeTime
			e.command(sess.ID, Command{Action: "seek", Value: prompt.SafeTime})
			e.command(sess.ID, Command{Action: "play"})
		case models.PromptSpeed:
			sess.Flags.SpeedChanged = false
			e.command(sess.ID, Command{Action: "play"})
		case models.PromptPause:
			sess.Flags.PauseDetected = false
			e.command(sess.ID, Command{Action: "play"})
		case models.PromptTab:
			sess.Flags.TabSwitched = false
			e.command(sess.ID, Command{Action: "play"})
		case models.PromptRefresh:
			sess.Flags.RefreshDetected = false
			e.command(sess.ID, Command{Action: "play"})
		}
	} else {
		switch prompt.Kind {
		case models.PromptSeek:
			// jump accepted: the safe time moves to the destination
			sess.SafeTimeSec = prompt.JumpTo
			if sess.DurationSec > 0 {
				e.advanceProgress(sess, prompt.JumpTo, sess.DurationSec)
			}
			e.command(sess.ID, Command{Action: "play"})
		case models.PromptRefresh:
			teardown = true
		default:
			e.command(sess.ID, Command{Action: "play"})
		}
	}

	if next := st.prompts.pop(); next != nil {
		e.broadcaster.SendToSession(sess.ID, "consent_prompt", next)
	} else {
		e.broadcaster.SendToSession(sess.ID, "prompt_cleared", map[string]interface{}{"kind": prompt.Kind})
	}
	st.mu.Unlock()

	if teardown {
		e.teardown(sessionID, "refresh")
	}
	return nil
}

// Next returns the upcoming playlist item for this session, or ErrNoNextItem.
func (e *Engine) Next(ctx context.Context, sessionID uuid.UUID) (*models.MediaItem, error) {
	st, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	mediaID := st.sess.MediaID
	st.mu.Unlock()

	item, err := e.media.Next(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNoNextItem
	}
	return item, nil
}

// Advance loads the next playlist item into the session: all violation flags,
// pause bookkeeping and progress reset, the already-watched flag is fetched
// for the new item. Cancels any running countdown first.
func (e *Engine) Advance(ctx context.Context, sessionID uuid.UUID) (*models.WatchSession, error) {
	st, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.stopCountdownLocked()
	mediaID := st.sess.MediaID
	userID := st.sess.UserID
	st.mu.Unlock()

	item, err := e.media.Next(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNoNextItem
	}

	alreadyWatched := false
	if userID != nil {
		watched, err := e.history.AlreadyWatched(ctx, *userID, item.ID)
		if err != nil {
			e.logger.Warn("already-watched lookup failed, assuming not watched",
				zap.Error(err), zap.String("media_id", item.ID.String()))
		} else {
			alreadyWatched = watched
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	sess := st.sess
	sess.MediaID = item.ID
	sess.MediaTitle = item.Title
	sess.ChannelID = item.ChannelID
	sess.ChannelName = item.ChannelName
	sess.State = models.SessionWatching
	sess.PlayerState = models.PlayerPlaying
	sess.StartedAt = now
	sess.EndedAt = nil
	sess.LastSampleAt = now
	sess.SafeTimeSec = 0
	sess.DurationSec = item.DurationSec
	sess.Progress = 0
	sess.Flags = models.ViolationFlags{}
	sess.Pauses = models.PauseStats{}
	sess.AlreadyWatched = alreadyWatched
	sess.Completed = false
	st.prompts.clear()
	st.primed = false

	e.broadcaster.SendToSession(sess.ID, "advanced", map[string]interface{}{"media": item})
	snap := *sess
	return &snap, nil
}

// CancelCountdown stops a running auto-advance countdown.
func (e *Engine) CancelCountdown(sessionID uuid.UUID) error {
	st, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stopCountdownLocked()
	return nil
}

// Close tears the session down on user request. Leaving an unfinished session
// needs explicit confirmation; a completed or settled session closes freely.
func (e *Engine) Close(sessionID uuid.UUID, confirmed bool) error {
	st, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	needsConfirm := st.sess.State == models.SessionWatching && !st.sess.Completed
	st.mu.Unlock()
	if needsConfirm && !confirmed {
		return ErrConfirmRequired
	}
	e.teardown(sessionID, "closed")
	return nil
}

// Run reaps sessions that stopped sending telemetry. Blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("session reaper stopping")
			return
		case <-ticker.C:
			e.reapStale()
		}
	}
}

func (e *Engine) reapStale() {
	cutoff := time.Now().Add(-e.cfg.StaleAfter)
	var stale []uuid.UUID
	e.mu.RLock()
	for id, st := range e.sessions {
		st.mu.Lock()
		if st.sess.LastSampleAt.Before(cutoff) {
			stale = append(stale, id)
		}
		st.mu.Unlock()
	}
	e.mu.RUnlock()
	for _, id := range stale {
		e.logger.Info("reaping stale session", zap.String("session_id", id.String()))
		e.teardown(id, "stale")
	}
}

// endLocked transitions the session to Ended and settles it. Caller holds
// st.mu.
func (e *Engine) endLocked(st *state, at time.Time) {
	sess := st.sess
	sess.State = models.SessionEnded
	sess.PlayerState = models.PlayerEnded
	sess.Completed = true
	ended := at
	sess.EndedAt = &ended

	snap := *sess
	sessCtx := st.ctx
	go func() {
		e.settler.Settle(sessCtx, &snap)
		e.afterSettlement(sess.ID)
	}()
}

// afterSettlement marks the session settled and schedules what follows: the
// auto-advance countdown when a next item exists, otherwise a short delay so
// the user can read the outcome, then teardown.
func (e *Engine) afterSettlement(sessionID uuid.UUID) {
	st, err := e.lookup(sessionID)
	if err != nil {
		return
	}
	st.mu.Lock()
	st.sess.State = models.SessionSettled

	next, nerr := e.media.Next(st.ctx, st.sess.MediaID)
	if nerr == nil && next != nil && st.autoAdvance {
		seconds := int(e.cfg.AutoAdvance.Seconds())
		e.broadcaster.SendToSession(sessionID, "countdown_started", map[string]interface{}{
			"next": next, "seconds": seconds,
		})
		st.countdown = time.AfterFunc(e.cfg.AutoAdvance, func() {
			if _, err := e.Advance(context.Background(), sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
				e.logger.Warn("auto-advance failed", zap.Error(err), zap.String("session_id", sessionID.String()))
				e.teardown(sessionID, "advance_failed")
			}
		})
		st.mu.Unlock()
		return
	}
	st.closeTimer = time.AfterFunc(e.cfg.CloseDelay, func() {
		e.teardown(sessionID, "completed")
	})
	st.mu.Unlock()
}

// teardown removes the session, cancels its context (stopping balance
// retries and countdowns) and notifies clients. On teardown the wallet gets
// one last best-effort refresh broadcast via the settler's estimate path.
func (e *Engine) teardown(sessionID uuid.UUID, reason string) {
	e.mu.Lock()
	st, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	st.stopCountdownLocked()
	if st.closeTimer != nil {
		st.closeTimer.Stop()
		st.closeTimer = nil
	}
	st.prompts.clear()
	userID := st.sess.UserID
	st.mu.Unlock()
	st.cancel()

	if userID != nil {
		go e.settler.refreshBalance(context.Background(), *userID)
	}
	e.broadcaster.SendToSession(sessionID, "session_closed", map[string]interface{}{"reason": reason})
	e.logger.Info("session torn down", zap.String("session_id", sessionID.String()), zap.String("reason", reason))
}

// apply executes a detector intent under the session lock: player commands
// always, flag and prompt only subject to the already-watched suppression.
func (e *Engine) apply(st *state, intent *Intent) {
	if intent == nil {
		return
	}
	sess := st.sess

	for _, cmd := range intent.Commands {
		e.command(sess.ID, cmd)
	}
	if intent.Pauses != nil {
		sess.Pauses = *intent.Pauses
	}
	if intent.Flag == "" {
		return
	}

	setFlag(&sess.Flags, intent.Flag)

	// a session that cannot earn is never interrupted with anti-cheat dialogs
	if sess.AlreadyWatched || intent.Prompt == nil {
		return
	}
	if st.prompts.push(intent.Prompt) {
		e.broadcaster.SendToSession(sess.ID, "consent_prompt", intent.Prompt)
	}
}

func (e *Engine) command(sessionID uuid.UUID, cmd Command) {
	e.broadcaster.SendToSession(sessionID, "player_command", cmd)
}

func (e *Engine) advanceProgress(sess *models.WatchSession, currentTime, duration float64) {
	p := currentTime / duration
	if p > 1 {
		p = 1
	}
	if p > sess.Progress {
		sess.Progress = p
	}
}

func (e *Engine) lookup(sessionID uuid.UUID) (*state, error) {
	e.mu.RLock()
	st, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st, nil
}

// pendingSeek returns the queued seek prompt, if any.
func (st *state) pendingSeek() *models.ConsentPrompt {
	for _, p := range st.prompts.items {
		if p.Kind == models.PromptSeek {
			return p
		}
	}
	return nil
}

func (st *state) stopCountdownLocked() {
	if st.countdown != nil {
		st.countdown.Stop()
		st.countdown = nil
	}
}

func setFlag(f *models.ViolationFlags, kind models.PromptKind) {
	switch kind {
	case models.PromptSeek:
		f.Seeked = true
	case models.PromptSpeed:
		f.SpeedChanged = true
	case models.PromptPause:
		f.PauseDetected = true
	case models.PromptTab:
		f.TabSwitched = true
	case models.PromptRefresh:
		f.RefreshDetected = true
	}
}
