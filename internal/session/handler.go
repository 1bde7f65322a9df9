package session

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-rewards/backend/internal/middleware"
	"github.com/aura-rewards/backend/internal/models"
	"github.com/aura-rewards/backend/pkg/response"
)

// Handler exposes the watch-session API.
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes mounts the session endpoints. Auth is optional throughout:
// anonymous viewers get full playback, just no rewards.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sessions", h.Open)
	r.GET("/sessions/:id", h.Get)
	r.POST("/sessions/:id/events", h.Events)
	r.POST("/sessions/:id/prompts/resolve", h.Resolve)
	r.GET("/sessions/:id/next", h.Next)
	r.POST("/sessions/:id/advance", h.Advance)
	r.POST("/sessions/:id/advance/cancel", h.CancelCountdown)
	r.POST("/sessions/:id/close", h.Close)
}

type openRequest struct {
	MediaID     uuid.UUID `json:"media_id" binding:"required"`
	AutoAdvance bool      `json:"auto_advance"`
}

// Open starts a watch session for a media item.
func (h *Handler) Open(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "media_id is required")
		return
	}
	userID := middleware.OptionalUserIDFrom(c)
	sess, err := h.engine.Open(c.Request.Context(), userID, req.MediaID, req.AutoAdvance)
	if err != nil {
		if errors.Is(err, ErrMediaNotFound) {
			response.NotFound(c, "media not found")
			return
		}
		h.logger.Error("open session failed", zap.Error(err), zap.String("media_id", req.MediaID.String()))
		response.Internal(c, "failed to open session")
		return
	}
	response.Created(c, sess)
}

// Get returns the session snapshot and the active consent prompt, if any.
func (h *Handler) Get(c *gin.Context) {
	sess, prompt, ok := h.authorized(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"session": sess, "prompt": prompt})
}

type eventRequest struct {
	Type        string  `json:"type" binding:"required"` // sample | visibility | unload
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Rate        float64 `json:"rate"`
	PlayerState string  `json:"player_state"`
	Hidden      bool    `json:"hidden"`
}

// Events ingests player telemetry over HTTP. The websocket path in
// internal/realtime feeds the same engine; this endpoint exists for clients
// without a socket (and for the final beacon on unload).
func (h *Handler) Events(c *gin.Context) {
	_, _, ok := h.authorized(c)
	if !ok {
		return
	}
	id, _ := uuid.Parse(c.Param("id"))

	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid event payload")
		return
	}

	var err error
	switch req.Type {
	case "sample", "state": // state changes arrive as sparse sample frames
		err = h.engine.Sample(id, Observation{
			CurrentTime: req.CurrentTime,
			Duration:    req.Duration,
			Rate:        req.Rate,
			State:       models.PlayerState(req.PlayerState),
			At:          time.Now(),
		})
	case "visibility":
		err = h.engine.Visibility(id, req.Hidden)
	case "unload":
		err = h.engine.Unload(id)
	default:
		response.BadRequest(c, "unknown event type")
		return
	}

	switch {
	case err == nil:
		response.NoContent(c)
	case errors.Is(err, ErrNotWatching):
		response.Conflict(c, "session is not watching")
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(c, "session not found")
	default:
		h.logger.Error("event handling failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to process event")
	}
}

type resolveRequest struct {
	Choice string `json:"choice" binding:"required"` // stay | proceed
}

// Resolve records the user's choice on the active consent prompt.
func (h *Handler) Resolve(c *gin.Context) {
	_, _, ok := h.authorized(c)
	if !ok {
		return
	}
	id, _ := uuid.Parse(c.Param("id"))

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "choice is required")
		return
	}
	var stay bool
	switch req.Choice {
	case "stay":
		stay = true
	case "proceed":
		stay = false
	default:
		response.BadRequest(c, "choice must be \"stay\" or \"proceed\"")
		return
	}

	if err := h.engine.Resolve(id, stay); err != nil {
		switch {
		case errors.Is(err, ErrNoActivePrompt):
			response.Conflict(c, "no active prompt")
		case errors.Is(err, ErrSessionNotFound):
			response.NotFound(c, "session not found")
		default:
			h.logger.Error("resolve prompt failed", zap.Error(err), zap.String("session_id", id.String()))
			response.Internal(c, "failed to resolve prompt")
		}
		return
	}
	response.NoContent(c)
}

// Next returns the upcoming playlist item for this session.
func (h *Handler) Next(c *gin.Context) {
	_, _, ok := h.authorized(c)
	if !ok {
		return
	}
	id, _ := uuid.Parse(c.Param("id"))

	item, err := h.engine.Next(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNoNextItem) {
			response.NotFound(c, "no next item")
			return
		}
		if errors.Is(err, ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		h.logger.Error("next item lookup failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to load next item")
		return
	}
	response.OK(c, item)
}

// Advance moves the session to the next playlist item immediately.
func (h *Handler) Advance(c *gin.Context) {
	_, _, ok := h.authorized(c)
	if !ok {
		return
	}
	id, _ := uuid.Parse(c.Param("id"))

	sess, err := h.engine.Advance(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNoNextItem) {
			response.NotFound(c, "no next item")
			return
		}
		if errors.Is(err, ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		h.logger.Error("advance failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to advance")
		return
	}
	response.OK(c, sess)
}

// CancelCountdown stops a running auto-advance countdown.
func (h *Handler) CancelCountdown(c *gin.Context) {
	_, _, ok := h.authorized(c)
	if !ok {
		return
	}
	id, _ := uuid.Parse(c.Param("id"))
	if err := h.engine.CancelCountdown(id); err != nil {
		response.NotFound(c, "session not found")
		return
	}
	response.NoContent(c)
}

type closeRequest struct {
	Confirmed bool `json:"confirmed"`
}

// Close ends the session on user request. Closing an unfinished session
// without confirmed=true returns 409 so the client can show the leave
// confirmation first.
func (h *Handler) Close(c *gin.Context) {
	_, _, ok := h.authorized(c)
	if !ok {
		return
	}
	id, _ := uuid.Parse(c.Param("id"))

	var req closeRequest
	_ = c.ShouldBindJSON(&req) // empty body means unconfirmed

	if err := h.engine.Close(id, req.Confirmed); err != nil {
		switch {
		case errors.Is(err, ErrConfirmRequired):
			response.Conflict(c, "confirmation required")
		case errors.Is(err, ErrSessionNotFound):
			response.NotFound(c, "session not found")
		default:
			h.logger.Error("close session failed", zap.Error(err), zap.String("session_id", id.String()))
			response.Internal(c, "failed to close session")
		}
		return
	}
	response.NoContent(c)
}

// authorized loads the session from the path id and enforces ownership: a
// session opened by a user is only visible to that user; anonymous sessions
// are open to anyone holding the id.
func (h *Handler) authorized(c *gin.Context) (*models.WatchSession, *models.ConsentPrompt, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, nil, false
	}
	sess, prompt, err := h.engine.Get(id)
	if err != nil {
		response.NotFound(c, "session not found")
		return nil, nil, false
	}
	if sess.UserID != nil {
		caller := middleware.OptionalUserIDFrom(c)
		if caller == nil || *caller != *sess.UserID {
			response.Forbidden(c, "not your session")
			return nil, nil, false
		}
	}
	return sess, prompt, true
}
