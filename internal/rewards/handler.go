package rewards

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-rewards/backend/internal/middleware"
	"github.com/aura-rewards/backend/pkg/response"
)

// Handler exposes viewer reward stats and admin views over audit data.
type Handler struct {
	repo    *Repository
	counter *WatchedCounter
	logger  *zap.Logger
}

// NewHandler creates a rewards handler.
func NewHandler(repo *Repository, counter *WatchedCounter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, counter: counter, logger: logger}
}

// Stats returns the caller's watched count. The Redis counter answers first;
// when it is cold the durable claim count backfills it.
func (h *Handler) Stats(c *gin.Context) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	ctx := c.Request.Context()
	n := h.counter.Get(ctx, userID)
	if n == 0 {
		credited, err := h.repo.CountCredited(ctx, userID)
		if err != nil {
			h.logger.Error("count credited claims", zap.Error(err), zap.String("user_id", userID.String()))
			response.Internal(c, "failed to load stats")
			return
		}
		n = credited
	}
	response.OK(c, gin.H{"watched_count": n})
}

// ListFailedAttempts returns recent ineligible sessions for abuse review.
func (h *Handler) ListFailedAttempts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	attempts, err := h.repo.ListFailedAttempts(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list failed attempts", zap.Error(err))
		response.Internal(c, "failed to load attempts")
		return
	}
	response.OK(c, gin.H{"attempts": attempts, "limit": limit, "offset": offset})
}
