package history

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-rewards/backend/internal/middleware"
	"github.com/aura-rewards/backend/pkg/response"
)

// Handler handles watch-history HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a history handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// List handles GET /history?limit=&offset= for the authenticated user.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, total, err := h.repo.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Internal(c, "failed to list history")
		return
	}
	watched, err := h.repo.WatchedCount(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to list history")
		return
	}
	response.OK(c, gin.H{"history": list, "total": total, "watched_count": watched, "limit": limit, "offset": offset})
}

// Watched handles GET /media/:id/watched for the authenticated user.
func (h *Handler) Watched(c *gin.Context) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	mediaID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid media id")
		return
	}
	watched, err := h.repo.AlreadyWatched(c.Request.Context(), userID, mediaID)
	if err != nil {
		response.Internal(c, "failed to check watch history")
		return
	}
	response.OK(c, gin.H{"watched": watched})
}
