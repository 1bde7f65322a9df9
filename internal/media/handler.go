package media

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-rewards/backend/pkg/response"
	"github.com/aura-rewards/backend/pkg/storage"
)

// Handler handles media catalog HTTP endpoints.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates a media handler. s3 may be nil (playback URLs omitted).
func NewHandler(repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// List handles GET /media.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list media failed", zap.Error(err))
		response.Internal(c, "failed to list media")
		return
	}
	response.OK(c, gin.H{"media": list})
}

// GetByID handles GET /media/:id. Includes a presigned playback URL when S3
// is configured.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid media id")
		return
	}
	m, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get media failed", zap.Error(err), zap.String("media_id", id.String()))
		response.Internal(c, "failed to get media")
		return
	}
	if m == nil {
		response.NotFound(c, "media not found")
		return
	}

	playbackURL := ""
	if h.s3 != nil && m.S3Key != "" {
		playbackURL, err = h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.MediaBucket(), m.S3Key, h.s3.PresignExpire())
		if err != nil {
			h.logger.Warn("presign playback url failed", zap.Error(err), zap.String("media_id", id.String()))
			playbackURL = ""
		}
	}
	response.OK(c, gin.H{"media": m, "playback_url": playbackURL})
}
