package wallet

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-rewards/backend/internal/middleware"
	"github.com/aura-rewards/backend/pkg/response"
)

// Handler handles wallet HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a wallet handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Balance handles GET /wallet/balance for the authenticated user.
func (h *Handler) Balance(c *gin.Context) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	bal, err := h.svc.Balance(c.Request.Context(), userID)
	if err != nil {
		response.ServiceUnavailable(c, "wallet unavailable")
		return
	}
	response.OK(c, bal)
}
