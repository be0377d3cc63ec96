package automation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pulse/internal/logger"
)

type Handler struct {
	sweep  *Sweep
	logger logger.Logger
}

func NewHandler(sweep *Sweep, log logger.Logger) *Handler {
	return &Handler{
		sweep:  sweep,
		logger: log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/automation/sweep", h.RunSweep)
	}
}

// RunSweep triggers one full deadline sweep. Invoked by an external scheduler
// (and by the in-process cron entry); no request body is required.
func (h *Handler) RunSweep(c *gin.Context) {
	result, err := h.sweep.Run(c.Request.Context())
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
