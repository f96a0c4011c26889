package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	startedAt time.Time
	version   string
}

func NewHandler(version string) *Handler {
	return &Handler{startedAt: time.Now(), version: version}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.Health)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).String(),
	})
}
