package snapshot

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/careview-api/internal/aggregate"
	"github.com/jwalitptl/careview-api/internal/handler"
	"github.com/jwalitptl/careview-api/internal/model"
	"github.com/jwalitptl/careview-api/internal/session"
	apperrors "github.com/jwalitptl/careview-api/pkg/errors"
	"github.com/jwalitptl/careview-api/pkg/messaging"
)

func init() {
	// staffrole restricts a role field to the roles that get a view.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("staffrole", func(fl validator.FieldLevel) bool {
			r := model.Role(fl.Field().String())
			return r == model.RoleDoctor || r == model.RoleNurse
		})
	}
}

type Handler struct {
	assembler *aggregate.Assembler
	sessions  session.Provider
	broker    messaging.Broker
	logger    zerolog.Logger
}

// NewHandler builds the snapshot handler. broker may be nil when no
// prewarm worker is deployed.
func NewHandler(assembler *aggregate.Assembler, sessions session.Provider, broker messaging.Broker, logger zerolog.Logger) *Handler {
	return &Handler{
		assembler: assembler,
		sessions:  sessions,
		broker:    broker,
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/snapshot", h.GetSnapshot)
	r.POST("/snapshot/refresh", h.Refresh)
	r.GET("/lab-results", h.ListLabResults)
	r.GET("/lab-results/:id", h.GetLabResult)
}

// GetSnapshot assembles the current user's role view. A partial
// snapshot is still a 200; the payload carries the degraded sections.
func (h *Handler) GetSnapshot(c *gin.Context) {
	ctx := c.Request.Context()
	role := h.sessions.CurrentUserRole(ctx)
	userID := h.sessions.CurrentUserID(ctx)

	snap, err := h.assembler.BuildSnapshot(ctx, role, userID)
	if err != nil {
		h.respondError(c, h.buildError(err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(snap))
}

type refreshRequest struct {
	Role   model.Role `json:"role" binding:"omitempty,staffrole"`
	UserID string     `json:"user_id" binding:"omitempty,max=128"`
}

// Refresh rebuilds the caller's snapshot and, when a broker is wired,
// queues a prewarm so the next load is warm. An explicit role/user in
// the body lets support tooling refresh on a user's behalf.
func (h *Handler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()

	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.respondError(c, apperrors.BadRequest("invalid refresh request", err))
			return
		}
	}
	role := req.Role
	userID := req.UserID
	if role == "" {
		role = h.sessions.CurrentUserRole(ctx)
	}
	if userID == "" {
		userID = h.sessions.CurrentUserID(ctx)
	}

	snap, err := h.assembler.BuildSnapshot(ctx, role, userID)
	if err != nil {
		h.respondError(c, h.buildError(err))
		return
	}

	if h.broker != nil {
		event := messaging.RefreshEvent{Role: role, UserID: userID}
		if err := h.broker.Publish(ctx, messaging.RefreshChannel, event); err != nil {
			h.logger.Warn().Err(err).Msg("failed to queue snapshot prewarm")
		}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(snap))
}

// ListLabResults returns the doctor's enriched lab results.
func (h *Handler) ListLabResults(c *gin.Context) {
	ctx := c.Request.Context()
	if h.sessions.CurrentUserRole(ctx) != model.RoleDoctor {
		h.respondError(c, apperrors.Forbidden("lab results are a doctor view", nil))
		return
	}

	results, degraded, err := h.assembler.LabResultsForDoctor(ctx, h.sessions.CurrentUserID(ctx))
	if err != nil {
		h.respondError(c, h.buildError(err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"results":  results,
		"degraded": degraded,
	}))
}

func (h *Handler) GetLabResult(c *gin.Context) {
	result, err := h.assembler.LabResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, apperrors.NotFound("lab result", err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) buildError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, aggregate.ErrNoCurrentUser):
		return apperrors.Unauthorized(err)
	case errors.Is(err, aggregate.ErrUnsupportedRole):
		return apperrors.Forbidden(err.Error(), err)
	default:
		h.logger.Error().Err(err).Msg("snapshot build failed")
		return apperrors.Unavailable("snapshot temporarily unavailable", err)
	}
}

func (h *Handler) respondError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(statusFor(appErr.Code), handler.NewErrorResponse(appErr.Message))
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrBadRequest:
		return http.StatusBadRequest
	case apperrors.ErrUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrForbidden:
		return http.StatusForbidden
	case apperrors.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
