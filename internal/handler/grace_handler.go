package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
	"github.com/stemsi/exstem-session-engine/internal/validator"
)

// GraceHandler handles grace period requests and teacher decisions.
type GraceHandler struct {
	graceService   *service.GracePeriodService
	sessionService *service.ExamSessionService
}

// NewGraceHandler creates a new GraceHandler.
func NewGraceHandler(graceService *service.GracePeriodService, sessionService *service.ExamSessionService) *GraceHandler {
	return &GraceHandler{graceService: graceService, sessionService: sessionService}
}

func failGraceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrGraceNotFound)
	case errors.Is(err, service.ErrGraceQuotaExhausted):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrGraceQuotaExhausted)
	case errors.Is(err, service.ErrGraceInvalidSeconds):
		response.Fail(c, http.StatusBadRequest, response.ErrGraceInvalidSeconds)
	case errors.Is(err, service.ErrReconnectLimit):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrReconnectLimit)
	case errors.Is(err, service.ErrGraceAlreadyDecided):
		response.Fail(c, http.StatusConflict, response.ErrGraceAlreadyDecided)
	case errors.Is(err, service.ErrGraceExpired):
		response.Fail(c, http.StatusConflict, response.ErrGraceExpired)
	case errors.Is(err, service.ErrSessionNotActive), errors.Is(err, service.ErrSessionTerminal):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// Request godoc
// POST /api/v1/student/sessions/:session_id/grace
// Student requests extra time for a disconnect or technical issue.
func (h *GraceHandler) Request(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	session, err := h.sessionService.Get(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}
	if session.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	var req model.GraceRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	record, err := h.graceService.Request(c.Request.Context(), sessionID, req.Reason, req.RequestedSeconds,
		model.GraceMetadata{NetworkInfo: req.NetworkInfo})
	if err != nil {
		failGraceError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"grace_period": record})
}

// List godoc
// GET /api/v1/admin/sessions/:session_id/grace
// Teacher reviews all grace records for a session.
func (h *GraceHandler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	records, err := h.graceService.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		failGraceError(c, err)
		return
	}
	if records == nil {
		records = []model.GracePeriodRecord{}
	}

	response.Success(c, http.StatusOK, gin.H{"grace_periods": records})
}

// Approve godoc
// POST /api/v1/admin/grace/:grace_id/approve
func (h *GraceHandler) Approve(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	graceID, err := uuid.Parse(c.Param("grace_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GraceDecisionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	record, err := h.graceService.Approve(c.Request.Context(), graceID, claims.UserID, req.OverrideSeconds, req.Notes)
	if err != nil {
		failGraceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"grace_period": record})
}

// Reject godoc
// POST /api/v1/admin/grace/:grace_id/reject
func (h *GraceHandler) Reject(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	graceID, err := uuid.Parse(c.Param("grace_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GraceDecisionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	record, err := h.graceService.Reject(c.Request.Context(), graceID, claims.UserID, req.Notes)
	if err != nil {
		failGraceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"grace_period": record})
}
