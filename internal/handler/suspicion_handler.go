package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// SuspicionHandler exposes behavior analysis to teachers.
type SuspicionHandler struct {
	suspicionService *service.SuspicionService
}

// NewSuspicionHandler creates a new SuspicionHandler.
func NewSuspicionHandler(suspicionService *service.SuspicionService) *SuspicionHandler {
	return &SuspicionHandler{suspicionService: suspicionService}
}

// Analyze godoc
// POST /api/v1/admin/sessions/:session_id/suspicion
// Runs the full behavior analysis against the session's event history.
func (h *SuspicionHandler) Analyze(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	report, err := h.suspicionService.Analyze(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"report": report})
}

// ListFindings godoc
// GET /api/v1/admin/sessions/:session_id/suspicion
// Returns previously persisted findings for a session.
func (h *SuspicionHandler) ListFindings(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	findings, err := h.suspicionService.ListFindings(c.Request.Context(), sessionID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if findings == nil {
		findings = []model.SuspiciousBehaviorRecord{}
	}

	response.Success(c, http.StatusOK, gin.H{"findings": findings})
}
