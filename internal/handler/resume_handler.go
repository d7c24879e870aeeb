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

// ResumeHandler handles reconnect recovery: evaluating whether a
// session can continue and executing the chosen recovery option.
type ResumeHandler struct {
	resumeManager  *service.ResumeManager
	sessionService *service.ExamSessionService
}

// NewResumeHandler creates a new ResumeHandler.
func NewResumeHandler(resumeManager *service.ResumeManager, sessionService *service.ExamSessionService) *ResumeHandler {
	return &ResumeHandler{resumeManager: resumeManager, sessionService: sessionService}
}

func (h *ResumeHandler) ownedSessionID(c *gin.Context) (uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}

	session, err := h.sessionService.Get(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return uuid.Nil, false
	}
	if session.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return uuid.Nil, false
	}
	return sessionID, true
}

// Evaluate godoc
// GET /api/v1/student/sessions/:session_id/resume
// Returns the resume verdict with ranked recovery options.
func (h *ResumeHandler) Evaluate(c *gin.Context) {
	sessionID, ok := h.ownedSessionID(c)
	if !ok {
		return
	}

	eval, err := h.resumeManager.Evaluate(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"evaluation": eval})
}

// Execute godoc
// POST /api/v1/student/sessions/:session_id/resume
// Applies the chosen recovery option and returns the resumed session.
func (h *ResumeHandler) Execute(c *gin.Context) {
	sessionID, ok := h.ownedSessionID(c)
	if !ok {
		return
	}

	var req model.ExecuteResumeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.resumeManager.Execute(c.Request.Context(), sessionID, req.Option)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrResumeNotAllowed):
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrResumeNotAllowed)
		case errors.Is(err, service.ErrResumeUnknownOption):
			response.Fail(c, http.StatusBadRequest, response.ErrResumeUnknownOption)
		default:
			failSessionError(c, err)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}
