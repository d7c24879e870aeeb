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

// SessionHandler handles the student-facing session lifecycle endpoints.
type SessionHandler struct {
	sessionService  *service.ExamSessionService
	autosaveService *service.AutoSaveService
	detector        *service.DisconnectDetector
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	sessionService *service.ExamSessionService,
	autosaveService *service.AutoSaveService,
	detector *service.DisconnectDetector,
) *SessionHandler {
	return &SessionHandler{
		sessionService:  sessionService,
		autosaveService: autosaveService,
		detector:        detector,
	}
}

// failSessionError maps a service error to a typed API error response.
func failSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrSessionTerminal):
		response.Fail(c, http.StatusConflict, response.ErrSessionTerminal)
	case errors.Is(err, service.ErrSessionNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, service.ErrSessionNotPaused):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotPaused)
	case errors.Is(err, service.ErrSessionNotStarted):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, service.ErrInvalidNavigation):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidNavigation)
	case errors.Is(err, service.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// ownedSession parses the session id param and verifies the requester
// owns the session. Teachers bypass the ownership check.
func (h *SessionHandler) ownedSession(c *gin.Context) (uuid.UUID, bool) {
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

	if claims.TokenType == service.TokenTypeTeacher {
		return sessionID, true
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

// Create godoc
// POST /api/v1/student/sessions
// Creates (or returns) the student's attempt for an assignment. Idempotent.
func (h *SessionHandler) Create(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	meta := model.SessionMeta{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
		Timezone:  req.Timezone,
	}

	session, err := h.sessionService.Create(c.Request.Context(), req.AssignmentID, claims.UserID, meta)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrAssignmentNotFound)
			return
		}
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": session})
}

// Start godoc
// POST /api/v1/student/sessions/:session_id/start
func (h *SessionHandler) Start(c *gin.Context) {
	sessionID, ok := h.ownedSession(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Start(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	// The periodic capture and the disconnect monitor live for the
	// whole attempt; the terminal hook tears both down.
	h.autosaveService.StartAuto(sessionID)
	h.detector.Track(sessionID, session.StudentID)

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Get godoc
// GET /api/v1/student/sessions/:session_id
// Returns the current session state. Covers page reload: the frontend
// re-reads answered questions and remaining time from here.
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID, ok := h.ownedSession(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Get(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// State godoc
// GET /api/v1/student/sessions/:session_id/state
// Lightweight countdown poll. Served from the state cache when warm,
// so it skips ownedSession's full fetch and checks ownership against
// the cached student id instead.
func (h *SessionHandler) State(c *gin.Context) {
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

	st, err := h.sessionService.State(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}
	if claims.TokenType != service.TokenTypeTeacher && st.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": st})
}

// UpdateAnswer godoc
// POST /api/v1/student/sessions/:session_id/answers
func (h *SessionHandler) UpdateAnswer(c *gin.Context) {
	sessionID, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req model.UpdateAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.UpdateAnswer(c.Request.Context(), sessionID, req.QuestionID, req.Selected)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Navigate godoc
// POST /api/v1/student/sessions/:session_id/navigate
func (h *SessionHandler) Navigate(c *gin.Context) {
	sessionID, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.Navigate(c.Request.Context(), sessionID, req.Index)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Pause godoc
// POST /api/v1/student/sessions/:session_id/pause
// Explicit pause requested by the client (e.g., proctor instruction).
func (h *SessionHandler) Pause(c *gin.Context) {
	sessionID, ok := h.ownedSession(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Pause(c.Request.Context(), sessionID, "CLIENT_REQUEST")
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Resume godoc
// POST /api/v1/student/sessions/:session_id/resume
// Plain resume with the base grace grant. Reconnect recovery goes
// through the resume evaluation endpoints instead.
func (h *SessionHandler) Resume(c *gin.Context) {
	sessionID, ok := h.ownedSession(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Resume(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Complete godoc
// POST /api/v1/student/sessions/:session_id/complete
func (h *SessionHandler) Complete(c *gin.Context) {
	sessionID, ok := h.ownedSession(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Complete(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Terminate godoc
// POST /api/v1/admin/sessions/:session_id/terminate
// Teacher-only forced closure (violations, proctoring decisions).
func (h *SessionHandler) Terminate(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.TerminateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.Terminate(c.Request.Context(), sessionID, req.Reason)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}
