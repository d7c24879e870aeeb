package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/service"
	ws "github.com/stemsi/exstem-session-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the WebSocket session stream: answers, navigation
// and connectivity signals over one connection.
type WSHandler struct {
	sessionService *service.ExamSessionService
	detector       *service.DisconnectDetector
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, detector *service.DisconnectDetector, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		detector:       detector,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
// Upgrades to WebSocket for the live exam stream. An abnormal close is
// treated as a connection-loss signal.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	session, err := h.sessionService.Get(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if session.StudentID != claims.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if session.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "session already closed"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("student_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	h.detector.Track(sessionID, claims.UserID)
	// A new socket for a tracked session is the client reconnecting
	// after a drop; heartbeat closes any open disconnect window.
	h.detector.Signal(c.Request.Context(), sessionID, service.SignalHeartbeat, "")

	normalClose := false
	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
				normalClose = true
			}
			break
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, sessionID, &msg)
		case ws.ActionNavigate:
			h.handleNavigate(conn, sessionID, &msg)
		case ws.ActionHeartbeat:
			h.detector.Signal(context.Background(), sessionID, service.SignalHeartbeat, "")
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		case ws.ActionSignal:
			h.detector.Signal(context.Background(), sessionID, service.ClientSignal(msg.Signal), msg.NetworkInfo)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}

	// A dead socket without an unload hint means the client vanished.
	if !normalClose {
		h.detector.ConnectionLost(context.Background(), sessionID)
	}
}

func (h *WSHandler) handleAnswer(conn *websocket.Conn, sessionID uuid.UUID, msg *ws.RequestPayload) {
	if msg.QID == "" || len(msg.Selected) == 0 {
		ws.WriteError(conn, "q_id and selected are required")
		return
	}

	session, err := h.sessionService.UpdateAnswer(context.Background(), sessionID, msg.QID, msg.Selected)
	if err != nil {
		ws.WriteError(conn, err.Error())
		return
	}

	writeState(conn, session)
}

func (h *WSHandler) handleNavigate(conn *websocket.Conn, sessionID uuid.UUID, msg *ws.RequestPayload) {
	session, err := h.sessionService.Navigate(context.Background(), sessionID, msg.Index)
	if err != nil {
		ws.WriteError(conn, err.Error())
		return
	}

	writeState(conn, session)
}

func writeState(conn *websocket.Conn, session *model.ExamSession) {
	ws.WriteTyped(conn, ws.StateResponse{
		Event:                ws.EventState,
		Status:               string(session.Status),
		TimeRemaining:        session.TimeRemaining,
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		AnsweredCount:        len(session.Answers),
	})
}
