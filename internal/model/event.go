package model

import (
	"time"

	"github.com/google/uuid"
)

// EventSeverity grades event log entries.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "INFO"
	SeverityWarning  EventSeverity = "WARNING"
	SeverityError    EventSeverity = "ERROR"
	SeverityCritical EventSeverity = "CRITICAL"
)

// EventType enumerates everything the engine appends to the audit trail.
type EventType string

const (
	EventSessionCreated    EventType = "SESSION_CREATED"
	EventSessionStarted    EventType = "SESSION_STARTED"
	EventSessionPaused     EventType = "SESSION_PAUSED"
	EventSessionResumed    EventType = "SESSION_RESUMED"
	EventSessionCompleted  EventType = "SESSION_COMPLETED"
	EventSessionExpired    EventType = "SESSION_EXPIRED"
	EventSessionTerminated EventType = "SESSION_TERMINATED"

	EventAnswerUpdated EventType = "ANSWER_UPDATED"
	EventNavigated     EventType = "NAVIGATED"

	EventTimerWarning EventType = "TIMER_WARNING"

	EventDisconnected EventType = "DISCONNECTED"
	EventReconnected  EventType = "RECONNECTED"

	EventAutosaved      EventType = "AUTOSAVED"
	EventAutosaveFailed EventType = "AUTOSAVE_FAILED"

	EventGraceRequested    EventType = "GRACE_REQUESTED"
	EventGraceAutoApproved EventType = "GRACE_AUTO_APPROVED"
	EventGraceApproved     EventType = "GRACE_APPROVED"
	EventGraceRejected     EventType = "GRACE_REJECTED"
	EventGraceExpired      EventType = "GRACE_EXPIRED"

	EventResumeEvaluated EventType = "RESUME_EVALUATED"
	EventResumeExecuted  EventType = "RESUME_EXECUTED"

	EventSuspicionFlagged EventType = "SUSPICION_FLAGGED"
)

// ExamEvent is one append-only audit trail entry. The engine never
// mutates or deletes entries once written.
type ExamEvent struct {
	ID        int64                  `json:"id,omitempty"`
	SessionID uuid.UUID              `json:"session_id"`
	Type      EventType              `json:"type"`
	Severity  EventSeverity          `json:"severity"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Note      string                 `json:"note,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
