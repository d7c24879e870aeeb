package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusPaused     SessionStatus = "PAUSED"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusExpired    SessionStatus = "EXPIRED"
	SessionStatusTerminated SessionStatus = "TERMINATED"
)

// Terminal reports whether the status is final. A session in a terminal
// status never transitions again.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired || s == SessionStatusTerminated
}

// AntiCheatConfig is the anti-cheat policy snapshot copied into a session
// at creation time. Later edits to the assignment never change the rules
// of an in-flight session.
type AntiCheatConfig struct {
	ShuffleQuestions bool `json:"shuffle_questions"`
	ShuffleOptions   bool `json:"shuffle_options"`
	LockFullscreen   bool `json:"lock_fullscreen"`
	BlockTabSwitch   bool `json:"block_tab_switch"`
	BlockCopyPaste   bool `json:"block_copy_paste"`
	MaxReconnects    int  `json:"max_reconnects"`
}

// ExamSession represents a student's single attempt at an assignment.
// It is the authoritative record; all other engine artifacts are derived
// from it and keyed by its ID.
type ExamSession struct {
	ID           uuid.UUID `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	StudentID    string    `json:"student_id"`

	Status SessionStatus `json:"status"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	ExpectedEndAt *time.Time `json:"expected_end_at,omitempty"` // nil for untimed attempts
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	TimeRemaining int        `json:"time_remaining"`   // seconds
	TotalGrace    int        `json:"total_grace_time"` // accumulated grace seconds

	QuestionOrder []string            `json:"question_order"`
	OptionOrders  map[string][]string `json:"option_orders"`

	CurrentQuestionIndex int                 `json:"current_question_index"`
	Answers              map[string][]string `json:"answers"`

	DisconnectCount int `json:"disconnect_count"`

	AntiCheat AntiCheatConfig `json:"anti_cheat"`

	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Timezone  string `json:"timezone,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionState is the compact timing view served by the hot polling
// endpoint. Cached in Redis and refreshed on every session mutation;
// TimeRemaining is the value as of AsOf and is rolled forward on read.
type SessionState struct {
	SessionID       uuid.UUID     `json:"session_id"`
	StudentID       string        `json:"student_id"`
	Status          SessionStatus `json:"status"`
	TimeRemaining   int           `json:"time_remaining"` // seconds, as of AsOf
	ExpectedEndAt   *time.Time    `json:"expected_end_at,omitempty"`
	DisconnectCount int           `json:"disconnect_count"`
	AsOf            time.Time     `json:"as_of"`
}

// SessionMeta carries client audit metadata captured at session creation.
type SessionMeta struct {
	UserAgent string
	IPAddress string
	Timezone  string
}

// CreateSessionRequest is the payload for creating a new session.
type CreateSessionRequest struct {
	AssignmentID string `json:"assignment_id" binding:"required,min=1,max=64"`
	Timezone     string `json:"timezone" binding:"omitempty,max=64"`
}

// UpdateAnswerRequest is the payload for submitting an answer.
type UpdateAnswerRequest struct {
	QuestionID string   `json:"question_id" binding:"required,min=1,max=64"`
	Selected   []string `json:"selected" binding:"required,min=1,dive,min=1,max=64"`
}

// NavigateRequest is the payload for moving to another question.
type NavigateRequest struct {
	Index int `json:"index" binding:"min=0"`
}

// TerminateRequest is the payload for forcibly closing a session.
type TerminateRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=255"`
}
