package model

import (
	"time"

	"github.com/google/uuid"
)

// ResumeOptionKind identifies one recovery path after a reconnect.
type ResumeOptionKind string

const (
	ResumeFromSession  ResumeOptionKind = "SESSION_RECORD"
	ResumeFromAutosave ResumeOptionKind = "AUTO_SAVE"
	ResumeRestart      ResumeOptionKind = "RESTART"
)

// ResumeOption is one recovery path offered to a reconnecting student.
type ResumeOption struct {
	Kind        ResumeOptionKind `json:"kind"`
	Recommended bool             `json:"recommended"`
	// GraceSeconds is the compensation this option would add on top of
	// the base resume grant, bounded by the session quota and by the
	// elapsed wall-clock time since the option's reference timestamp.
	GraceSeconds int    `json:"grace_seconds"`
	Description  string `json:"description"`
	// AsOf is the timestamp of the state this option restores.
	AsOf *time.Time `json:"as_of,omitempty"`
}

// ResumeEvaluation is the full verdict for a reconnect attempt.
type ResumeEvaluation struct {
	SessionID uuid.UUID `json:"session_id"`
	CanResume bool      `json:"can_resume"`
	// Reason explains a CanResume=false verdict.
	Reason   string         `json:"reason,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Options  []ResumeOption `json:"options,omitempty"`

	TimeRemaining  int       `json:"time_remaining"`
	DisconnectTime float64   `json:"disconnect_time_seconds"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// ExecuteResumeRequest is the inbound payload for executing a chosen
// recovery option.
type ExecuteResumeRequest struct {
	Option ResumeOptionKind `json:"option" binding:"required,oneof=SESSION_RECORD AUTO_SAVE RESTART"`
}
