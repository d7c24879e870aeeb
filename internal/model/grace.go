package model

import (
	"time"

	"github.com/google/uuid"
)

// GraceStatus enumerates the lifecycle of a grace period request.
type GraceStatus string

const (
	GraceStatusPending      GraceStatus = "PENDING"
	GraceStatusApproved     GraceStatus = "APPROVED"
	GraceStatusRejected     GraceStatus = "REJECTED"
	GraceStatusExpired      GraceStatus = "EXPIRED"
	GraceStatusAutoApproved GraceStatus = "AUTO_APPROVED"
)

// Decided reports whether the record has left PENDING. A decided record
// is immutable except for its notes.
func (s GraceStatus) Decided() bool {
	return s != GraceStatusPending
}

// GraceReason enumerates why extra time was requested.
type GraceReason string

const (
	GraceReasonDisconnect          GraceReason = "DISCONNECT"
	GraceReasonNetworkIssue        GraceReason = "NETWORK_ISSUE"
	GraceReasonCrash               GraceReason = "CRASH"
	GraceReasonSystemError         GraceReason = "SYSTEM_ERROR"
	GraceReasonTeacherIntervention GraceReason = "TEACHER_INTERVENTION"
	GraceReasonTechnicalDifficulty GraceReason = "TECHNICAL_DIFFICULTY"
)

// GraceMetadata captures the disconnect context behind a grace request.
type GraceMetadata struct {
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	ReconnectedAt  *time.Time `json:"reconnected_at,omitempty"`
	NetworkInfo    string     `json:"network_info,omitempty"`
}

// GracePeriodRecord is one bounded time compensation for a session.
type GracePeriodRecord struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	StudentID string    `json:"student_id"`
	// ApprovedBy is the deciding teacher for manual decisions; empty for
	// auto-approved and expired records.
	ApprovedBy *string `json:"approved_by,omitempty"`

	Reason GraceReason `json:"reason"`
	Status GraceStatus `json:"status"`

	RequestedSeconds int `json:"requested_seconds"`
	ApprovedSeconds  int `json:"approved_seconds"`

	RequestedAt time.Time  `json:"requested_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"` // decision window for PENDING

	Notes    string        `json:"notes,omitempty"`
	Metadata GraceMetadata `json:"metadata"`
}

// GraceRequest is the inbound payload for requesting a grace period.
type GraceRequest struct {
	Reason           GraceReason `json:"reason" binding:"required,oneof=DISCONNECT NETWORK_ISSUE CRASH SYSTEM_ERROR TEACHER_INTERVENTION TECHNICAL_DIFFICULTY"`
	RequestedSeconds int         `json:"requested_seconds" binding:"required,min=1"`
	NetworkInfo      string      `json:"network_info" binding:"omitempty,max=255"`
}

// GraceDecisionRequest is the inbound payload for approving a pending record.
type GraceDecisionRequest struct {
	// OverrideSeconds lets the approver grant a different amount than
	// requested. Still clamped by the session quota.
	OverrideSeconds *int   `json:"override_seconds" binding:"omitempty,min=1"`
	Notes           string `json:"notes" binding:"omitempty,max=500"`
}
