package model

import (
	"time"

	"github.com/google/uuid"
)

// BehaviorType enumerates the scored behavior patterns.
type BehaviorType string

const (
	BehaviorExcessiveDisconnects BehaviorType = "EXCESSIVE_DISCONNECTS"
	BehaviorRapidAnswers         BehaviorType = "RAPID_ANSWERS"
	BehaviorPatternAnswers       BehaviorType = "PATTERN_ANSWERS"
	BehaviorTabSwitching         BehaviorType = "TAB_SWITCHING"
	BehaviorUnusualTiming        BehaviorType = "UNUSUAL_TIMING"
)

// SuspicionLevel maps an aggregate score to a coarse level.
type SuspicionLevel string

const (
	SuspicionLow      SuspicionLevel = "LOW"
	SuspicionMedium   SuspicionLevel = "MEDIUM"
	SuspicionHigh     SuspicionLevel = "HIGH"
	SuspicionCritical SuspicionLevel = "CRITICAL"
)

// LevelForScore buckets a 0-100 suspicion score.
func LevelForScore(score int) SuspicionLevel {
	switch {
	case score >= 80:
		return SuspicionCritical
	case score >= 60:
		return SuspicionHigh
	case score >= 40:
		return SuspicionMedium
	default:
		return SuspicionLow
	}
}

// SuspiciousBehaviorRecord is one detected pattern with its evidence.
// Confidence is 0-100; patterns below their floor are never recorded.
type SuspiciousBehaviorRecord struct {
	ID          uuid.UUID              `json:"id"`
	SessionID   uuid.UUID              `json:"session_id"`
	StudentID   string                 `json:"student_id"`
	Type        BehaviorType           `json:"type"`
	Level       SuspicionLevel         `json:"level"`
	DetectedAt  time.Time              `json:"detected_at"`
	Description string                 `json:"description"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
	Confidence  int                    `json:"confidence"`

	Resolved        bool       `json:"resolved"`
	ResolvedBy      *string    `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}

// BehaviorReport is the full analysis output for a session. It is a
// read-only verdict; enforcement is the caller's responsibility.
type BehaviorReport struct {
	SessionID       uuid.UUID                  `json:"session_id"`
	StudentID       string                     `json:"student_id"`
	Score           int                        `json:"score"`
	Level           SuspicionLevel             `json:"level"`
	Behaviors       []SuspiciousBehaviorRecord `json:"behaviors"`
	Recommendations []string                   `json:"recommendations"`
	RiskFactors     []string                   `json:"risk_factors"`
	AnalyzedAt      time.Time                  `json:"analyzed_at"`
}
