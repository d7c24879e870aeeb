package model

import (
	"time"

	"github.com/google/uuid"
)

// AutoSaveData is an advisory snapshot of in-progress answers and
// position. It is a convenience superset, never authoritative against
// the ExamSession record.
type AutoSaveData struct {
	SessionID            uuid.UUID              `json:"session_id"`
	CapturedAt           time.Time              `json:"captured_at"`
	CurrentQuestionIndex int                    `json:"current_question_index"`
	TimeRemaining        int                    `json:"time_remaining"`
	Answers              map[string][]string    `json:"answers"`
	UIState              map[string]interface{} `json:"ui_state,omitempty"`
}

// NewerThan reports whether the snapshot was captured strictly after the
// session record was last updated.
func (a *AutoSaveData) NewerThan(s *ExamSession) bool {
	return a.CapturedAt.After(s.UpdatedAt)
}
