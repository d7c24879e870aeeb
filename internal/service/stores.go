package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateAttempt is returned by SessionStore.Create when another
// live attempt for the same (assignment, student) already exists.
var ErrDuplicateAttempt = errors.New("live attempt already exists for this assignment and student")

// SessionStore is the persistence contract for the authoritative
// ExamSession record. Implemented by repository.ExamSessionRepository.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetByAssignmentAndStudent(ctx context.Context, assignmentID, studentID string) (*model.ExamSession, error)
	Create(ctx context.Context, s *model.ExamSession) error
	Update(ctx context.Context, s *model.ExamSession) error
}

// AssignmentStore loads the assignment collaborator's data.
type AssignmentStore interface {
	Get(ctx context.Context, id string) (*model.Assignment, error)
}

// GraceStore persists grace period records.
type GraceStore interface {
	Create(ctx context.Context, g *model.GracePeriodRecord) error
	// Update persists a decision on a PENDING record. Returns
	// ErrNotFound when the record was already decided or expired, so
	// exactly one caller wins a racing decision.
	Update(ctx context.Context, g *model.GracePeriodRecord) error
	// Amend rewrites the decision columns of a record the caller has
	// already claimed through Update. No status guard; used to
	// reconcile the applied seconds or roll a failed claim back.
	Amend(ctx context.Context, g *model.GracePeriodRecord) error
	Get(ctx context.Context, id uuid.UUID) (*model.GracePeriodRecord, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.GracePeriodRecord, error)
	// ExpirePending flips stale PENDING records to EXPIRED and returns
	// how many were touched.
	ExpirePending(ctx context.Context) (int64, error)
}

// SnapshotStore is the durable side of the auto-save path. The hot path
// lives in Redis; this store is the fallback read and the worker's
// write target.
type SnapshotStore interface {
	Save(ctx context.Context, a *model.AutoSaveData) error
	Latest(ctx context.Context, sessionID uuid.UUID) (*model.AutoSaveData, error)
}

// EventSink accepts append-only audit trail entries. Delivery is
// at-most-once: implementations log failures locally and must never
// block the state machine.
type EventSink interface {
	Append(ctx context.Context, e *model.ExamEvent)
}

// EventStore reads back the persisted event log for analysis.
type EventStore interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ExamEvent, error)
}

// BehaviorStore persists suspicion findings.
type BehaviorStore interface {
	Create(ctx context.Context, b *model.SuspiciousBehaviorRecord) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.SuspiciousBehaviorRecord, error)
}
