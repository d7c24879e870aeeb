package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// Grace period errors.
var (
	ErrGraceInvalidSeconds = errors.New("requested grace seconds must be positive")
	ErrGraceQuotaExhausted = errors.New("session grace quota exhausted")
	ErrReconnectLimit      = errors.New("reconnect limit reached")
	ErrGraceAlreadyDecided = errors.New("grace request already decided")
	ErrGraceExpired        = errors.New("grace request expired")
)

// graceDecisionWindow is how long a manual request stays decidable.
const graceDecisionWindow = 5 * time.Minute

// GracePeriodService validates and decides bounded time compensation
// for disconnects, enforcing per-session quotas.
type GracePeriodService struct {
	graces    GraceStore
	sessions  SessionStore
	lifecycle *ExamSessionService
	events    EventSink
	cfg       *config.Config
	log       zerolog.Logger
}

// NewGracePeriodService creates a new GracePeriodService.
func NewGracePeriodService(
	graces GraceStore,
	sessions SessionStore,
	lifecycle *ExamSessionService,
	events EventSink,
	cfg *config.Config,
	log zerolog.Logger,
) *GracePeriodService {
	return &GracePeriodService{
		graces:    graces,
		sessions:  sessions,
		lifecycle: lifecycle,
		events:    events,
		cfg:       cfg,
		log:       log.With().Str("component", "grace_service").Logger(),
	}
}

// quota is the hard session-lifetime cap on accumulated grace time.
func (s *GracePeriodService) quota() int {
	return 2 * s.cfg.GracePeriodSeconds
}

// validate applies the rejection rules shared by both request paths.
// Rejections create no record and mutate nothing.
func (s *GracePeriodService) validate(session *model.ExamSession, requestedSeconds int) error {
	if session.Status != model.SessionStatusInProgress && session.Status != model.SessionStatusPaused {
		if session.Status.Terminal() {
			return ErrSessionTerminal
		}
		return ErrSessionNotActive
	}
	if session.DisconnectCount >= s.cfg.MaxReconnects {
		return ErrReconnectLimit
	}
	if requestedSeconds <= 0 {
		return ErrGraceInvalidSeconds
	}
	if session.TotalGrace >= s.quota() {
		return ErrGraceQuotaExhausted
	}
	return nil
}

// grant computes the seconds actually approvable right now:
// min(requested, remaining quota, per-request maximum).
func (s *GracePeriodService) grant(session *model.ExamSession, requestedSeconds int) int {
	granted := requestedSeconds
	if room := s.quota() - session.TotalGrace; granted > room {
		granted = room
	}
	if granted > s.cfg.GraceMaxPerRequest {
		granted = s.cfg.GraceMaxPerRequest
	}
	if granted < 0 {
		granted = 0
	}
	return granted
}

// Request opens a grace period for a session. With auto-approval
// enabled the compensation is applied to the timer immediately;
// otherwise a PENDING record awaits a teacher decision within the
// expiry window.
func (s *GracePeriodService) Request(ctx context.Context, sessionID uuid.UUID, reason model.GraceReason, requestedSeconds int, meta model.GraceMetadata) (*model.GracePeriodRecord, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.validate(session, requestedSeconds); err != nil {
		return nil, err
	}

	now := time.Now()
	record := &model.GracePeriodRecord{
		ID:               uuid.New(),
		SessionID:        sessionID,
		StudentID:        session.StudentID,
		Reason:           reason,
		RequestedSeconds: requestedSeconds,
		RequestedAt:      now,
		Metadata:         meta,
	}

	if s.cfg.GraceAutoApprove {
		granted := s.grant(session, requestedSeconds)
		applied, err := s.lifecycle.ApplyGrace(ctx, sessionID, granted)
		if err != nil {
			return nil, fmt.Errorf("apply grace: %w", err)
		}

		record.Status = model.GraceStatusAutoApproved
		record.ApprovedSeconds = applied
		record.DecidedAt = &now

		if err := s.graces.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("create grace record: %w", err)
		}

		s.events.Append(ctx, &model.ExamEvent{
			SessionID: sessionID,
			Type:      model.EventGraceAutoApproved,
			Payload: map[string]interface{}{
				"grace_id":          record.ID.String(),
				"reason":            string(reason),
				"requested_seconds": requestedSeconds,
				"approved_seconds":  applied,
				"total_grace_old":   session.TotalGrace,
				"total_grace_new":   session.TotalGrace + applied,
			},
		})

		return record, nil
	}

	expires := now.Add(graceDecisionWindow)
	record.Status = model.GraceStatusPending
	record.ExpiresAt = &expires

	if err := s.graces.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create grace record: %w", err)
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventGraceRequested,
		Payload: map[string]interface{}{
			"grace_id":          record.ID.String(),
			"reason":            string(reason),
			"requested_seconds": requestedSeconds,
			"expires_at":        expires,
		},
	})

	return record, nil
}

// Approve decides a pending record, optionally overriding the granted
// seconds. Each record is decidable exactly once.
func (s *GracePeriodService) Approve(ctx context.Context, graceID uuid.UUID, approverID string, overrideSeconds *int, notes string) (*model.GracePeriodRecord, error) {
	record, err := s.graces.Get(ctx, graceID)
	if err != nil {
		return nil, err
	}

	if record.Status.Decided() {
		return nil, ErrGraceAlreadyDecided
	}
	if record.ExpiresAt != nil && time.Now().After(*record.ExpiresAt) {
		return nil, ErrGraceExpired
	}

	session, err := s.sessions.Get(ctx, record.SessionID)
	if err != nil {
		return nil, err
	}

	seconds := record.RequestedSeconds
	if overrideSeconds != nil {
		seconds = *overrideSeconds
	}
	granted := s.grant(session, seconds)

	now := time.Now()
	record.Status = model.GraceStatusApproved
	record.ApprovedBy = &approverID
	record.ApprovedSeconds = granted
	record.DecidedAt = &now
	record.Notes = notes

	// Claim the decision before touching the timer. Losing the claim
	// to a concurrent decision or the expiry sweeper must not move any
	// time.
	if err := s.graces.Update(ctx, record); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.lostClaim(ctx, graceID)
		}
		return nil, fmt.Errorf("update grace record: %w", err)
	}

	applied, err := s.lifecycle.ApplyGrace(ctx, record.SessionID, granted)
	if err != nil {
		// Reopen the claim so the request stays decidable (or lets
		// the sweeper expire it) once the session settles.
		s.reopen(ctx, record)
		return nil, fmt.Errorf("apply grace: %w", err)
	}
	if applied != granted {
		record.ApprovedSeconds = applied
		if err := s.graces.Amend(ctx, record); err != nil {
			return nil, fmt.Errorf("amend grace record: %w", err)
		}
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: record.SessionID,
		Type:      model.EventGraceApproved,
		Payload: map[string]interface{}{
			"grace_id":         record.ID.String(),
			"approved_by":      approverID,
			"approved_seconds": applied,
			"total_grace_old":  session.TotalGrace,
			"total_grace_new":  session.TotalGrace + applied,
		},
	})

	return record, nil
}

// lostClaim translates a lost decision race into the caller's error:
// the sweeper got there first means expired, anything else means a
// concurrent decision landed.
func (s *GracePeriodService) lostClaim(ctx context.Context, graceID uuid.UUID) error {
	if cur, err := s.graces.Get(ctx, graceID); err == nil && cur.Status == model.GraceStatusExpired {
		return ErrGraceExpired
	}
	return ErrGraceAlreadyDecided
}

// reopen rolls a claimed but unapplied decision back to PENDING.
// Best-effort: a failure here leaves a decided record with no time
// applied, which the audit log still makes visible.
func (s *GracePeriodService) reopen(ctx context.Context, record *model.GracePeriodRecord) {
	record.Status = model.GraceStatusPending
	record.ApprovedBy = nil
	record.ApprovedSeconds = 0
	record.DecidedAt = nil
	record.Notes = ""
	if err := s.graces.Amend(ctx, record); err != nil {
		s.log.Error().Err(err).Str("grace_id", record.ID.String()).Msg("Grace claim rollback failed")
	}
}

// Reject declines a pending record. No time is applied.
func (s *GracePeriodService) Reject(ctx context.Context, graceID uuid.UUID, approverID, notes string) (*model.GracePeriodRecord, error) {
	record, err := s.graces.Get(ctx, graceID)
	if err != nil {
		return nil, err
	}

	if record.Status.Decided() {
		return nil, ErrGraceAlreadyDecided
	}

	now := time.Now()
	record.Status = model.GraceStatusRejected
	record.ApprovedBy = &approverID
	record.DecidedAt = &now
	record.Notes = notes

	if err := s.graces.Update(ctx, record); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.lostClaim(ctx, graceID)
		}
		return nil, fmt.Errorf("update grace record: %w", err)
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: record.SessionID,
		Type:      model.EventGraceRejected,
		Payload: map[string]interface{}{
			"grace_id":    record.ID.String(),
			"rejected_by": approverID,
			"notes":       notes,
		},
	})

	return record, nil
}

// Get returns a grace record by id.
func (s *GracePeriodService) Get(ctx context.Context, graceID uuid.UUID) (*model.GracePeriodRecord, error) {
	return s.graces.Get(ctx, graceID)
}

// ListBySession returns all grace records for a session.
func (s *GracePeriodService) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.GracePeriodRecord, error) {
	return s.graces.ListBySession(ctx, sessionID)
}

// ExpireStale flips pending records past their decision window to
// EXPIRED. Runs on a best-effort schedule from worker.GraceWorker;
// never on the critical path of answering a question.
func (s *GracePeriodService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.graces.ExpirePending(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("Expired stale grace requests")
	}
	return n, nil
}
