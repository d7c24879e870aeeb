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

var (
	ErrResumeNotAllowed    = errors.New("session cannot be resumed")
	ErrResumeUnknownOption = errors.New("resume option not available for this session")
)

// Non-blocking warning thresholds for a reconnect evaluation.
const (
	longAwayWarning     = 10 * time.Minute
	lowTimeWarning      = 5 * time.Minute
	staleSnapshotWindow = 5 * time.Minute
)

// SnapshotRestorer is the slice of the auto-save surface the resume
// manager needs: the latest snapshot, or nil when none exists.
type SnapshotRestorer interface {
	Restore(ctx context.Context, sessionID uuid.UUID) (*model.AutoSaveData, error)
}

// ResumeManager reconciles a paused session with its latest auto-save
// after a reconnect, decides whether resumption is still allowed, and
// ranks the recovery options.
type ResumeManager struct {
	lifecycle *ExamSessionService
	grace     *GracePeriodService
	snapshots SnapshotRestorer
	events    EventSink
	cfg       *config.Config
	log       zerolog.Logger
}

// NewResumeManager creates a new ResumeManager.
func NewResumeManager(
	lifecycle *ExamSessionService,
	grace *GracePeriodService,
	snapshots SnapshotRestorer,
	events EventSink,
	cfg *config.Config,
	log zerolog.Logger,
) *ResumeManager {
	return &ResumeManager{
		lifecycle: lifecycle,
		grace:     grace,
		snapshots: snapshots,
		events:    events,
		cfg:       cfg,
		log:       log.With().Str("component", "resume_manager").Logger(),
	}
}

// Evaluate computes the resume verdict for a reconnecting session:
// either a rejection with a reason, or a ranked list of recovery
// options with the grace each would add.
func (s *ResumeManager) Evaluate(ctx context.Context, sessionID uuid.UUID) (*model.ResumeEvaluation, error) {
	session, err := s.lifecycle.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	elapsed := now.Sub(session.UpdatedAt)

	eval := &model.ResumeEvaluation{
		SessionID:      sessionID,
		TimeRemaining:  session.TimeRemaining,
		DisconnectTime: elapsed.Seconds(),
		EvaluatedAt:    now,
	}

	switch {
	case session.Status.Terminal():
		eval.Reason = "SESSION_TERMINAL"
	case session.DisconnectCount >= s.cfg.MaxReconnects:
		eval.Reason = "RECONNECT_LIMIT"
	case elapsed > s.cfg.ResumeAbsoluteTimeout:
		eval.Reason = "ABSOLUTE_TIMEOUT"
	}
	if eval.Reason != "" {
		s.logEvaluation(ctx, eval)
		return eval, nil
	}

	snap, err := s.snapshots.Restore(ctx, sessionID)
	if err != nil {
		// A broken snapshot path degrades the offer, it never blocks
		// the resume itself.
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Snapshot lookup failed during resume evaluation")
		snap = nil
	}

	if session.DisconnectCount == s.cfg.MaxReconnects-1 {
		eval.Warnings = append(eval.Warnings, "only one reconnect remaining before the session is locked")
	}
	if elapsed > longAwayWarning {
		eval.Warnings = append(eval.Warnings, "session was disconnected for more than 10 minutes")
	}
	if session.ExpectedEndAt != nil && time.Duration(session.TimeRemaining)*time.Second < lowTimeWarning {
		eval.Warnings = append(eval.Warnings, "less than 5 minutes of exam time remaining")
	}
	if snap == nil {
		eval.Warnings = append(eval.Warnings, "no auto-save snapshot found")
	} else if now.Sub(snap.CapturedAt) > staleSnapshotWindow {
		eval.Warnings = append(eval.Warnings, "latest auto-save snapshot is more than 5 minutes old")
	}

	snapNewer := snap != nil && snap.NewerThan(session)

	updatedAt := session.UpdatedAt
	eval.Options = append(eval.Options, model.ResumeOption{
		Kind:         model.ResumeFromSession,
		Recommended:  !snapNewer,
		GraceSeconds: s.boundedGrace(session, session.UpdatedAt, now),
		Description:  "continue from the last confirmed session state",
		AsOf:         &updatedAt,
	})

	if snap != nil {
		capturedAt := snap.CapturedAt
		eval.Options = append(eval.Options, model.ResumeOption{
			Kind:         model.ResumeFromAutosave,
			Recommended:  snapNewer,
			GraceSeconds: s.boundedGrace(session, snap.CapturedAt, now),
			Description:  "continue from the latest auto-save snapshot",
			AsOf:         &capturedAt,
		})
	}

	eval.Options = append(eval.Options, model.ResumeOption{
		Kind:        model.ResumeRestart,
		Description: "restart the attempt from the beginning with full time",
	})

	eval.CanResume = true
	s.logEvaluation(ctx, eval)
	return eval, nil
}

// Execute applies a chosen recovery option. The underlying timer is
// replaced, never stacked, so repeated executions are safe.
func (s *ResumeManager) Execute(ctx context.Context, sessionID uuid.UUID, kind model.ResumeOptionKind) (*model.ExamSession, error) {
	eval, err := s.Evaluate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !eval.CanResume {
		return nil, fmt.Errorf("%w: %s", ErrResumeNotAllowed, eval.Reason)
	}

	var chosen *model.ResumeOption
	for i := range eval.Options {
		if eval.Options[i].Kind == kind {
			chosen = &eval.Options[i]
			break
		}
	}
	if chosen == nil {
		return nil, ErrResumeUnknownOption
	}

	session, err := s.lifecycle.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch kind {
	case model.ResumeFromAutosave:
		snap, err := s.snapshots.Restore(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		if snap == nil {
			return nil, ErrResumeUnknownOption
		}
		if _, err := s.lifecycle.RestoreFromSnapshot(ctx, sessionID, snap); err != nil {
			return nil, err
		}
		remaining := snap.TimeRemaining
		if remaining > session.TimeRemaining {
			remaining = session.TimeRemaining
		}
		if session.ExpectedEndAt != nil {
			s.lifecycle.RestoreTimer(sessionID, remaining)
		}
	case model.ResumeFromSession:
		if session.ExpectedEndAt != nil {
			s.lifecycle.RestoreTimer(sessionID, session.TimeRemaining)
		}
	case model.ResumeRestart:
		// Restart replaces the timer itself with the full duration.
		if _, err := s.lifecycle.Restart(ctx, sessionID); err != nil {
			return nil, err
		}
	default:
		return nil, ErrResumeUnknownOption
	}

	if _, err := s.lifecycle.Resume(ctx, sessionID); err != nil {
		return nil, err
	}

	if chosen.GraceSeconds > 0 {
		meta := model.GraceMetadata{ReconnectedAt: &eval.EvaluatedAt}
		if _, err := s.grace.Request(ctx, sessionID, model.GraceReasonDisconnect, chosen.GraceSeconds, meta); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Resume grace request rejected")
		}
	}

	return s.lifecycle.Get(ctx, sessionID)
}

// boundedGrace computes the compensation an option would carry: the
// quota-clamped grant for the wall-clock time elapsed since the state
// the option restores was recorded.
func (s *ResumeManager) boundedGrace(session *model.ExamSession, since, now time.Time) int {
	elapsed := int(now.Sub(since).Seconds())
	if elapsed <= 0 {
		return 0
	}
	return s.grace.grant(session, elapsed)
}

func (s *ResumeManager) logEvaluation(ctx context.Context, eval *model.ResumeEvaluation) {
	kinds := make([]string, 0, len(eval.Options))
	for _, opt := range eval.Options {
		kinds = append(kinds, string(opt.Kind))
	}
	s.events.Append(ctx, &model.ExamEvent{
		SessionID: eval.SessionID,
		Type:      model.EventResumeEvaluated,
		Payload: map[string]interface{}{
			"can_resume":      eval.CanResume,
			"reason":          eval.Reason,
			"warnings":        eval.Warnings,
			"options":         kinds,
			"disconnect_time": eval.DisconnectTime,
		},
	})
}
