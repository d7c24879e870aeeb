package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resumeFixture struct {
	*lifecycleFixture
	grace    *GracePeriodService
	graces   *memGraceStore
	restorer *stubRestorer
	manager  *ResumeManager
}

// newResumeFixture builds a paused session that went quiet elapsed ago.
func newResumeFixture(t *testing.T, elapsed time.Duration) (*resumeFixture, uuid.UUID) {
	t.Helper()

	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	graces := newMemGraceStore()
	grace := NewGracePeriodService(graces, fx.sessions, fx.svc, fx.sink, fx.cfg, zerolog.Nop())
	restorer := &stubRestorer{}
	manager := NewResumeManager(fx.svc, grace, restorer, fx.sink, fx.cfg, zerolog.Nop())

	ctx := context.Background()
	session, err := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	require.NoError(t, err)
	_, err = fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	_, err = fx.svc.Pause(ctx, session.ID, "NETWORK_OFFLINE")
	require.NoError(t, err)

	backdate(t, fx.sessions, session.ID, elapsed)

	return &resumeFixture{
		lifecycleFixture: fx,
		grace:            grace,
		graces:           graces,
		restorer:         restorer,
		manager:          manager,
	}, session.ID
}

// backdate shifts the session's UpdatedAt into the past to simulate a
// disconnect of the given length.
func backdate(t *testing.T, store *memSessionStore, sessionID uuid.UUID, elapsed time.Duration) {
	t.Helper()
	stored, err := store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	stored.UpdatedAt = time.Now().Add(-elapsed)
	require.NoError(t, store.Update(context.Background(), stored))
}

func optionOfKind(eval *model.ResumeEvaluation, kind model.ResumeOptionKind) *model.ResumeOption {
	for i := range eval.Options {
		if eval.Options[i].Kind == kind {
			return &eval.Options[i]
		}
	}
	return nil
}

func TestEvaluateTerminalSession(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Minute)
	ctx := context.Background()

	_, err := fx.svc.Resume(ctx, sessionID)
	require.NoError(t, err)
	_, err = fx.svc.Complete(ctx, sessionID)
	require.NoError(t, err)

	eval, err := fx.manager.Evaluate(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, eval.CanResume)
	assert.Equal(t, "SESSION_TERMINAL", eval.Reason)
	assert.Empty(t, eval.Options)
}

func TestEvaluateReconnectLimit(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Minute)
	ctx := context.Background()

	stored, err := fx.sessions.Get(ctx, sessionID)
	require.NoError(t, err)
	stored.DisconnectCount = fx.cfg.MaxReconnects
	require.NoError(t, fx.sessions.Update(ctx, stored))

	eval, err := fx.manager.Evaluate(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, eval.CanResume)
	assert.Equal(t, "RECONNECT_LIMIT", eval.Reason)
}

func TestEvaluateAbsoluteTimeout(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Hour)

	eval, err := fx.manager.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)
	assert.False(t, eval.CanResume)
	assert.Equal(t, "ABSOLUTE_TIMEOUT", eval.Reason)
}

func TestEvaluateRanksFresherSource(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Minute)

	// Snapshot captured after the session record went quiet.
	fx.restorer.snap = &model.AutoSaveData{
		SessionID:            sessionID,
		CapturedAt:           time.Now().Add(-10 * time.Second),
		CurrentQuestionIndex: 1,
		TimeRemaining:        3500,
	}

	eval, err := fx.manager.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)
	require.True(t, eval.CanResume)
	require.Len(t, eval.Options, 3)

	fromSession := optionOfKind(eval, model.ResumeFromSession)
	fromAutosave := optionOfKind(eval, model.ResumeFromAutosave)
	restart := optionOfKind(eval, model.ResumeRestart)
	require.NotNil(t, fromSession)
	require.NotNil(t, fromAutosave)
	require.NotNil(t, restart)

	assert.True(t, fromAutosave.Recommended, "the fresher source is recommended")
	assert.False(t, fromSession.Recommended)
	assert.False(t, restart.Recommended)

	// Grace tracks how stale each source is.
	assert.InDelta(t, 60, fromSession.GraceSeconds, 2)
	assert.InDelta(t, 10, fromAutosave.GraceSeconds, 2)
	assert.Equal(t, 0, restart.GraceSeconds)
}

func TestEvaluateWithoutSnapshot(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Minute)

	eval, err := fx.manager.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)
	require.True(t, eval.CanResume)
	require.Len(t, eval.Options, 2)

	fromSession := optionOfKind(eval, model.ResumeFromSession)
	require.NotNil(t, fromSession)
	assert.True(t, fromSession.Recommended)
	assert.Nil(t, optionOfKind(eval, model.ResumeFromAutosave))
	assert.Contains(t, eval.Warnings, "no auto-save snapshot found")
}

func TestEvaluateLowTimeWarning(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Minute)
	ctx := context.Background()

	stored, err := fx.sessions.Get(ctx, sessionID)
	require.NoError(t, err)
	stored.TimeRemaining = 60
	require.NoError(t, fx.sessions.Update(ctx, stored))

	eval, err := fx.manager.Evaluate(ctx, sessionID)
	require.NoError(t, err)
	assert.Contains(t, eval.Warnings, "less than 5 minutes of exam time remaining")
}

func TestEvaluateUntimedSessionSkipsLowTimeWarning(t *testing.T) {
	assignment := testAssignment("exam-1", 3, model.AntiCheatConfig{})
	assignment.DurationMinutes = 0
	fx := newLifecycleFixture(nil, assignment)
	graces := newMemGraceStore()
	grace := NewGracePeriodService(graces, fx.sessions, fx.svc, fx.sink, fx.cfg, zerolog.Nop())
	manager := NewResumeManager(fx.svc, grace, &stubRestorer{}, fx.sink, fx.cfg, zerolog.Nop())

	ctx := context.Background()
	session, err := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	require.NoError(t, err)
	_, err = fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	_, err = fx.svc.Pause(ctx, session.ID, "NETWORK_OFFLINE")
	require.NoError(t, err)

	// An untimed attempt has no countdown to run low.
	eval, err := manager.Evaluate(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, eval.CanResume)
	assert.NotContains(t, eval.Warnings, "less than 5 minutes of exam time remaining")
}

func TestExecuteFromSessionRecord(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Minute)
	ctx := context.Background()

	session, err := fx.manager.Execute(ctx, sessionID, model.ResumeFromSession)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, session.Status)

	// Base resume grant plus the elapsed compensation, both quota-bound.
	assert.GreaterOrEqual(t, session.TotalGrace, fx.cfg.ResumeGraceSeconds)
	assert.LessOrEqual(t, session.TotalGrace, 2*fx.cfg.GracePeriodSeconds)

	records, err := fx.graces.ListBySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.GraceReasonDisconnect, records[0].Reason)
	assert.Equal(t, model.GraceStatusAutoApproved, records[0].Status)
}

func TestExecuteFromAutosaveRestoresProgress(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Minute)
	ctx := context.Background()

	fx.restorer.snap = &model.AutoSaveData{
		SessionID:            sessionID,
		CapturedAt:           time.Now().Add(-5 * time.Second),
		CurrentQuestionIndex: 2,
		TimeRemaining:        3000,
		Answers:              map[string][]string{"a-question": {"a-question-opt1"}},
	}

	session, err := fx.manager.Execute(ctx, sessionID, model.ResumeFromAutosave)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, session.Status)
	assert.Equal(t, 2, session.CurrentQuestionIndex)
	assert.Equal(t, map[string][]string{"a-question": {"a-question-opt1"}}, session.Answers)
}

func TestExecuteRestartWipesProgress(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Minute)
	ctx := context.Background()

	stored, err := fx.sessions.Get(ctx, sessionID)
	require.NoError(t, err)
	stored.Answers = map[string][]string{"a-question": {"a-question-opt1"}}
	stored.CurrentQuestionIndex = 2
	require.NoError(t, fx.sessions.Update(ctx, stored))
	backdate(t, fx.sessions, sessionID, time.Minute)

	session, err := fx.manager.Execute(ctx, sessionID, model.ResumeRestart)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, session.Status)
	assert.Empty(t, session.Answers)
	assert.Equal(t, 0, session.CurrentQuestionIndex)
}

func TestExecuteRejectsUnavailableOption(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Minute)
	ctx := context.Background()

	// No snapshot exists, so AUTO_SAVE is not offered.
	_, err := fx.manager.Execute(ctx, sessionID, model.ResumeFromAutosave)
	assert.ErrorIs(t, err, ErrResumeUnknownOption)
}

func TestExecuteRejectsWhenNotResumable(t *testing.T) {
	fx, sessionID := newResumeFixture(t, time.Hour)

	_, err := fx.manager.Execute(context.Background(), sessionID, model.ResumeFromSession)
	assert.ErrorIs(t, err, ErrResumeNotAllowed)
}

func TestSnapshotFreshness(t *testing.T) {
	session := &model.ExamSession{UpdatedAt: time.Now()}
	older := &model.AutoSaveData{CapturedAt: session.UpdatedAt.Add(-time.Second)}
	newer := &model.AutoSaveData{CapturedAt: session.UpdatedAt.Add(time.Second)}

	assert.False(t, older.NewerThan(session))
	assert.True(t, newer.NewerThan(session))
}
