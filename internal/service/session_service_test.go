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

func TestCreateSessionIsIdempotent(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 5, model.AntiCheatConfig{ShuffleQuestions: true}))
	ctx := context.Background()

	first, err := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{Timezone: "Asia/Jakarta"})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusNotStarted, first.Status)
	assert.Len(t, first.QuestionOrder, 5)
	assert.Equal(t, 60*60, first.TimeRemaining)

	second, err := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same attempt is returned, not a new one")
	assert.Equal(t, first.QuestionOrder, second.QuestionOrder)

	created := fx.sink.ofType(model.EventSessionCreated)
	assert.Len(t, created, 1)
}

// missTwiceStore simulates the window where two parallel creates both
// miss the existence check before either insert lands.
type missTwiceStore struct {
	*memSessionStore
	misses int
}

func (s *missTwiceStore) GetByAssignmentAndStudent(ctx context.Context, assignmentID, studentID string) (*model.ExamSession, error) {
	if s.misses < 2 {
		s.misses++
		return nil, ErrNotFound
	}
	return s.memSessionStore.GetByAssignmentAndStudent(ctx, assignmentID, studentID)
}

func TestCreateSessionRaceReturnsWinner(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	racing := &missTwiceStore{memSessionStore: fx.sessions}
	svc := NewExamSessionService(racing, fx.assignments, fx.timers, fx.sink, fx.cfg, zerolog.Nop())
	ctx := context.Background()

	winner, err := svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	require.NoError(t, err)

	// The second create misses the check too, collides on the
	// live-attempt uniqueness and comes back with the winner.
	loser, err := svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, loser.ID)

	fx.sessions.mu.Lock()
	stored := len(fx.sessions.sessions)
	fx.sessions.mu.Unlock()
	assert.Equal(t, 1, stored, "exactly one authoritative attempt exists")
}

func TestCreateSessionUnknownAssignment(t *testing.T) {
	fx := newLifecycleFixture(nil)

	_, err := fx.svc.Create(context.Background(), "missing", "student-1", model.SessionMeta{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartTimedSession(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	require.NoError(t, err)

	started, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, started.Status)
	require.NotNil(t, started.StartedAt)
	require.NotNil(t, started.ExpectedEndAt)
	assert.Equal(t, 60*60, started.TimeRemaining)

	state, err := fx.timers.State(session.ID)
	require.NoError(t, err)
	assert.Equal(t, TimerRunning, state)

	// Starting again is a no-op.
	again, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, again.Status)
	assert.Len(t, fx.sink.ofType(model.EventSessionStarted), 1)
}

func TestStartUntimedSession(t *testing.T) {
	assignment := testAssignment("exam-1", 3, model.AntiCheatConfig{})
	assignment.DurationMinutes = 0
	fx := newLifecycleFixture(nil, assignment)
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	require.NoError(t, err)

	started, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, started.ExpectedEndAt)
	assert.Equal(t, 0, started.TimeRemaining)

	_, err = fx.timers.State(session.ID)
	assert.ErrorIs(t, err, ErrTimerNotFound, "untimed sessions run without a countdown")
}

func TestPauseCountsDisconnectOnce(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)

	paused, err := fx.svc.Pause(ctx, session.ID, "NETWORK_OFFLINE")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPaused, paused.Status)
	assert.Equal(t, 1, paused.DisconnectCount)

	// Pausing a paused session must not double-count.
	again, err := fx.svc.Pause(ctx, session.ID, "PAGE_HIDDEN")
	require.NoError(t, err)
	assert.Equal(t, 1, again.DisconnectCount)
	assert.Len(t, fx.sink.ofType(model.EventSessionPaused), 1)
}

func TestResumeGrantsBaseGrace(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	_, err = fx.svc.Pause(ctx, session.ID, "NETWORK_OFFLINE")
	require.NoError(t, err)

	resumed, err := fx.svc.Resume(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, resumed.Status)
	assert.Equal(t, fx.cfg.ResumeGraceSeconds, resumed.TotalGrace)

	// Resuming a running session grants nothing more.
	again, err := fx.svc.Resume(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, fx.cfg.ResumeGraceSeconds, again.TotalGrace)
}

func TestResumeGraceClampedByQuota(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	_, err = fx.svc.Pause(ctx, session.ID, "NETWORK_OFFLINE")
	require.NoError(t, err)

	// Exhaust the lifetime quota directly in the store.
	quota := 2 * fx.cfg.GracePeriodSeconds
	stored, err := fx.sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	stored.TotalGrace = quota
	require.NoError(t, fx.sessions.Update(ctx, stored))

	resumed, err := fx.svc.Resume(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, quota, resumed.TotalGrace, "no grant past the quota")
}

func TestCompleteIsTerminal(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	var torn []uuid.UUID
	fx.svc.SetTerminalHook(func(id uuid.UUID) { torn = append(torn, id) })

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)

	done, err := fx.svc.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, done.Status)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, 0, done.TimeRemaining)
	assert.Equal(t, []uuid.UUID{session.ID}, torn)

	// No transition leaves a terminal state.
	_, err = fx.svc.Pause(ctx, session.ID, "x")
	assert.ErrorIs(t, err, ErrSessionTerminal)
	_, err = fx.svc.Resume(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionTerminal)
	_, err = fx.svc.Terminate(ctx, session.ID, "too late")
	assert.ErrorIs(t, err, ErrSessionTerminal)
	_, err = fx.svc.UpdateAnswer(ctx, session.ID, "a-question", []string{"a-question-opt1"})
	assert.ErrorIs(t, err, ErrSessionTerminal)

	// Completing again just returns the record.
	again, err := fx.svc.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, again.Status)
}

func TestTerminateFromPaused(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	_, err = fx.svc.Pause(ctx, session.ID, "NETWORK_OFFLINE")
	require.NoError(t, err)

	terminated, err := fx.svc.Terminate(ctx, session.ID, "pelanggaran")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusTerminated, terminated.Status)

	events := fx.sink.ofType(model.EventSessionTerminated)
	require.Len(t, events, 1)
	assert.Equal(t, "pelanggaran", events[0].Payload["reason"])
}

func TestUpdateAnswerValidation(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})

	// Not started yet.
	_, err := fx.svc.UpdateAnswer(ctx, session.ID, "a-question", []string{"a-question-opt1"})
	assert.ErrorIs(t, err, ErrSessionNotActive)

	_, err = fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)

	_, err = fx.svc.UpdateAnswer(ctx, session.ID, "not-a-question", []string{"x"})
	assert.ErrorIs(t, err, ErrUnknownQuestion)

	updated, err := fx.svc.UpdateAnswer(ctx, session.ID, "a-question", []string{"a-question-opt2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-question-opt2"}, updated.Answers["a-question"])

	// Overwriting keeps exactly one entry per question.
	updated, err = fx.svc.UpdateAnswer(ctx, session.ID, "a-question", []string{"a-question-opt3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-question-opt3"}, updated.Answers["a-question"])
	assert.Len(t, updated.Answers, 1)
}

func TestNavigateBounds(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)

	_, err = fx.svc.Navigate(ctx, session.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidNavigation)
	_, err = fx.svc.Navigate(ctx, session.ID, 3)
	assert.ErrorIs(t, err, ErrInvalidNavigation)

	moved, err := fx.svc.Navigate(ctx, session.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, moved.CurrentQuestionIndex)
}

func TestApplyGraceClampsToQuota(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)

	quota := 2 * fx.cfg.GracePeriodSeconds
	applied, err := fx.svc.ApplyGrace(ctx, session.ID, quota+500)
	require.NoError(t, err)
	assert.Equal(t, quota, applied)

	// Quota is exhausted now.
	applied, err = fx.svc.ApplyGrace(ctx, session.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	current, err := fx.svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, quota, current.TotalGrace)
}

func TestRestoreFromSnapshotFiltersUnknownQuestions(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	_, err = fx.svc.Pause(ctx, session.ID, "NETWORK_OFFLINE")
	require.NoError(t, err)

	snap := &model.AutoSaveData{
		SessionID:            session.ID,
		CapturedAt:           time.Now(),
		CurrentQuestionIndex: 99,
		Answers: map[string][]string{
			"a-question": {"a-question-opt1"},
			"phantom":    {"x"},
		},
	}

	restored, err := fx.svc.RestoreFromSnapshot(ctx, session.ID, snap)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"a-question": {"a-question-opt1"}}, restored.Answers)
	assert.Equal(t, 0, restored.CurrentQuestionIndex, "out-of-range index falls back to the first question")
}

func TestRestartKeepsOrders(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 5, model.AntiCheatConfig{ShuffleQuestions: true}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	_, err = fx.svc.UpdateAnswer(ctx, session.ID, session.QuestionOrder[0], []string{session.OptionOrders[session.QuestionOrder[0]][0]})
	require.NoError(t, err)
	_, err = fx.svc.Pause(ctx, session.ID, "NETWORK_OFFLINE")
	require.NoError(t, err)

	restarted, err := fx.svc.Restart(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, restarted.Answers)
	assert.Equal(t, 0, restarted.CurrentQuestionIndex)
	assert.Equal(t, 60*60, restarted.TimeRemaining)
	assert.Equal(t, session.QuestionOrder, restarted.QuestionOrder, "orders survive a restart")
}

func TestStateMissFallsBackAndHeals(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)

	// Attached after the fact, so the first read is a cold miss.
	cache := newMemStateCache()
	fx.svc.SetStateCache(cache)

	st, err := fx.svc.State(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, st.SessionID)
	assert.Equal(t, "student-1", st.StudentID)
	assert.Equal(t, model.SessionStatusInProgress, st.Status)
	assert.Equal(t, 0, cache.hits)
	assert.Equal(t, 1, cache.puts, "miss heals the entry")

	again, err := fx.svc.State(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits, "second poll is served from the cache")
	assert.Equal(t, st.SessionID, again.SessionID)
}

func TestStateProjectsRunningCountdown(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	cache := newMemStateCache()
	fx.svc.SetStateCache(cache)
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)

	cache.mu.Lock()
	entry := cache.entries[session.ID]
	require.NotNil(t, entry)
	entry.AsOf = entry.AsOf.Add(-90 * time.Second)
	cache.mu.Unlock()

	st, err := fx.svc.State(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 60*60-90, st.TimeRemaining, 2, "running countdown rolls forward from the cached snapshot")
}

func TestStateRefreshedOnPauseDroppedOnComplete(t *testing.T) {
	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	cache := newMemStateCache()
	fx.svc.SetStateCache(cache)
	ctx := context.Background()

	session, _ := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	_, err := fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)
	_, err = fx.svc.Pause(ctx, session.ID, "NETWORK_OFFLINE")
	require.NoError(t, err)

	st, err := fx.svc.State(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPaused, st.Status, "pause refreshes the cached status")

	_, err = fx.svc.Resume(ctx, session.ID)
	require.NoError(t, err)
	_, err = fx.svc.Complete(ctx, session.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, cache.drops, "terminal transition drops the entry")
	cache.mu.Lock()
	_, live := cache.entries[session.ID]
	cache.mu.Unlock()
	assert.False(t, live)
}
