package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// Domain errors for the session state machine.
var (
	ErrSessionNotActive  = errors.New("session is not in progress")
	ErrSessionNotPaused  = errors.New("session is not paused")
	ErrSessionNotStarted = errors.New("session has not been started")
	ErrSessionTerminal   = errors.New("session already reached a terminal state")
	ErrInvalidNavigation = errors.New("navigation index out of range")
	ErrUnknownQuestion   = errors.New("question does not belong to this session")
)

// ExamSessionService is the authoritative state machine for exam
// sessions. All mutations go through it under a per-session lock
// (single-writer-per-session); operations on different sessions run
// fully in parallel.
type ExamSessionService struct {
	sessions    SessionStore
	assignments AssignmentStore
	timers      *TimerManager
	events      EventSink
	cfg         *config.Config
	log         zerolog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	// onTerminal tears down per-session resources owned by other
	// components (autosave loop, disconnect tracking). Set once during
	// wiring, before any session starts.
	onTerminal func(sessionID uuid.UUID)

	// state, when set, serves the hot polling endpoint without a
	// database round trip. Optional.
	state StateCache
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	sessions SessionStore,
	assignments AssignmentStore,
	timers *TimerManager,
	events EventSink,
	cfg *config.Config,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		sessions:    sessions,
		assignments: assignments,
		timers:      timers,
		events:      events,
		cfg:         cfg,
		log:         log.With().Str("component", "session_service").Logger(),
		locks:       make(map[uuid.UUID]*sync.Mutex),
	}
}

// SetTerminalHook registers the teardown callback. Call during wiring.
func (s *ExamSessionService) SetTerminalHook(fn func(sessionID uuid.UUID)) {
	s.onTerminal = fn
}

// SetStateCache registers the hot-state cache. Call during wiring.
func (s *ExamSessionService) SetStateCache(cache StateCache) {
	s.state = cache
}

// lockFor returns the per-session mutex, creating it on first use.
func (s *ExamSessionService) lockFor(sessionID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// teardown releases everything keyed by the session id once the session
// is terminal, so the registries never grow without bound.
func (s *ExamSessionService) teardown(sessionID uuid.UUID) {
	s.timers.Remove(sessionID)

	if s.state != nil {
		s.state.Drop(context.Background(), sessionID)
	}

	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()

	if s.onTerminal != nil {
		s.onTerminal(sessionID)
	}
}

// Create builds a new session for a (student, assignment) attempt.
// Question and option orders are derived exactly once here and are
// immutable for the session's lifetime; the anti-cheat configuration is
// snapshotted so later assignment edits never change in-flight rules.
// Creating twice for the same pair returns the existing attempt.
func (s *ExamSessionService) Create(ctx context.Context, assignmentID, studentID string, meta model.SessionMeta) (*model.ExamSession, error) {
	existing, err := s.sessions.GetByAssignmentAndStudent(ctx, assignmentID, studentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}
	if existing != nil && !existing.Status.Terminal() {
		return existing, nil
	}

	assignment, err := s.assignments.Get(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}

	order, optionOrders := GenerateQuestionOrder(assignment, studentID, assignment.AntiCheat)

	now := time.Now()
	session := &model.ExamSession{
		ID:            uuid.New(),
		AssignmentID:  assignmentID,
		StudentID:     studentID,
		Status:        model.SessionStatusNotStarted,
		TimeRemaining: assignment.DurationMinutes * 60,
		QuestionOrder: order,
		OptionOrders:  optionOrders,
		Answers:       make(map[string][]string),
		AntiCheat:     assignment.AntiCheat,
		UserAgent:     meta.UserAgent,
		IPAddress:     meta.IPAddress,
		Timezone:      meta.Timezone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		// Two parallel creates can both miss the existence check; the
		// store's live-attempt uniqueness decides, and the loser
		// returns the winner's attempt.
		if errors.Is(err, ErrDuplicateAttempt) {
			winner, getErr := s.sessions.GetByAssignmentAndStudent(ctx, assignmentID, studentID)
			if getErr != nil {
				return nil, fmt.Errorf("load winning attempt: %w", getErr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: session.ID,
		Type:      model.EventSessionCreated,
		Payload: map[string]interface{}{
			"assignment_id":     assignmentID,
			"student_id":        studentID,
			"question_count":    len(order),
			"shuffle_questions": assignment.AntiCheat.ShuffleQuestions,
			"shuffle_options":   assignment.AntiCheat.ShuffleOptions,
		},
	})

	return session, nil
}

// Start moves NOT_STARTED -> IN_PROGRESS, records the start time,
// computes the expected end (personal duration, fixed deadline, or
// unlimited) and spins up the countdown. Starting an already running
// session returns it unchanged.
func (s *ExamSessionService) Start(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case model.SessionStatusNotStarted:
		// proceed
	case model.SessionStatusInProgress:
		return session, nil
	case model.SessionStatusPaused:
		return nil, ErrSessionNotStarted
	default:
		return nil, ErrSessionTerminal
	}

	assignment, err := s.assignments.Get(ctx, session.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}

	now := time.Now()
	session.StartedAt = &now

	switch {
	case assignment.DurationMinutes > 0:
		end := now.Add(time.Duration(assignment.DurationMinutes) * time.Minute)
		session.ExpectedEndAt = &end
		session.TimeRemaining = assignment.DurationMinutes * 60
	case assignment.Deadline != nil:
		session.ExpectedEndAt = assignment.Deadline
		remaining := int(time.Until(*assignment.Deadline).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		session.TimeRemaining = remaining
	default:
		// Untimed attempt: no countdown at all.
		session.ExpectedEndAt = nil
		session.TimeRemaining = 0
	}

	session.Status = model.SessionStatusInProgress
	session.UpdatedAt = now

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.cacheState(ctx, session)

	if session.ExpectedEndAt != nil {
		ch := s.timers.CreateWithRemaining(sessionID, session.TimeRemaining)
		if err := s.timers.Start(sessionID); err != nil {
			return nil, fmt.Errorf("start timer: %w", err)
		}
		go s.consumeTimerEvents(ch)
	}

	payload := map[string]interface{}{"started_at": now}
	if session.ExpectedEndAt != nil {
		payload["expected_end_at"] = *session.ExpectedEndAt
		payload["time_remaining"] = session.TimeRemaining
	}
	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventSessionStarted,
		Payload:   payload,
	})

	return session, nil
}

// Pause moves IN_PROGRESS -> PAUSED and freezes the countdown. Pausing
// an already-paused session is a no-op and does not double-count the
// disconnect.
func (s *ExamSessionService) Pause(ctx context.Context, sessionID uuid.UUID, reason string) (*model.ExamSession, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == model.SessionStatusPaused {
		return session, nil
	}
	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.Status != model.SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}

	_ = s.timers.Pause(sessionID) // untimed sessions have no timer
	s.syncRemaining(session)

	oldCount := session.DisconnectCount
	session.Status = model.SessionStatusPaused
	session.DisconnectCount++
	session.UpdatedAt = time.Now()

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.cacheState(ctx, session)

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventSessionPaused,
		Payload: map[string]interface{}{
			"reason":               reason,
			"disconnect_count_old": oldCount,
			"disconnect_count_new": session.DisconnectCount,
			"time_remaining":       session.TimeRemaining,
		},
	})

	return session, nil
}

// Resume moves PAUSED -> IN_PROGRESS, crediting the configured base
// resume grant. The grant stacks with grace periods negotiated through
// the grace manager but both answer to the same lifetime quota.
// Resuming a running session is a no-op.
func (s *ExamSessionService) Resume(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == model.SessionStatusInProgress {
		return session, nil
	}
	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.Status != model.SessionStatusPaused {
		return nil, ErrSessionNotPaused
	}

	grant := s.clampGrace(session, s.cfg.ResumeGraceSeconds)

	_ = s.timers.Resume(sessionID, grant)
	s.syncRemaining(session)

	oldTotal := session.TotalGrace
	session.TotalGrace += grant
	session.Status = model.SessionStatusInProgress
	session.UpdatedAt = time.Now()

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.cacheState(ctx, session)

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventSessionResumed,
		Payload: map[string]interface{}{
			"grace_granted":   grant,
			"total_grace_old": oldTotal,
			"total_grace_new": session.TotalGrace,
			"time_remaining":  session.TimeRemaining,
		},
	})

	return session, nil
}

// Complete moves IN_PROGRESS -> COMPLETED. Terminal; the timer is halted
// synchronously so no late callback can touch the closed session.
func (s *ExamSessionService) Complete(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == model.SessionStatusCompleted {
		return session, nil
	}
	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.Status != model.SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}

	_ = s.timers.Stop(sessionID)

	now := time.Now()
	session.Status = model.SessionStatusCompleted
	session.FinishedAt = &now
	session.TimeRemaining = 0
	session.UpdatedAt = now

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventSessionCompleted,
		Payload: map[string]interface{}{
			"finished_at":    now,
			"answered_count": len(session.Answers),
		},
	})

	s.teardown(sessionID)
	return session, nil
}

// Terminate force-closes a session from IN_PROGRESS or PAUSED. Used for
// violations or administrative closure. Terminal.
func (s *ExamSessionService) Terminate(ctx context.Context, sessionID uuid.UUID, reason string) (*model.ExamSession, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.Status != model.SessionStatusInProgress && session.Status != model.SessionStatusPaused {
		return nil, ErrSessionNotActive
	}

	_ = s.timers.Stop(sessionID)
	s.syncRemaining(session)

	now := time.Now()
	session.Status = model.SessionStatusTerminated
	session.FinishedAt = &now
	session.UpdatedAt = now

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventSessionTerminated,
		Severity:  model.SeverityWarning,
		Payload: map[string]interface{}{
			"reason":      reason,
			"finished_at": now,
		},
	})

	s.teardown(sessionID)
	return session, nil
}

// expire handles the countdown reaching zero. A late expiry against an
// already-terminal session is discarded, never applied.
func (s *ExamSessionService) expire(ctx context.Context, sessionID uuid.UUID) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Expire: load failed")
		return
	}
	if session.Status.Terminal() {
		return
	}

	now := time.Now()
	session.Status = model.SessionStatusExpired
	session.FinishedAt = &now
	session.TimeRemaining = 0
	session.UpdatedAt = now

	if err := s.sessions.Update(ctx, session); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Expire: update failed")
		return
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventSessionExpired,
		Severity:  model.SeverityWarning,
		Payload: map[string]interface{}{
			"reason":      "TIME_EXPIRED",
			"finished_at": now,
		},
	})

	s.teardown(sessionID)
}

// UpdateAnswer records a submitted answer. Permitted only while
// IN_PROGRESS; unknown questions are rejected without mutation.
func (s *ExamSessionService) UpdateAnswer(ctx context.Context, sessionID uuid.UUID, questionID string, selected []string) (*model.ExamSession, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.Status != model.SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}
	if _, ok := session.OptionOrders[questionID]; !ok {
		return nil, ErrUnknownQuestion
	}

	old := session.Answers[questionID]
	session.Answers[questionID] = selected
	s.syncRemaining(session)
	session.UpdatedAt = time.Now()

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventAnswerUpdated,
		Payload: map[string]interface{}{
			"question_id": questionID,
			"old":         old,
			"new":         selected,
		},
	})

	return session, nil
}

// Navigate moves the current question index. Out-of-range targets are
// rejected without touching state.
func (s *ExamSessionService) Navigate(ctx context.Context, sessionID uuid.UUID, index int) (*model.ExamSession, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.Status != model.SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}
	if index < 0 || index >= len(session.QuestionOrder) {
		return nil, ErrInvalidNavigation
	}

	old := session.CurrentQuestionIndex
	session.CurrentQuestionIndex = index
	session.UpdatedAt = time.Now()

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventNavigated,
		Payload: map[string]interface{}{
			"from": old,
			"to":   index,
		},
	})

	return session, nil
}

// Get returns the current session record.
func (s *ExamSessionService) Get(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	return s.sessions.Get(ctx, sessionID)
}

// State serves the compact timing view for the hot polling endpoint.
// Cache first; on a miss the database answers and the entry is healed
// for the next poll.
func (s *ExamSessionService) State(ctx context.Context, sessionID uuid.UUID) (*model.SessionState, error) {
	if s.state != nil {
		if st, err := s.state.Get(ctx, sessionID); err == nil {
			projectState(st, time.Now())
			return st, nil
		}
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.syncRemaining(session)

	st := stateOf(session, time.Now())
	if s.state != nil {
		s.state.Put(ctx, st)
	}
	return st, nil
}

// stateOf projects a session onto its hot timing state as of now.
func stateOf(session *model.ExamSession, now time.Time) *model.SessionState {
	return &model.SessionState{
		SessionID:       session.ID,
		StudentID:       session.StudentID,
		Status:          session.Status,
		TimeRemaining:   session.TimeRemaining,
		ExpectedEndAt:   session.ExpectedEndAt,
		DisconnectCount: session.DisconnectCount,
		AsOf:            now,
	}
}

// projectState rolls a cached running countdown forward to now. Paused
// and untimed states hold their value.
func projectState(st *model.SessionState, now time.Time) {
	if st.Status != model.SessionStatusInProgress || st.ExpectedEndAt == nil {
		return
	}
	remaining := st.TimeRemaining - int(now.Sub(st.AsOf).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	st.TimeRemaining = remaining
	st.AsOf = now
}

// cacheState refreshes the cached hot state after a mutation.
// Best-effort; no cache means no work.
func (s *ExamSessionService) cacheState(ctx context.Context, session *model.ExamSession) {
	if s.state == nil {
		return
	}
	snap := *session
	s.syncRemaining(&snap)
	s.state.Put(ctx, stateOf(&snap, time.Now()))
}

// ApplyGrace credits approved grace seconds to the session and its
// timer. Returns the amount actually applied after the lifetime quota
// clamp. Called by the grace manager; the caller is responsible for the
// decision event.
func (s *ExamSessionService) ApplyGrace(ctx context.Context, sessionID uuid.UUID, seconds int) (int, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	if session.Status.Terminal() {
		return 0, ErrSessionTerminal
	}
	if session.Status != model.SessionStatusInProgress && session.Status != model.SessionStatusPaused {
		return 0, ErrSessionNotActive
	}

	granted := s.clampGrace(session, seconds)
	if granted <= 0 {
		return 0, nil
	}

	if err := s.timers.AddTime(sessionID, granted); err != nil && !errors.Is(err, ErrTimerNotFound) {
		return 0, fmt.Errorf("add time: %w", err)
	}

	session.TimeRemaining += granted
	session.TotalGrace += granted
	session.UpdatedAt = time.Now()

	if err := s.sessions.Update(ctx, session); err != nil {
		return 0, fmt.Errorf("update session: %w", err)
	}
	s.cacheState(ctx, session)

	return granted, nil
}

// RestoreFromSnapshot overwrites the session's progress with an
// auto-save snapshot during resume-after-reconnect.
func (s *ExamSessionService) RestoreFromSnapshot(ctx context.Context, sessionID uuid.UUID, snap *model.AutoSaveData) (*model.ExamSession, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.Status != model.SessionStatusPaused {
		return nil, ErrSessionNotPaused
	}

	answers := make(map[string][]string, len(snap.Answers))
	for qid, sel := range snap.Answers {
		if _, ok := session.OptionOrders[qid]; ok {
			answers[qid] = sel
		}
	}
	session.Answers = answers

	index := snap.CurrentQuestionIndex
	if index < 0 || index >= len(session.QuestionOrder) {
		index = 0
	}
	session.CurrentQuestionIndex = index
	session.UpdatedAt = time.Now()

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.cacheState(ctx, session)

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventResumeExecuted,
		Payload: map[string]interface{}{
			"option":         "auto_save",
			"captured_at":    snap.CapturedAt,
			"answered_count": len(answers),
		},
	})

	return session, nil
}

// Restart wipes the session's progress and restores the full duration.
// Question and option orders are immutable and survive the restart.
func (s *ExamSessionService) Restart(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.Status != model.SessionStatusPaused {
		return nil, ErrSessionNotPaused
	}

	assignment, err := s.assignments.Get(ctx, session.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}

	session.Answers = make(map[string][]string)
	session.CurrentQuestionIndex = 0
	session.TimeRemaining = assignment.DurationMinutes * 60
	session.UpdatedAt = time.Now()

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.cacheState(ctx, session)

	if session.ExpectedEndAt != nil {
		ch := s.timers.RestorePaused(sessionID, session.TimeRemaining)
		go s.consumeTimerEvents(ch)
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventResumeExecuted,
		Payload: map[string]interface{}{
			"option":         "restart",
			"time_remaining": session.TimeRemaining,
		},
	})

	return session, nil
}

// RestoreTimer replaces the session's countdown with a paused timer
// holding the given remaining seconds. Idempotent: repeated restores
// replace, never stack.
func (s *ExamSessionService) RestoreTimer(sessionID uuid.UUID, remainingSeconds int) {
	ch := s.timers.RestorePaused(sessionID, remainingSeconds)
	go s.consumeTimerEvents(ch)
}

// clampGrace bounds a grant by the session lifetime quota: total
// accumulated grace never exceeds twice the configured base period.
func (s *ExamSessionService) clampGrace(session *model.ExamSession, seconds int) int {
	quota := 2 * s.cfg.GracePeriodSeconds
	room := quota - session.TotalGrace
	if room < 0 {
		room = 0
	}
	if seconds > room {
		seconds = room
	}
	if seconds < 0 {
		seconds = 0
	}
	return seconds
}

// syncRemaining refreshes the record's countdown from the live timer.
func (s *ExamSessionService) syncRemaining(session *model.ExamSession) {
	if remaining, err := s.timers.Remaining(session.ID); err == nil {
		session.TimeRemaining = remaining
	}
}

// consumeTimerEvents reacts to a session's countdown: warnings become
// audit entries (rendering user-facing text is the caller's concern)
// and expiry closes the session. Runs until the timer is torn down.
func (s *ExamSessionService) consumeTimerEvents(ch <-chan TimerEvent) {
	for ev := range ch {
		switch ev.Kind {
		case TimerEventWarning:
			s.events.Append(context.Background(), &model.ExamEvent{
				SessionID: ev.SessionID,
				Type:      model.EventTimerWarning,
				Severity:  model.SeverityWarning,
				Payload: map[string]interface{}{
					"threshold": ev.Threshold,
					"remaining": ev.Remaining,
				},
			})
		case TimerEventExpired:
			s.expire(context.Background(), ev.SessionID)
			return
		case TimerEventStopped:
			return
		}
	}
}
