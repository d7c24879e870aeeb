package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// In-memory store fakes. They return copies the way a database scan
// would, so mutations only land through Create/Update.

func testConfig() *config.Config {
	return &config.Config{
		AutosaveInterval:   10 * time.Second,
		AutosaveMaxRetries: 3,
		AutosaveRetryDelay: time.Millisecond,

		GracePeriodSeconds: 300,
		GraceMaxPerRequest: 300,
		GraceAutoApprove:   true,
		ResumeGraceSeconds: 30,

		MaxReconnects:         3,
		HeartbeatTimeout:      time.Minute,
		ResumeAbsoluteTimeout: 30 * time.Minute,
	}
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.ExamSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[uuid.UUID]*model.ExamSession)}
}

func cloneSession(s *model.ExamSession) *model.ExamSession {
	out := *s
	out.QuestionOrder = append([]string(nil), s.QuestionOrder...)
	out.OptionOrders = make(map[string][]string, len(s.OptionOrders))
	for k, v := range s.OptionOrders {
		out.OptionOrders[k] = append([]string(nil), v...)
	}
	out.Answers = make(map[string][]string, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = append([]string(nil), v...)
	}
	return &out
}

func (s *memSessionStore) Get(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *memSessionStore) GetByAssignmentAndStudent(_ context.Context, assignmentID, studentID string) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.ExamSession
	for _, sess := range s.sessions {
		if sess.AssignmentID != assignmentID || sess.StudentID != studentID {
			continue
		}
		if latest == nil || sess.CreatedAt.After(latest.CreatedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneSession(latest), nil
}

func (s *memSessionStore) Create(_ context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirrors idx_sessions_active_attempt: one live attempt per pair.
	for _, existing := range s.sessions {
		if existing.AssignmentID == sess.AssignmentID &&
			existing.StudentID == sess.StudentID &&
			!existing.Status.Terminal() {
			return ErrDuplicateAttempt
		}
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *memSessionStore) Update(_ context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

type memAssignmentStore struct {
	assignments map[string]*model.Assignment
}

func (s *memAssignmentStore) Get(_ context.Context, id string) (*model.Assignment, error) {
	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

type memGraceStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*model.GracePeriodRecord
}

func newMemGraceStore() *memGraceStore {
	return &memGraceStore{records: make(map[uuid.UUID]*model.GracePeriodRecord)}
}

func (s *memGraceStore) Create(_ context.Context, g *model.GracePeriodRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *g
	s.records[g.ID] = &clone
	return nil
}

func (s *memGraceStore) Update(_ context.Context, g *model.GracePeriodRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[g.ID]
	if !ok || existing.Status != model.GraceStatusPending {
		return ErrNotFound
	}
	clone := *g
	s.records[g.ID] = &clone
	return nil
}

func (s *memGraceStore) Amend(_ context.Context, g *model.GracePeriodRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[g.ID]; !ok {
		return ErrNotFound
	}
	clone := *g
	s.records[g.ID] = &clone
	return nil
}

func (s *memGraceStore) Get(_ context.Context, id uuid.UUID) (*model.GracePeriodRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *g
	return &clone, nil
}

func (s *memGraceStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.GracePeriodRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.GracePeriodRecord
	for _, g := range s.records {
		if g.SessionID == sessionID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *memGraceStore) ExpirePending(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var n int64
	for _, g := range s.records {
		if g.Status == model.GraceStatusPending && g.ExpiresAt != nil && g.ExpiresAt.Before(now) {
			g.Status = model.GraceStatusExpired
			g.DecidedAt = &now
			n++
		}
	}
	return n, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []model.ExamEvent
}

func (s *captureSink) Append(_ context.Context, e *model.ExamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
}

func (s *captureSink) ofType(t model.EventType) []model.ExamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExamEvent
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type memEventStore struct {
	history []model.ExamEvent
}

func (s *memEventStore) ListBySession(_ context.Context, _ uuid.UUID) ([]model.ExamEvent, error) {
	return s.history, nil
}

type memBehaviorStore struct {
	mu      sync.Mutex
	records []model.SuspiciousBehaviorRecord
}

func (s *memBehaviorStore) Create(_ context.Context, b *model.SuspiciousBehaviorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *b)
	return nil
}

func (s *memBehaviorStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.SuspiciousBehaviorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SuspiciousBehaviorRecord
	for _, b := range s.records {
		if b.SessionID == sessionID {
			out = append(out, b)
		}
	}
	return out, nil
}

type memStateCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*model.SessionState
	hits    int
	puts    int
	drops   int
}

func newMemStateCache() *memStateCache {
	return &memStateCache{entries: make(map[uuid.UUID]*model.SessionState)}
}

func (c *memStateCache) Get(_ context.Context, sessionID uuid.UUID) (*model.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	c.hits++
	clone := *st
	return &clone, nil
}

func (c *memStateCache) Put(_ context.Context, st *model.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *st
	c.entries[st.SessionID] = &clone
	c.puts++
}

func (c *memStateCache) Drop(_ context.Context, sessionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
	c.drops++
}

type stubRestorer struct {
	snap *model.AutoSaveData
	err  error
}

func (s *stubRestorer) Restore(_ context.Context, _ uuid.UUID) (*model.AutoSaveData, error) {
	return s.snap, s.err
}

type stubSaver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubSaver) SaveNow(_ context.Context, _ uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *stubSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// testAssignment builds an assignment with n questions of four options each.
func testAssignment(id string, n int, cfg model.AntiCheatConfig) *model.Assignment {
	questions := make([]model.Question, n)
	for i := range questions {
		qid := string(rune('a'+i)) + "-question"
		questions[i] = model.Question{
			ID:        qid,
			Text:      "question " + qid,
			OptionIDs: []string{qid + "-opt1", qid + "-opt2", qid + "-opt3", qid + "-opt4"},
		}
	}
	return &model.Assignment{
		ID:              id,
		Title:           "Ujian " + id,
		DurationMinutes: 60,
		AntiCheat:       cfg,
		Questions:       questions,
	}
}

type lifecycleFixture struct {
	svc         *ExamSessionService
	sessions    *memSessionStore
	assignments *memAssignmentStore
	sink        *captureSink
	timers      *TimerManager
	cfg         *config.Config
}

func newLifecycleFixture(cfg *config.Config, assignments ...*model.Assignment) *lifecycleFixture {
	if cfg == nil {
		cfg = testConfig()
	}
	store := &memAssignmentStore{assignments: make(map[string]*model.Assignment)}
	for _, a := range assignments {
		store.assignments[a.ID] = a
	}
	sessions := newMemSessionStore()
	sink := &captureSink{}
	timers := NewTimerManager(zerolog.Nop())
	svc := NewExamSessionService(sessions, store, timers, sink, cfg, zerolog.Nop())
	return &lifecycleFixture{
		svc:         svc,
		sessions:    sessions,
		assignments: store,
		sink:        sink,
		timers:      timers,
		cfg:         cfg,
	}
}
