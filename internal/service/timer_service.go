package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Timer errors.
var (
	ErrTimerNotFound = errors.New("no timer for session")
	ErrTimerStopped  = errors.New("timer already stopped")
)

// TimerState enumerates per-timer states.
type TimerState string

const (
	TimerIdle    TimerState = "IDLE"
	TimerRunning TimerState = "RUNNING"
	TimerPaused  TimerState = "PAUSED"
	TimerStopped TimerState = "STOPPED"
)

// TimerEventKind tags events delivered on a timer's channel.
type TimerEventKind string

const (
	TimerEventTick    TimerEventKind = "tick"
	TimerEventWarning TimerEventKind = "warning"
	TimerEventExpired TimerEventKind = "expired"
	TimerEventPaused  TimerEventKind = "paused"
	TimerEventResumed TimerEventKind = "resumed"
	TimerEventStopped TimerEventKind = "stopped"
)

// TimerEvent is one tagged event from a session's countdown.
type TimerEvent struct {
	SessionID uuid.UUID      `json:"session_id"`
	Kind      TimerEventKind `json:"kind"`
	Remaining int            `json:"remaining"`           // seconds
	Threshold int            `json:"threshold,omitempty"` // warning events only
	At        time.Time      `json:"at"`
}

// warningThresholds are the remaining-seconds marks that fire a warning
// exactly once per timer.
var warningThresholds = [...]int{300, 60, 30, 10}

const timerEventBuffer = 128

type examTimer struct {
	sessionID uuid.UUID

	mu        sync.Mutex
	state     TimerState
	remaining float64 // seconds
	lastTick  time.Time
	warned    map[int]bool
	expired   bool

	events chan TimerEvent
	stop   chan struct{}
	once   sync.Once
}

// emit delivers an event without ever blocking the tick path. A lagging
// consumer loses tick events, never the timer itself.
func (t *examTimer) emit(ev TimerEvent) {
	select {
	case t.events <- ev:
	default:
	}
}

// advance applies a wall-clock delta. Time accounting is based on real
// elapsed time between ticks, not a fixed decrement, so delayed ticks
// under load never shortchange the student.
func (t *examTimer) advance(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := now.Sub(t.lastTick)
	t.lastTick = now

	if t.state != TimerRunning {
		return
	}

	t.remaining -= delta.Seconds()
	if t.remaining < 0 {
		t.remaining = 0
	}
	remaining := int(t.remaining)

	for _, threshold := range warningThresholds {
		if remaining <= threshold && remaining > 0 && !t.warned[threshold] {
			t.warned[threshold] = true
			t.emit(TimerEvent{SessionID: t.sessionID, Kind: TimerEventWarning, Remaining: remaining, Threshold: threshold, At: now})
		}
	}

	if t.remaining <= 0 && !t.expired {
		t.expired = true
		t.state = TimerStopped
		t.emit(TimerEvent{SessionID: t.sessionID, Kind: TimerEventExpired, Remaining: 0, At: now})
		t.closeStop()
		return
	}

	t.emit(TimerEvent{SessionID: t.sessionID, Kind: TimerEventTick, Remaining: remaining, At: now})
}

func (t *examTimer) closeStop() {
	t.once.Do(func() { close(t.stop) })
}

// TimerManager owns one countdown per active session, keyed by session
// id. It is an explicit registry: lifetimes are visible and terminal
// sessions are torn down through Remove.
type TimerManager struct {
	mu           sync.RWMutex
	timers       map[uuid.UUID]*examTimer
	tickInterval time.Duration
	log          zerolog.Logger
}

// NewTimerManager creates an empty timer registry.
func NewTimerManager(log zerolog.Logger) *TimerManager {
	return &TimerManager{
		timers:       make(map[uuid.UUID]*examTimer),
		tickInterval: time.Second,
		log:          log.With().Str("component", "timer_manager").Logger(),
	}
}

// Create registers an idle timer with a full duration. An existing timer
// for the session is stopped and replaced, never stacked.
func (m *TimerManager) Create(sessionID uuid.UUID, durationMinutes int) <-chan TimerEvent {
	return m.CreateWithRemaining(sessionID, durationMinutes*60)
}

// CreateWithRemaining registers an idle timer with an explicit remaining
// amount. Used when restoring a session after reconnect.
func (m *TimerManager) CreateWithRemaining(sessionID uuid.UUID, remainingSeconds int) <-chan TimerEvent {
	t := &examTimer{
		sessionID: sessionID,
		state:     TimerIdle,
		remaining: float64(remainingSeconds),
		warned:    make(map[int]bool),
		events:    make(chan TimerEvent, timerEventBuffer),
		stop:      make(chan struct{}),
	}

	m.mu.Lock()
	if old, ok := m.timers[sessionID]; ok {
		old.mu.Lock()
		if old.state != TimerStopped {
			old.state = TimerStopped
			old.emit(TimerEvent{SessionID: sessionID, Kind: TimerEventStopped, Remaining: int(old.remaining), At: time.Now()})
		}
		old.mu.Unlock()
		old.closeStop()
	}
	m.timers[sessionID] = t
	m.mu.Unlock()

	go m.run(t)

	m.log.Debug().
		Str("session_id", sessionID.String()).
		Int("remaining", remainingSeconds).
		Msg("Timer created")

	return t.events
}

// RestorePaused registers a replacement timer already in the paused
// state, ready to be resumed. Used by resume-after-reconnect so a
// restored session never stacks a second countdown.
func (m *TimerManager) RestorePaused(sessionID uuid.UUID, remainingSeconds int) <-chan TimerEvent {
	ch := m.CreateWithRemaining(sessionID, remainingSeconds)
	if t, ok := m.get(sessionID); ok {
		t.mu.Lock()
		t.state = TimerPaused
		t.lastTick = time.Now()
		t.mu.Unlock()
	}
	return ch
}

func (m *TimerManager) get(sessionID uuid.UUID) (*examTimer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.timers[sessionID]
	return t, ok
}

// Start begins the countdown and the 1-second tick loop.
func (m *TimerManager) Start(sessionID uuid.UUID) error {
	t, ok := m.get(sessionID)
	if !ok {
		return ErrTimerNotFound
	}

	t.mu.Lock()
	if t.state != TimerIdle {
		t.mu.Unlock()
		if t.state == TimerStopped {
			return ErrTimerStopped
		}
		return nil // already running or paused
	}
	t.state = TimerRunning
	t.lastTick = time.Now()
	t.mu.Unlock()
	return nil
}

// run is the tick loop. It never blocks on I/O; persistence happens
// asynchronously elsewhere.
func (m *TimerManager) run(t *examTimer) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.advance(now)
		}
	}
}

// Pause freezes the remaining time. Pausing an already-paused or stopped
// timer is a no-op, not an error.
func (m *TimerManager) Pause(sessionID uuid.UUID) error {
	t, ok := m.get(sessionID)
	if !ok {
		return ErrTimerNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TimerRunning {
		return nil
	}
	// Account for the part of the second already elapsed.
	now := time.Now()
	t.remaining -= now.Sub(t.lastTick).Seconds()
	if t.remaining < 0 {
		t.remaining = 0
	}
	t.lastTick = now
	t.state = TimerPaused
	t.emit(TimerEvent{SessionID: t.sessionID, Kind: TimerEventPaused, Remaining: int(t.remaining), At: now})
	return nil
}

// Resume restarts a paused timer, crediting graceSeconds first.
// Resuming a non-paused timer is a no-op.
func (m *TimerManager) Resume(sessionID uuid.UUID, graceSeconds int) error {
	t, ok := m.get(sessionID)
	if !ok {
		return ErrTimerNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TimerPaused {
		return nil
	}
	t.remaining += float64(graceSeconds)
	t.lastTick = time.Now()
	t.state = TimerRunning
	t.emit(TimerEvent{SessionID: t.sessionID, Kind: TimerEventResumed, Remaining: int(t.remaining), At: t.lastTick})
	return nil
}

// AddTime credits extra seconds to a timer that is not stopped.
func (m *TimerManager) AddTime(sessionID uuid.UUID, seconds int) error {
	t, ok := m.get(sessionID)
	if !ok {
		return ErrTimerNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TimerStopped {
		return ErrTimerStopped
	}
	t.remaining += float64(seconds)
	return nil
}

// Stop halts a timer permanently. Idempotent.
func (m *TimerManager) Stop(sessionID uuid.UUID) error {
	t, ok := m.get(sessionID)
	if !ok {
		return ErrTimerNotFound
	}

	t.mu.Lock()
	if t.state == TimerStopped {
		t.mu.Unlock()
		return nil
	}
	t.state = TimerStopped
	remaining := int(t.remaining)
	t.emit(TimerEvent{SessionID: t.sessionID, Kind: TimerEventStopped, Remaining: remaining, At: time.Now()})
	t.mu.Unlock()

	t.closeStop()
	return nil
}

// Remaining returns the current remaining seconds.
func (m *TimerManager) Remaining(sessionID uuid.UUID) (int, error) {
	t, ok := m.get(sessionID)
	if !ok {
		return 0, ErrTimerNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.remaining), nil
}

// State returns the timer's current state.
func (m *TimerManager) State(sessionID uuid.UUID) (TimerState, error) {
	t, ok := m.get(sessionID)
	if !ok {
		return "", ErrTimerNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, nil
}

// Remove stops and deregisters a session's timer. Terminal sessions must
// be removed so the registry never grows without bound.
func (m *TimerManager) Remove(sessionID uuid.UUID) {
	m.mu.Lock()
	t, ok := m.timers[sessionID]
	delete(m.timers, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	t.mu.Lock()
	if t.state != TimerStopped {
		t.state = TimerStopped
		t.emit(TimerEvent{SessionID: t.sessionID, Kind: TimerEventStopped, Remaining: int(t.remaining), At: time.Now()})
	}
	t.mu.Unlock()
	t.closeStop()
}

// Active returns how many timers are currently registered.
func (m *TimerManager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.timers)
}
