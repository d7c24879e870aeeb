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

// ClientSignal is a connectivity hint reported by the exam client over
// the session stream. Signals may arrive in any order; only the first
// loss signal in a window changes connectivity state.
type ClientSignal string

const (
	SignalNetworkOffline ClientSignal = "network_offline"
	SignalNetworkOnline  ClientSignal = "network_online"
	SignalPageHidden     ClientSignal = "page_hidden"
	SignalPageVisible    ClientSignal = "page_visible"
	SignalWindowBlur     ClientSignal = "window_blur"
	SignalWindowFocus    ClientSignal = "window_focus"
	SignalHeartbeat      ClientSignal = "heartbeat"
	SignalUnload         ClientSignal = "unload"
)

const (
	// Disconnects shorter than this resume without a grace request.
	graceDisconnectThreshold = 5 * time.Second
	// A single disconnect longer than this is a suspicion trigger.
	longDisconnectThreshold = 5 * time.Minute
	// More than rapidLossMax visibility/focus losses inside
	// rapidLossWindow is a suspicion trigger.
	rapidLossWindow = 60 * time.Second
	rapidLossMax    = 3
)

// SuspicionTrigger identifies a heuristic the detector tripped over.
// The detector only reports; consequences are the caller's call.
type SuspicionTrigger string

const (
	TriggerExcessiveDisconnects SuspicionTrigger = "EXCESSIVE_DISCONNECTS"
	TriggerRapidFocusLoss       SuspicionTrigger = "RAPID_FOCUS_LOSS"
	TriggerLongDisconnect       SuspicionTrigger = "LONG_DISCONNECT"
)

// SnapshotSaver is the slice of the auto-save surface the detector
// needs: an immediate, best-effort capture on disconnect.
type SnapshotSaver interface {
	SaveNow(ctx context.Context, sessionID uuid.UUID) error
}

// sessionMonitor tracks connectivity for one active session.
type sessionMonitor struct {
	mu        sync.Mutex
	sessionID uuid.UUID
	studentID string

	connected bool
	current   *model.DisconnectEvent

	count         int
	totalDuration time.Duration

	// focusLosses holds recent visibility/focus loss timestamps for
	// the rapid-loss heuristic. Pruned to rapidLossWindow on append.
	focusLosses []time.Time

	heartbeat *time.Timer
}

// DisconnectDetector watches four signal sources per monitored session
// (network, page visibility, window focus, heartbeat timeout) plus a
// best-effort unload hint. The first loss signal opens a disconnect
// window; later loss signals are ignored until the matching recovery
// signal or a heartbeat closes it.
type DisconnectDetector struct {
	lifecycle *ExamSessionService
	grace     *GracePeriodService
	saver     SnapshotSaver
	events    EventSink
	cfg       *config.Config
	log       zerolog.Logger

	mu       sync.Mutex
	monitors map[uuid.UUID]*sessionMonitor

	onSuspicion func(sessionID uuid.UUID, studentID string, trigger SuspicionTrigger, details map[string]interface{})
}

// NewDisconnectDetector creates a new DisconnectDetector.
func NewDisconnectDetector(
	lifecycle *ExamSessionService,
	grace *GracePeriodService,
	saver SnapshotSaver,
	events EventSink,
	cfg *config.Config,
	log zerolog.Logger,
) *DisconnectDetector {
	return &DisconnectDetector{
		lifecycle: lifecycle,
		grace:     grace,
		saver:     saver,
		events:    events,
		cfg:       cfg,
		log:       log.With().Str("component", "disconnect_detector").Logger(),
		monitors:  make(map[uuid.UUID]*sessionMonitor),
	}
}

// SetSuspicionHook registers the callback for heuristic triggers. Must
// be called before Track.
func (d *DisconnectDetector) SetSuspicionHook(fn func(sessionID uuid.UUID, studentID string, trigger SuspicionTrigger, details map[string]interface{})) {
	d.onSuspicion = fn
}

// Track begins monitoring a session. Tracking an already-tracked
// session resets its heartbeat but keeps its counters.
func (d *DisconnectDetector) Track(sessionID uuid.UUID, studentID string) {
	d.mu.Lock()
	m, ok := d.monitors[sessionID]
	if !ok {
		m = &sessionMonitor{
			sessionID: sessionID,
			studentID: studentID,
			connected: true,
		}
		d.monitors[sessionID] = m
		m.heartbeat = time.AfterFunc(d.cfg.HeartbeatTimeout, func() {
			d.heartbeatTimeout(sessionID)
		})
	}
	d.mu.Unlock()

	if ok {
		m.heartbeat.Reset(d.cfg.HeartbeatTimeout)
	}
}

// Untrack stops monitoring a session and releases its resources.
// Called on terminal transitions; safe under a late callback.
func (d *DisconnectDetector) Untrack(sessionID uuid.UUID) {
	d.mu.Lock()
	m, ok := d.monitors[sessionID]
	delete(d.monitors, sessionID)
	d.mu.Unlock()

	if ok && m.heartbeat != nil {
		m.heartbeat.Stop()
	}
}

func (d *DisconnectDetector) monitor(sessionID uuid.UUID) *sessionMonitor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitors[sessionID]
}

// Signal processes one connectivity signal for a tracked session.
// Signals for untracked sessions are dropped.
func (d *DisconnectDetector) Signal(ctx context.Context, sessionID uuid.UUID, signal ClientSignal, networkInfo string) {
	m := d.monitor(sessionID)
	if m == nil {
		return
	}

	switch signal {
	case SignalNetworkOffline:
		d.loss(ctx, m, model.DisconnectNetworkOffline, networkInfo)
	case SignalPageHidden:
		d.recordFocusLoss(m)
		d.loss(ctx, m, model.DisconnectPageHidden, networkInfo)
	case SignalWindowBlur:
		d.recordFocusLoss(m)
		d.loss(ctx, m, model.DisconnectWindowBlur, networkInfo)
	case SignalUnload:
		// Best-effort: the page is going away, capture what we can
		// before treating it as a close.
		if err := d.saver.SaveNow(ctx, sessionID); err != nil {
			d.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Unload snapshot failed")
		}
		d.loss(ctx, m, model.DisconnectBrowserClose, networkInfo)
	case SignalNetworkOnline:
		d.recovery(ctx, m, model.DisconnectNetworkOffline)
	case SignalPageVisible:
		d.recovery(ctx, m, model.DisconnectPageHidden)
	case SignalWindowFocus:
		d.recovery(ctx, m, model.DisconnectWindowBlur)
	case SignalHeartbeat:
		m.heartbeat.Reset(d.cfg.HeartbeatTimeout)
		// A successful heartbeat proves the client is reachable no
		// matter which signal opened the window.
		d.recovery(ctx, m, "")
	default:
		d.log.Warn().Str("session_id", sessionID.String()).Str("signal", string(signal)).Msg("Unknown client signal dropped")
	}
}

// ConnectionLost reports a transport-level drop (socket closed without
// an unload hint). The stream handler calls this on abnormal closure.
func (d *DisconnectDetector) ConnectionLost(ctx context.Context, sessionID uuid.UUID) {
	m := d.monitor(sessionID)
	if m == nil {
		return
	}
	d.loss(ctx, m, model.DisconnectConnectionLost, "")
}

func (d *DisconnectDetector) heartbeatTimeout(sessionID uuid.UUID) {
	m := d.monitor(sessionID)
	if m == nil {
		return
	}
	d.loss(context.Background(), m, model.DisconnectConnectionLost, "heartbeat timeout")
}

// loss opens a disconnect window if none is active. First signal wins;
// repeat losses while disconnected are ignored.
func (d *DisconnectDetector) loss(ctx context.Context, m *sessionMonitor, kind model.DisconnectType, networkInfo string) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.current = &model.DisconnectEvent{
		SessionID:      m.sessionID,
		StudentID:      m.studentID,
		Type:           kind,
		DisconnectedAt: time.Now(),
		NetworkInfo:    networkInfo,
	}
	m.mu.Unlock()

	d.log.Info().
		Str("session_id", m.sessionID.String()).
		Str("type", string(kind)).
		Msg("Disconnect detected")

	if _, err := d.lifecycle.Pause(ctx, m.sessionID, string(kind)); err != nil {
		d.log.Warn().Err(err).Str("session_id", m.sessionID.String()).Msg("Pause on disconnect failed")
	}
	if err := d.saver.SaveNow(ctx, m.sessionID); err != nil {
		d.log.Warn().Err(err).Str("session_id", m.sessionID.String()).Msg("Snapshot on disconnect failed")
	}

	d.events.Append(ctx, &model.ExamEvent{
		SessionID: m.sessionID,
		Type:      model.EventDisconnected,
		Severity:  model.SeverityWarning,
		Payload: map[string]interface{}{
			"disconnect_type": string(kind),
			"network_info":    networkInfo,
		},
	})
}

// recovery closes the active disconnect window. A recovery signal only
// counts when it matches the signal that opened the window; an empty
// match (heartbeat) closes any window.
func (d *DisconnectDetector) recovery(ctx context.Context, m *sessionMonitor, match model.DisconnectType) {
	m.mu.Lock()
	if m.connected || m.current == nil {
		m.mu.Unlock()
		return
	}
	if match != "" && m.current.Type != match {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	event := m.current
	duration := now.Sub(event.DisconnectedAt)
	event.ReconnectedAt = &now
	event.Duration = &duration

	m.connected = true
	m.current = nil
	m.count++
	m.totalDuration += duration
	count := m.count
	total := m.totalDuration
	m.mu.Unlock()

	d.log.Info().
		Str("session_id", m.sessionID.String()).
		Str("type", string(event.Type)).
		Dur("duration", duration).
		Msg("Reconnected")

	d.events.Append(ctx, &model.ExamEvent{
		SessionID: m.sessionID,
		Type:      model.EventReconnected,
		Severity:  model.SeverityInfo,
		Payload: map[string]interface{}{
			"disconnect_type":  string(event.Type),
			"duration_seconds": duration.Seconds(),
			"disconnect_count": count,
		},
	})

	if _, err := d.lifecycle.Resume(ctx, m.sessionID); err != nil {
		d.log.Warn().Err(err).Str("session_id", m.sessionID.String()).Msg("Resume on reconnect failed")
		return
	}

	if duration > graceDisconnectThreshold {
		seconds := int(duration.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		meta := model.GraceMetadata{
			DisconnectedAt: &event.DisconnectedAt,
			ReconnectedAt:  &now,
			NetworkInfo:    event.NetworkInfo,
		}
		if _, err := d.grace.Request(ctx, m.sessionID, model.GraceReasonDisconnect, seconds, meta); err != nil {
			d.log.Warn().Err(err).Str("session_id", m.sessionID.String()).Msg("Grace request on reconnect rejected")
		}
	}

	d.evaluateTriggers(m, event, duration, count, total)
}

// recordFocusLoss appends a visibility/focus loss timestamp and fires
// the rapid-loss trigger when the window fills up. Runs on every such
// signal, even ones ignored by the first-loss rule: flicking between
// tabs while technically "disconnected" is exactly what this catches.
func (d *DisconnectDetector) recordFocusLoss(m *sessionMonitor) {
	now := time.Now()

	m.mu.Lock()
	kept := m.focusLosses[:0]
	for _, t := range m.focusLosses {
		if now.Sub(t) <= rapidLossWindow {
			kept = append(kept, t)
		}
	}
	m.focusLosses = append(kept, now)
	losses := len(m.focusLosses)
	m.mu.Unlock()

	if losses > rapidLossMax {
		d.reportSuspicion(m, TriggerRapidFocusLoss, map[string]interface{}{
			"losses_in_window": losses,
			"window_seconds":   int(rapidLossWindow.Seconds()),
		})
	}
}

func (d *DisconnectDetector) evaluateTriggers(m *sessionMonitor, event *model.DisconnectEvent, duration time.Duration, count int, total time.Duration) {
	if count > d.cfg.MaxReconnects {
		d.reportSuspicion(m, TriggerExcessiveDisconnects, map[string]interface{}{
			"disconnect_count":       count,
			"max_reconnects":         d.cfg.MaxReconnects,
			"total_duration_seconds": total.Seconds(),
		})
	}
	if duration > longDisconnectThreshold {
		d.reportSuspicion(m, TriggerLongDisconnect, map[string]interface{}{
			"disconnect_type":  string(event.Type),
			"duration_seconds": duration.Seconds(),
		})
	}
}

func (d *DisconnectDetector) reportSuspicion(m *sessionMonitor, trigger SuspicionTrigger, details map[string]interface{}) {
	if d.onSuspicion == nil {
		return
	}
	d.log.Warn().
		Str("session_id", m.sessionID.String()).
		Str("trigger", string(trigger)).
		Msg("Suspicion trigger tripped")
	d.onSuspicion(m.sessionID, m.studentID, trigger, details)
}

// Connected reports the current connectivity state for a session.
// Unknown sessions read as disconnected.
func (d *DisconnectDetector) Connected(sessionID uuid.UUID) bool {
	m := d.monitor(sessionID)
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Stats returns the cumulative disconnect count and duration observed
// for a session since tracking began.
func (d *DisconnectDetector) Stats(sessionID uuid.UUID) (int, time.Duration) {
	m := d.monitor(sessionID)
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count, m.totalDuration
}
