package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type detectorFixture struct {
	*lifecycleFixture
	detector *DisconnectDetector
	graces   *memGraceStore
	saver    *stubSaver
}

func newDetectorFixture(t *testing.T) (*detectorFixture, *model.ExamSession) {
	t.Helper()

	fx := newLifecycleFixture(nil, testAssignment("exam-1", 3, model.AntiCheatConfig{}))
	graces := newMemGraceStore()
	grace := NewGracePeriodService(graces, fx.sessions, fx.svc, fx.sink, fx.cfg, zerolog.Nop())
	saver := &stubSaver{}
	detector := NewDisconnectDetector(fx.svc, grace, saver, fx.sink, fx.cfg, zerolog.Nop())

	ctx := context.Background()
	session, err := fx.svc.Create(ctx, "exam-1", "student-1", model.SessionMeta{})
	require.NoError(t, err)
	_, err = fx.svc.Start(ctx, session.ID)
	require.NoError(t, err)

	detector.Track(session.ID, session.StudentID)
	return &detectorFixture{lifecycleFixture: fx, detector: detector, graces: graces, saver: saver}, session
}

func TestDetectorFirstLossWins(t *testing.T) {
	fx, session := newDetectorFixture(t)
	ctx := context.Background()

	fx.detector.Signal(ctx, session.ID, SignalNetworkOffline, "wifi down")
	assert.False(t, fx.detector.Connected(session.ID))

	paused, err := fx.svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPaused, paused.Status)
	assert.Equal(t, 1, fx.saver.count(), "disconnect captures a snapshot")

	// A second loss while the window is open changes nothing.
	fx.detector.Signal(ctx, session.ID, SignalPageHidden, "")
	assert.Len(t, fx.sink.ofType(model.EventDisconnected), 1)

	// A recovery for a different source does not close the window.
	fx.detector.Signal(ctx, session.ID, SignalPageVisible, "")
	assert.False(t, fx.detector.Connected(session.ID))

	// The matching recovery closes it.
	fx.detector.Signal(ctx, session.ID, SignalNetworkOnline, "")
	assert.True(t, fx.detector.Connected(session.ID))

	resumed, err := fx.svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, resumed.Status)

	count, _ := fx.detector.Stats(session.ID)
	assert.Equal(t, 1, count)
	assert.Len(t, fx.sink.ofType(model.EventReconnected), 1)
}

func TestDetectorLongDisconnectRequestsGrace(t *testing.T) {
	fx, session := newDetectorFixture(t)
	ctx := context.Background()

	fx.detector.Signal(ctx, session.ID, SignalNetworkOffline, "wifi down")

	// Backdate the open window past the no-grace threshold.
	m := fx.detector.monitor(session.ID)
	require.NotNil(t, m)
	m.mu.Lock()
	require.NotNil(t, m.current)
	m.current.DisconnectedAt = m.current.DisconnectedAt.Add(-12 * time.Second)
	m.mu.Unlock()

	fx.detector.Signal(ctx, session.ID, SignalNetworkOnline, "")

	records, err := fx.graces.ListBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, model.GraceStatusAutoApproved, record.Status)
	assert.Equal(t, model.GraceReasonDisconnect, record.Reason)
	assert.InDelta(t, 12, record.ApprovedSeconds, 1)
	require.NotNil(t, record.Metadata.DisconnectedAt)
	require.NotNil(t, record.Metadata.ReconnectedAt)

	resumed, err := fx.svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, resumed.Status)
	assert.Equal(t, fx.cfg.ResumeGraceSeconds+record.ApprovedSeconds, resumed.TotalGrace,
		"outage compensation stacks on the base resume grant")

	assert.Len(t, fx.sink.ofType(model.EventGraceAutoApproved), 1)
}

func TestDetectorShortDisconnectNeedsNoGrace(t *testing.T) {
	fx, session := newDetectorFixture(t)
	ctx := context.Background()

	fx.detector.Signal(ctx, session.ID, SignalNetworkOffline, "")
	fx.detector.Signal(ctx, session.ID, SignalNetworkOnline, "")

	records, err := fx.graces.ListBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, records, "sub-threshold disconnects resume without compensation")

	// The base resume grant still applies through the lifecycle.
	resumed, err := fx.svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, fx.cfg.ResumeGraceSeconds, resumed.TotalGrace)
}

func TestDetectorHeartbeatClosesAnyWindow(t *testing.T) {
	fx, session := newDetectorFixture(t)
	ctx := context.Background()

	fx.detector.Signal(ctx, session.ID, SignalWindowBlur, "")
	assert.False(t, fx.detector.Connected(session.ID))

	fx.detector.Signal(ctx, session.ID, SignalHeartbeat, "")
	assert.True(t, fx.detector.Connected(session.ID))
}

func TestDetectorConnectionLost(t *testing.T) {
	fx, session := newDetectorFixture(t)
	ctx := context.Background()

	fx.detector.ConnectionLost(ctx, session.ID)
	assert.False(t, fx.detector.Connected(session.ID))

	events := fx.sink.ofType(model.EventDisconnected)
	require.Len(t, events, 1)
	assert.Equal(t, string(model.DisconnectConnectionLost), events[0].Payload["disconnect_type"])
}

func TestDetectorUnloadSavesBeforeClosing(t *testing.T) {
	fx, session := newDetectorFixture(t)

	fx.detector.Signal(context.Background(), session.ID, SignalUnload, "")

	// One save from the unload hint, one from the loss path.
	assert.Equal(t, 2, fx.saver.count())
	assert.False(t, fx.detector.Connected(session.ID))
}

func TestDetectorRapidFocusLossTrigger(t *testing.T) {
	fx, session := newDetectorFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var triggers []SuspicionTrigger
	fx.detector.SetSuspicionHook(func(_ uuid.UUID, _ string, trigger SuspicionTrigger, _ map[string]interface{}) {
		mu.Lock()
		triggers = append(triggers, trigger)
		mu.Unlock()
	})

	for i := 0; i < 4; i++ {
		fx.detector.Signal(ctx, session.ID, SignalPageHidden, "")
		fx.detector.Signal(ctx, session.ID, SignalPageVisible, "")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, triggers, TriggerRapidFocusLoss)
}

func TestDetectorIgnoresUntrackedSessions(t *testing.T) {
	fx, session := newDetectorFixture(t)
	ctx := context.Background()

	fx.detector.Untrack(session.ID)

	fx.detector.Signal(ctx, session.ID, SignalNetworkOffline, "")
	assert.Empty(t, fx.sink.ofType(model.EventDisconnected))

	current, err := fx.svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, current.Status)
}

func TestDetectorStatsAccumulate(t *testing.T) {
	fx, session := newDetectorFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		fx.detector.Signal(ctx, session.ID, SignalNetworkOffline, "")
		fx.detector.Signal(ctx, session.ID, SignalNetworkOnline, "")
	}

	count, total := fx.detector.Stats(session.ID)
	assert.Equal(t, 2, count)
	assert.GreaterOrEqual(t, total.Nanoseconds(), int64(0))
}
