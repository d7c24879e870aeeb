package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// AutoSaveService periodically snapshots in-progress answers and
// position. Snapshots are advisory: the hot copy lives in Redis for
// fast restore, a persist queue feeds the durable store, and a failure
// anywhere in this path never interrupts the exam.
type AutoSaveService struct {
	rdb       *redis.Client
	sessions  SessionStore
	snapshots SnapshotStore
	events    EventSink
	cfg       *config.Config
	log       zerolog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*autosaveLoop
}

type autosaveLoop struct {
	cancel   context.CancelFunc
	inFlight bool
	mu       sync.Mutex
}

// tryBegin marks a save in flight. Returns false if one is already
// running: periodic ticks are skipped, not queued, to avoid write
// amplification during poor connectivity.
func (l *autosaveLoop) tryBegin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight {
		return false
	}
	l.inFlight = true
	return true
}

func (l *autosaveLoop) end() {
	l.mu.Lock()
	l.inFlight = false
	l.mu.Unlock()
}

// NewAutoSaveService creates a new AutoSaveService.
func NewAutoSaveService(
	rdb *redis.Client,
	sessions SessionStore,
	snapshots SnapshotStore,
	events EventSink,
	cfg *config.Config,
	log zerolog.Logger,
) *AutoSaveService {
	return &AutoSaveService{
		rdb:       rdb,
		sessions:  sessions,
		snapshots: snapshots,
		events:    events,
		cfg:       cfg,
		log:       log.With().Str("component", "autosave_service").Logger(),
		active:    make(map[uuid.UUID]*autosaveLoop),
	}
}

// StartAuto begins the periodic background capture for a session.
// Starting twice replaces the previous loop.
func (s *AutoSaveService) StartAuto(sessionID uuid.UUID) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := &autosaveLoop{cancel: cancel}

	s.mu.Lock()
	if old, ok := s.active[sessionID]; ok {
		old.cancel()
	}
	s.active[sessionID] = loop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.AutosaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !loop.tryBegin() {
					continue // previous save still in flight
				}
				s.capture(ctx, sessionID)
				loop.end()
			}
		}
	}()
}

// StopAuto halts the background capture for a session.
func (s *AutoSaveService) StopAuto(sessionID uuid.UUID) {
	s.mu.Lock()
	loop, ok := s.active[sessionID]
	delete(s.active, sessionID)
	s.mu.Unlock()

	if ok {
		loop.cancel()
	}
}

// SaveNow captures a snapshot immediately, outside the periodic cycle.
// Used when a disconnect is detected. The returned error is advisory;
// the caller must treat it as a warning, never a failure of the exam.
func (s *AutoSaveService) SaveNow(ctx context.Context, sessionID uuid.UUID) error {
	return s.capture(ctx, sessionID)
}

// capture reads the authoritative session and writes a snapshot with
// bounded retries. Exhausting the retries emits an Error event and
// returns; auto-save failures never propagate into the exam path.
func (s *AutoSaveService) capture(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Autosave: session load failed")
		return nil
	}
	if session.Status.Terminal() {
		return nil
	}

	snap := &model.AutoSaveData{
		SessionID:            sessionID,
		CapturedAt:           time.Now(),
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		TimeRemaining:        session.TimeRemaining,
		Answers:              session.Answers,
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Autosave: marshal failed")
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.AutosaveMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.AutosaveRetryDelay):
			}
		}

		lastErr = s.write(ctx, sessionID, raw)
		if lastErr == nil {
			return nil
		}

		s.log.Warn().Err(lastErr).
			Str("session_id", sessionID.String()).
			Int("attempt", attempt+1).
			Msg("Autosave write failed, retrying")
	}

	s.events.Append(ctx, &model.ExamEvent{
		SessionID: sessionID,
		Type:      model.EventAutosaveFailed,
		Severity:  model.SeverityError,
		Payload: map[string]interface{}{
			"attempts": s.cfg.AutosaveMaxRetries + 1,
			"error":    lastErr.Error(),
		},
	})
	return fmt.Errorf("autosave exhausted retries: %w", lastErr)
}

// write stores the hot copy and queues durable persistence in one
// Redis pipeline.
func (s *AutoSaveService) write(ctx context.Context, sessionID uuid.UUID, raw []byte) error {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.SessionAutosaveKey(sessionID.String()), raw, 0)
	pipe.RPush(ctx, config.WorkerKey.PersistAutosaveQueue, raw)
	_, err := pipe.Exec(ctx)
	return err
}

// Restore returns the most recent snapshot for a session, or nil when
// none exists. Redis is consulted first; on a cache miss the durable
// store is the fallback and the cache is healed for the next read.
func (s *AutoSaveService) Restore(ctx context.Context, sessionID uuid.UUID) (*model.AutoSaveData, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.SessionAutosaveKey(sessionID.String())).Bytes()
	if err == nil {
		var snap model.AutoSaveData
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		return &snap, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}

	// Cache miss (evicted or server restarted). Fall back to the
	// durable store and self-heal the cache.
	snap, err := s.snapshots.Latest(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if healed, err := json.Marshal(snap); err == nil {
		_ = s.rdb.Set(ctx, config.CacheKey.SessionAutosaveKey(sessionID.String()), healed, 0)
	}

	return snap, nil
}
