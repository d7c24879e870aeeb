package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// EventPublisher pushes audit trail entries onto the Redis persist queue
// consumed by worker.EventWorker. Delivery is at-most-once: a failed
// push is logged locally and never blocks or fails the state machine.
type EventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(rdb *redis.Client, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		rdb: rdb,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

// Append queues one event for persistence.
func (p *EventPublisher) Append(ctx context.Context, e *model.ExamEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Severity == "" {
		e.Severity = model.SeverityInfo
	}

	raw, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Str("type", string(e.Type)).Msg("Marshal event failed")
		return
	}

	if err := p.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, raw).Err(); err != nil {
		p.log.Error().Err(err).
			Str("session_id", e.SessionID.String()).
			Str("type", string(e.Type)).
			Msg("Event enqueue failed, entry dropped")
	}

	// Warning and above also go to the live monitor channel so proctor
	// dashboards can subscribe without polling the event log.
	if e.Severity != model.SeverityInfo {
		channel := config.CacheKey.SessionMonitorChannel(e.SessionID.String())
		if err := p.rdb.Publish(ctx, channel, raw).Err(); err != nil {
			p.log.Warn().Err(err).Str("channel", channel).Msg("Monitor publish failed")
		}
	}
}
