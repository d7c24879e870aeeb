package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// EventRepository handles the append-only exam event log.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// CreateBatch bulk-inserts events via COPY. Used by the persistence
// worker draining the Redis queue.
func (r *EventRepository) CreateBatch(ctx context.Context, events []*model.ExamEvent) (int64, error) {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		rows = append(rows, []any{e.SessionID, e.Type, e.Severity, payload, e.Note, e.CreatedAt})
	}

	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"exam_events"},
		[]string{"session_id", "type", "severity", "payload", "note", "created_at"},
		pgx.CopyFromRows(rows))
}

// Create inserts a single event. Fallback when a COPY batch is
// rejected and the worker retries row by row.
func (r *EventRepository) Create(ctx context.Context, e *model.ExamEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO exam_events (session_id, type, severity, payload, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.SessionID, e.Type, e.Severity, payload, e.Note, e.CreatedAt)
	return err
}

// ListBySession retrieves a session's event history, oldest first.
func (r *EventRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ExamEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, type, severity, payload, note, created_at
		 FROM exam_events
		 WHERE session_id = $1
		 ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ExamEvent
	for rows.Next() {
		var e model.ExamEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Severity, &payload, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
