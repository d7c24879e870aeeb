package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// BehaviorRepository persists suspicion findings.
type BehaviorRepository struct {
	pool *pgxpool.Pool
}

// NewBehaviorRepository creates a new BehaviorRepository.
func NewBehaviorRepository(pool *pgxpool.Pool) *BehaviorRepository {
	return &BehaviorRepository{pool: pool}
}

// Create inserts a suspicion finding.
func (r *BehaviorRepository) Create(ctx context.Context, b *model.SuspiciousBehaviorRecord) error {
	evidence, err := json.Marshal(b.Evidence)
	if err != nil {
		return fmt.Errorf("marshal behavior evidence: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO suspicious_behaviors
		 (id, session_id, student_id, type, level, detected_at, description, evidence, confidence, resolved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.SessionID, b.StudentID, b.Type, b.Level, b.DetectedAt,
		b.Description, evidence, b.Confidence, b.Resolved)
	return err
}

// ListBySession retrieves a session's findings, newest first.
func (r *BehaviorRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.SuspiciousBehaviorRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, student_id, type, level, detected_at, description, evidence, confidence,
		        resolved, resolved_by, resolved_at, resolution_notes
		 FROM suspicious_behaviors
		 WHERE session_id = $1
		 ORDER BY detected_at DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.SuspiciousBehaviorRecord
	for rows.Next() {
		var b model.SuspiciousBehaviorRecord
		var evidence []byte
		if err := rows.Scan(
			&b.ID, &b.SessionID, &b.StudentID, &b.Type, &b.Level, &b.DetectedAt,
			&b.Description, &evidence, &b.Confidence,
			&b.Resolved, &b.ResolvedBy, &b.ResolvedAt, &b.ResolutionNotes,
		); err != nil {
			return nil, err
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &b.Evidence); err != nil {
				return nil, fmt.Errorf("unmarshal behavior evidence: %w", err)
			}
		}
		records = append(records, b)
	}
	return records, rows.Err()
}
