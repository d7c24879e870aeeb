package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// GraceRepository handles grace period record data access.
type GraceRepository struct {
	pool *pgxpool.Pool
}

// NewGraceRepository creates a new GraceRepository.
func NewGraceRepository(pool *pgxpool.Pool) *GraceRepository {
	return &GraceRepository{pool: pool}
}

const graceColumns = `id, session_id, student_id, approved_by, reason, status,
	requested_seconds, approved_seconds, requested_at, decided_at, expires_at,
	notes, metadata`

// Create inserts a new grace period record.
func (r *GraceRepository) Create(ctx context.Context, g *model.GracePeriodRecord) error {
	metadata, err := json.Marshal(g.Metadata)
	if err != nil {
		return fmt.Errorf("marshal grace metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO grace_periods (`+graceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		g.ID, g.SessionID, g.StudentID, g.ApprovedBy, g.Reason, g.Status,
		g.RequestedSeconds, g.ApprovedSeconds, g.RequestedAt, g.DecidedAt, g.ExpiresAt,
		g.Notes, metadata)
	return err
}

// Update persists a decision on a record. The guard on status prevents
// two concurrent decisions from both landing.
func (r *GraceRepository) Update(ctx context.Context, g *model.GracePeriodRecord) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE grace_periods
		 SET status = $1, approved_by = $2, approved_seconds = $3, decided_at = $4, notes = $5
		 WHERE id = $6 AND status = $7`,
		g.Status, g.ApprovedBy, g.ApprovedSeconds, g.DecidedAt, g.Notes,
		g.ID, model.GraceStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

// Amend rewrites the decision columns without the status guard. Only
// the service calls this, and only on a record whose decision it has
// already won through Update.
func (r *GraceRepository) Amend(ctx context.Context, g *model.GracePeriodRecord) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE grace_periods
		 SET status = $1, approved_by = $2, approved_seconds = $3, decided_at = $4, notes = $5
		 WHERE id = $6`,
		g.Status, g.ApprovedBy, g.ApprovedSeconds, g.DecidedAt, g.Notes, g.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

// Get retrieves a grace period record by id.
func (r *GraceRepository) Get(ctx context.Context, id uuid.UUID) (*model.GracePeriodRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+graceColumns+` FROM grace_periods WHERE id = $1`, id)
	return scanGrace(row)
}

// ListBySession retrieves all grace period records for a session,
// oldest first.
func (r *GraceRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.GracePeriodRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+graceColumns+` FROM grace_periods
		 WHERE session_id = $1
		 ORDER BY requested_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.GracePeriodRecord
	for rows.Next() {
		g, err := scanGrace(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *g)
	}
	return records, rows.Err()
}

// ExpirePending flips pending records past their decision window to
// EXPIRED and returns how many were touched.
func (r *GraceRepository) ExpirePending(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE grace_periods
		 SET status = $1, decided_at = NOW()
		 WHERE status = $2 AND expires_at < NOW()`,
		model.GraceStatusExpired, model.GraceStatusPending)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanGrace(row pgx.Row) (*model.GracePeriodRecord, error) {
	g := &model.GracePeriodRecord{}
	var metadata []byte

	err := row.Scan(
		&g.ID, &g.SessionID, &g.StudentID, &g.ApprovedBy, &g.Reason, &g.Status,
		&g.RequestedSeconds, &g.ApprovedSeconds, &g.RequestedAt, &g.DecidedAt, &g.ExpiresAt,
		&g.Notes, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(metadata, &g.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal grace metadata: %w", err)
	}
	return g, nil
}
