package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// AssignmentRepository handles assignment and question data access.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// Get retrieves an assignment with its questions in authored order.
func (r *AssignmentRepository) Get(ctx context.Context, id string) (*model.Assignment, error) {
	a := &model.Assignment{}
	var antiCheat []byte

	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, deadline, anti_cheat
		 FROM assignments
		 WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.DurationMinutes, &a.Deadline, &antiCheat)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(antiCheat, &a.AntiCheat); err != nil {
		return nil, fmt.Errorf("unmarshal anti cheat config: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, text, option_ids, multiple
		 FROM questions
		 WHERE assignment_id = $1
		 ORDER BY position ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		var optionIDs []byte
		if err := rows.Scan(&q.ID, &q.Text, &optionIDs, &q.Multiple); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(optionIDs, &q.OptionIDs); err != nil {
			return nil, fmt.Errorf("unmarshal option ids: %w", err)
		}
		a.Questions = append(a.Questions, q)
	}
	return a, rows.Err()
}
