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

// AutosaveRepository stores the durable copy of auto-save snapshots.
// Only the latest snapshot per session is kept.
type AutosaveRepository struct {
	pool *pgxpool.Pool
}

// NewAutosaveRepository creates a new AutosaveRepository.
func NewAutosaveRepository(pool *pgxpool.Pool) *AutosaveRepository {
	return &AutosaveRepository{pool: pool}
}

// Save upserts the latest snapshot for a session. Older captures never
// overwrite newer ones, so out-of-order queue delivery is harmless.
func (r *AutosaveRepository) Save(ctx context.Context, a *model.AutoSaveData) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("marshal snapshot answers: %w", err)
	}
	uiState, err := json.Marshal(a.UIState)
	if err != nil {
		return fmt.Errorf("marshal snapshot ui state: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO autosave_snapshots (session_id, captured_at, current_question_index, time_remaining, answers, ui_state)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO UPDATE
		 SET captured_at = EXCLUDED.captured_at,
		     current_question_index = EXCLUDED.current_question_index,
		     time_remaining = EXCLUDED.time_remaining,
		     answers = EXCLUDED.answers,
		     ui_state = EXCLUDED.ui_state
		 WHERE autosave_snapshots.captured_at < EXCLUDED.captured_at`,
		a.SessionID, a.CapturedAt, a.CurrentQuestionIndex, a.TimeRemaining, answers, uiState)
	return err
}

// Latest retrieves the stored snapshot for a session.
func (r *AutosaveRepository) Latest(ctx context.Context, sessionID uuid.UUID) (*model.AutoSaveData, error) {
	a := &model.AutoSaveData{}
	var answers, uiState []byte

	err := r.pool.QueryRow(ctx,
		`SELECT session_id, captured_at, current_question_index, time_remaining, answers, ui_state
		 FROM autosave_snapshots
		 WHERE session_id = $1`, sessionID,
	).Scan(&a.SessionID, &a.CapturedAt, &a.CurrentQuestionIndex, &a.TimeRemaining, &answers, &uiState)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot answers: %w", err)
	}
	if len(uiState) > 0 {
		if err := json.Unmarshal(uiState, &a.UIState); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot ui state: %w", err)
		}
	}
	return a, nil
}
