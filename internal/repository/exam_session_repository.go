package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, assignment_id, student_id, status,
	started_at, expected_end_at, finished_at,
	time_remaining, total_grace,
	question_order, option_orders, current_question_index, answers,
	disconnect_count, anti_cheat,
	user_agent, ip_address, timezone, created_at, updated_at`

// Get retrieves a session by id.
func (r *ExamSessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByAssignmentAndStudent retrieves the attempt for an
// assignment-student combination.
func (r *ExamSessionRepository) GetByAssignmentAndStudent(ctx context.Context, assignmentID, studentID string) (*model.ExamSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE assignment_id = $1 AND student_id = $2
		 ORDER BY created_at DESC
		 LIMIT 1`, assignmentID, studentID)
	return scanSession(row)
}

// Create inserts a new session.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	questionOrder, optionOrders, answers, antiCheat, err := marshalSessionJSON(s)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO exam_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.ID, s.AssignmentID, s.StudentID, s.Status,
		s.StartedAt, s.ExpectedEndAt, s.FinishedAt,
		s.TimeRemaining, s.TotalGrace,
		questionOrder, optionOrders, s.CurrentQuestionIndex, answers,
		s.DisconnectCount, antiCheat,
		s.UserAgent, s.IPAddress, s.Timezone, s.CreatedAt, s.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// idx_sessions_active_attempt: a racing create won.
		return service.ErrDuplicateAttempt
	}
	return err
}

// Update persists the mutable portion of a session. Identity, ordering
// and audit metadata never change after creation.
func (r *ExamSessionRepository) Update(ctx context.Context, s *model.ExamSession) error {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, started_at = $2, expected_end_at = $3, finished_at = $4,
		     time_remaining = $5, total_grace = $6,
		     current_question_index = $7, answers = $8,
		     disconnect_count = $9, updated_at = $10
		 WHERE id = $11`,
		s.Status, s.StartedAt, s.ExpectedEndAt, s.FinishedAt,
		s.TimeRemaining, s.TotalGrace,
		s.CurrentQuestionIndex, answers,
		s.DisconnectCount, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func marshalSessionJSON(s *model.ExamSession) (questionOrder, optionOrders, answers, antiCheat []byte, err error) {
	if questionOrder, err = json.Marshal(s.QuestionOrder); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal question order: %w", err)
	}
	if optionOrders, err = json.Marshal(s.OptionOrders); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal option orders: %w", err)
	}
	if answers, err = json.Marshal(s.Answers); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal answers: %w", err)
	}
	if antiCheat, err = json.Marshal(s.AntiCheat); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal anti cheat config: %w", err)
	}
	return questionOrder, optionOrders, answers, antiCheat, nil
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var questionOrder, optionOrders, answers, antiCheat []byte

	err := row.Scan(
		&s.ID, &s.AssignmentID, &s.StudentID, &s.Status,
		&s.StartedAt, &s.ExpectedEndAt, &s.FinishedAt,
		&s.TimeRemaining, &s.TotalGrace,
		&questionOrder, &optionOrders, &s.CurrentQuestionIndex, &answers,
		&s.DisconnectCount, &antiCheat,
		&s.UserAgent, &s.IPAddress, &s.Timezone, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(questionOrder, &s.QuestionOrder); err != nil {
		return nil, fmt.Errorf("unmarshal question order: %w", err)
	}
	if err := json.Unmarshal(optionOrders, &s.OptionOrders); err != nil {
		return nil, fmt.Errorf("unmarshal option orders: %w", err)
	}
	if err := json.Unmarshal(answers, &s.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	if err := json.Unmarshal(antiCheat, &s.AntiCheat); err != nil {
		return nil, fmt.Errorf("unmarshal anti cheat config: %w", err)
	}
	return s, nil
}
