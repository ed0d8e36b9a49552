package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExamSessionRepository handles exam session and exam answer data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, question_ids, total_questions, start_time, end_time,
	 status, correct_answers, score, auto_submitted, graded_at, created_at`

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.QuestionIDs, &s.TotalQuestions, &s.StartTime, &s.EndTime,
		&s.Status, &s.CorrectAnswers, &s.Score, &s.AutoSubmitted, &s.GradedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a session by id. Returns (nil, nil) when absent.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetByIDAndUser retrieves a session scoped to its owner. Returns (nil, nil)
// when absent, which also covers another user's session id.
func (r *ExamSessionRepository) GetByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// FindInProgressByUser retrieves the most recent IN_PROGRESS session for a
// user, or (nil, nil) if there is none.
func (r *ExamSessionRepository) FindInProgressByUser(ctx context.Context, userID uuid.UUID) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC
		 LIMIT 1`, userID, model.SessionStatusInProgress))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// HasCompleted reports whether the user has at least one COMPLETED session.
// With excludeAutoSubmitted, expiry-closed sessions do not count.
func (r *ExamSessionRepository) HasCompleted(ctx context.Context, userID uuid.UUID, excludeAutoSubmitted bool) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM exam_sessions WHERE user_id = $1 AND status = $2`
	if excludeAutoSubmitted {
		query += ` AND auto_submitted = FALSE`
	}
	query += `)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, userID, model.SessionStatusCompleted).Scan(&exists)
	return exists, err
}

// HasAnySession reports whether the user has any session at all.
func (r *ExamSessionRepository) HasAnySession(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM exam_sessions WHERE user_id = $1)`, userID).Scan(&exists)
	return exists, err
}

// Create inserts a new IN_PROGRESS session. The partial unique index on
// (user_id) WHERE status = 'IN_PROGRESS' makes concurrent starts collide;
// the loser gets (false, nil) and should refetch the winner's session.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) (bool, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (user_id, question_ids, total_questions, start_time, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) WHERE status = 'IN_PROGRESS' DO NOTHING
		 RETURNING id, created_at`,
		s.UserID, s.QuestionIDs, s.TotalQuestions, s.StartTime, model.SessionStatusInProgress,
	).Scan(&s.ID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.Status = model.SessionStatusInProgress
	return true, nil
}

// CompleteSession atomically flips IN_PROGRESS -> COMPLETED and records the
// submitted answers in the same transaction. The status flip is the commit
// point: a compare-and-set loser gets (false, nil) and nothing is written.
// Duplicate question ids in the payload are resolved by the
// (exam_session_id, question_id) unique constraint, first occurrence wins.
func (r *ExamSessionRepository) CompleteSession(
	ctx context.Context,
	sessionID uuid.UUID,
	endTime time.Time,
	autoSubmitted bool,
	answers []model.ExamAnswer,
) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, end_time = $2, auto_submitted = $3
		 WHERE id = $4 AND status = $5`,
		model.SessionStatusCompleted, endTime, autoSubmitted,
		sessionID, model.SessionStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if len(answers) > 0 {
		questionIDs := make([]uuid.UUID, 0, len(answers))
		answerIDs := make([]uuid.UUID, 0, len(answers))
		for _, a := range answers {
			questionIDs = append(questionIDs, a.QuestionID)
			answerIDs = append(answerIDs, a.SelectedAnswerID)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO exam_answers (exam_session_id, question_id, selected_answer_id, is_correct)
			 SELECT $1, u.question_id, u.selected_answer_id, FALSE
			 FROM UNNEST($2::uuid[], $3::uuid[]) AS u (question_id, selected_answer_id)
			 ON CONFLICT (exam_session_id, question_id) DO NOTHING`,
			sessionID, questionIDs, answerIDs)
		if err != nil {
			return false, fmt.Errorf("insert answers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ListAnswersBySession retrieves all answer rows for a session.
func (r *ExamSessionRepository) ListAnswersBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ExamAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_session_id, question_id, selected_answer_id, is_correct, created_at
		 FROM exam_answers
		 WHERE exam_session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.ExamAnswer
	for rows.Next() {
		var a model.ExamAnswer
		if err := rows.Scan(&a.ID, &a.ExamSessionID, &a.QuestionID, &a.SelectedAnswerID, &a.IsCorrect, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SetAnswerCorrectness applies grading results in two batched updates, one
// per new value. Re-running with converged data touches zero rows.
func (r *ExamSessionRepository) SetAnswerCorrectness(ctx context.Context, correctIDs, incorrectIDs []uuid.UUID) error {
	if len(correctIDs) > 0 {
		if _, err := r.pool.Exec(ctx,
			`UPDATE exam_answers SET is_correct = TRUE WHERE id = ANY($1)`, correctIDs); err != nil {
			return fmt.Errorf("mark correct: %w", err)
		}
	}
	if len(incorrectIDs) > 0 {
		if _, err := r.pool.Exec(ctx,
			`UPDATE exam_answers SET is_correct = FALSE WHERE id = ANY($1)`, incorrectIDs); err != nil {
			return fmt.Errorf("mark incorrect: %w", err)
		}
	}
	return nil
}

// UpdateResult writes the graded score onto the session and stamps the
// grading marker the pending-grading sweep looks for.
func (r *ExamSessionRepository) UpdateResult(ctx context.Context, sessionID uuid.UUID, correctCount int, score float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET correct_answers = $1, score = $2, graded_at = NOW()
		 WHERE id = $3`,
		correctCount, score, sessionID)
	return err
}

// ListCompletedByUser retrieves the user's COMPLETED sessions, most recent first.
func (r *ExamSessionRepository) ListCompletedByUser(ctx context.Context, userID uuid.UUID) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC`, userID, model.SessionStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ListAnswerDetails joins answer rows with question and choice content for the
// session detail projection. Correct answer ids are resolved separately.
func (r *ExamSessionRepository) ListAnswerDetails(ctx context.Context, sessionID uuid.UUID) ([]model.SessionAnswerDetail, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ea.question_id, COALESCE(q.content, ''), ea.selected_answer_id,
		        COALESCE(a.content, ''), ea.is_correct
		 FROM exam_answers ea
		 LEFT JOIN questions q ON q.id = ea.question_id
		 LEFT JOIN answers a ON a.id = ea.selected_answer_id
		 WHERE ea.exam_session_id = $1
		 ORDER BY ea.created_at, ea.question_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []model.SessionAnswerDetail
	for rows.Next() {
		var d model.SessionAnswerDetail
		if err := rows.Scan(&d.QuestionID, &d.QuestionContent, &d.SelectedAnswerID, &d.SelectedContent, &d.IsCorrect); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// ListPendingGrading returns COMPLETED sessions whose grading marker is still
// unset. The grace window keeps the sweep from racing a grade run that was
// enqueued moments ago.
func (r *ExamSessionRepository) ListPendingGrading(ctx context.Context, grace time.Duration, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id
		 FROM exam_sessions
		 WHERE status = $1 AND graded_at IS NULL AND end_time < $2
		 ORDER BY end_time
		 LIMIT $3`,
		model.SessionStatusCompleted, time.Now().Add(-grace), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
