package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuestionSetRepository is the question set provider: versioned question
// content for session creation, plus the grading-time answer key lookup.
type QuestionSetRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionSetRepository creates a new QuestionSetRepository.
func NewQuestionSetRepository(pool *pgxpool.Pool) *QuestionSetRepository {
	return &QuestionSetRepository{pool: pool}
}

// GetActiveSet picks one random active question set with all questions and
// answer choices loaded. Returns (nil, nil) when no set is active.
func (r *QuestionSetRepository) GetActiveSet(ctx context.Context) (*model.QuestionSet, error) {
	set := &model.QuestionSet{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, is_active, created_at
		 FROM question_sets
		 WHERE is_active = TRUE
		 ORDER BY RANDOM()
		 LIMIT 1`).Scan(&set.ID, &set.Name, &set.IsActive, &set.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	questions, err := r.loadQuestions(ctx,
		`SELECT id, question_set_id, content FROM questions
		 WHERE question_set_id = $1
		 ORDER BY "order"`, set.ID)
	if err != nil {
		return nil, err
	}
	set.Questions = questions
	return set, nil
}

// GetQuestionsByIDs loads questions (with answer choices) for the given ids.
// Order of the result is unspecified; callers re-order against their snapshot.
func (r *QuestionSetRepository) GetQuestionsByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.loadQuestions(ctx,
		`SELECT id, question_set_id, content FROM questions WHERE id = ANY($1)`, ids)
}

// ResolveCorrectAnswers maps each question id to its designated correct
// answer id in a single bulk lookup. Unknown ids are simply absent from the
// result, never an error.
func (r *QuestionSetRepository) ResolveCorrectAnswers(ctx context.Context, questionIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	result := make(map[uuid.UUID]uuid.UUID, len(questionIDs))
	if len(questionIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (question_id) question_id, id
		 FROM answers
		 WHERE question_id = ANY($1) AND is_correct = TRUE
		 ORDER BY question_id, "order"`, questionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var qID, aID uuid.UUID
		if err := rows.Scan(&qID, &aID); err != nil {
			return nil, err
		}
		result[qID] = aID
	}
	return result, rows.Err()
}

// loadQuestions runs a question query and attaches answer choices ordered by
// their display order.
func (r *QuestionSetRepository) loadQuestions(ctx context.Context, query string, arg any) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	index := make(map[uuid.UUID]int)
	var ids []uuid.UUID
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SetID, &q.Content); err != nil {
			return nil, err
		}
		index[q.ID] = len(questions)
		questions = append(questions, q)
		ids = append(ids, q.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return questions, nil
	}

	answerRows, err := r.pool.Query(ctx,
		`SELECT id, question_id, content, is_correct, "order"
		 FROM answers
		 WHERE question_id = ANY($1)
		 ORDER BY question_id, "order"`, ids)
	if err != nil {
		return nil, err
	}
	defer answerRows.Close()

	for answerRows.Next() {
		var a model.Answer
		if err := answerRows.Scan(&a.ID, &a.QuestionID, &a.Content, &a.IsCorrect, &a.Order); err != nil {
			return nil, err
		}
		if i, ok := index[a.QuestionID]; ok {
			questions[i].Answers = append(questions[i].Answers, a)
		}
	}
	return questions, answerRows.Err()
}

// CreateSet inserts a question set with its questions and answers in one
// transaction. Cardinality and answer-key validation happen in the service.
func (r *QuestionSetRepository) CreateSet(ctx context.Context, set *model.QuestionSet) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO question_sets (name, is_active) VALUES ($1, $2)
		 RETURNING id, created_at`,
		set.Name, set.IsActive).Scan(&set.ID, &set.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert set: %w", err)
	}

	for qi := range set.Questions {
		q := &set.Questions[qi]
		q.SetID = set.ID
		err = tx.QueryRow(ctx,
			`INSERT INTO questions (question_set_id, content, "order") VALUES ($1, $2, $3)
			 RETURNING id`, q.SetID, q.Content, qi).Scan(&q.ID)
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}

		for ai := range q.Answers {
			a := &q.Answers[ai]
			a.QuestionID = q.ID
			err = tx.QueryRow(ctx,
				`INSERT INTO answers (question_id, content, is_correct, "order")
				 VALUES ($1, $2, $3, $4)
				 RETURNING id`,
				a.QuestionID, a.Content, a.IsCorrect, a.Order).Scan(&a.ID)
			if err != nil {
				return fmt.Errorf("insert answer: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

// ListSets retrieves question sets without their questions, newest first.
func (r *QuestionSetRepository) ListSets(ctx context.Context, includeInactive bool) ([]model.QuestionSet, error) {
	query := `SELECT id, name, is_active, created_at FROM question_sets`
	if !includeInactive {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []model.QuestionSet
	for rows.Next() {
		var s model.QuestionSet
		if err := rows.Scan(&s.ID, &s.Name, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	return sets, rows.Err()
}

// GetSet retrieves one question set with questions and answers.
// Returns (nil, nil) when absent.
func (r *QuestionSetRepository) GetSet(ctx context.Context, id uuid.UUID) (*model.QuestionSet, error) {
	set := &model.QuestionSet{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, is_active, created_at FROM question_sets WHERE id = $1`, id).
		Scan(&set.ID, &set.Name, &set.IsActive, &set.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	questions, err := r.loadQuestions(ctx,
		`SELECT id, question_set_id, content FROM questions
		 WHERE question_set_id = $1
		 ORDER BY "order"`, set.ID)
	if err != nil {
		return nil, err
	}
	set.Questions = questions
	return set, nil
}
