package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/admitly/admitexam-backend/internal/config"
	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/admitly/admitexam-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Question set intake errors.
var (
	ErrSetWrongSize       = errors.New("question set must have exactly the configured number of questions")
	ErrNoCorrectAnswer    = errors.New("every question must have at least one correct answer")
	ErrQuestionSetMissing = errors.New("question set not found")
)

// QuestionSetService enforces the content invariants at intake: exact
// cardinality and at least one designated correct answer per question.
type QuestionSetService struct {
	repo *repository.QuestionSetRepository
	cfg  *config.Config
	log  zerolog.Logger
}

// NewQuestionSetService creates a new QuestionSetService.
func NewQuestionSetService(repo *repository.QuestionSetRepository, cfg *config.Config, log zerolog.Logger) *QuestionSetService {
	return &QuestionSetService{
		repo: repo,
		cfg:  cfg,
		log:  log.With().Str("component", "question_set_service").Logger(),
	}
}

// Create validates and persists a new question set.
func (s *QuestionSetService) Create(ctx context.Context, req model.CreateQuestionSetRequest) (*model.QuestionSet, error) {
	if len(req.Questions) != s.cfg.QuestionsPerExam {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSetWrongSize, len(req.Questions), s.cfg.QuestionsPerExam)
	}

	set := &model.QuestionSet{
		Name:     req.Name,
		IsActive: req.IsActive,
	}
	for _, q := range req.Questions {
		hasCorrect := false
		question := model.Question{Content: q.Content}
		for i, a := range q.Answers {
			order := i
			if a.Order != nil {
				order = *a.Order
			}
			if a.IsCorrect {
				hasCorrect = true
			}
			question.Answers = append(question.Answers, model.Answer{
				Content:   a.Content,
				IsCorrect: a.IsCorrect,
				Order:     order,
			})
		}
		if !hasCorrect {
			return nil, ErrNoCorrectAnswer
		}
		set.Questions = append(set.Questions, question)
	}

	if err := s.repo.CreateSet(ctx, set); err != nil {
		return nil, fmt.Errorf("create question set: %w", err)
	}

	s.log.Info().
		Str("set_id", set.ID.String()).
		Str("name", set.Name).
		Bool("active", set.IsActive).
		Msg("Question set created")
	return set, nil
}

// List returns question sets without their questions.
func (s *QuestionSetService) List(ctx context.Context, includeInactive bool) ([]model.QuestionSet, error) {
	return s.repo.ListSets(ctx, includeInactive)
}

// Get returns one question set with all questions and answers.
func (s *QuestionSetService) Get(ctx context.Context, id uuid.UUID) (*model.QuestionSet, error) {
	set, err := s.repo.GetSet(ctx, id)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, ErrQuestionSetMissing
	}
	return set, nil
}
