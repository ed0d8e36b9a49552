package service

import (
	"context"
	"fmt"
	"math"

	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GradingEngine recomputes answer correctness and session scores after
// submission. Grade is idempotent and safe to run concurrently with itself
// for the same session; batched writes make repeated runs converge to the
// same end state.
type GradingEngine struct {
	store    SessionStore
	provider QuestionProvider
	log      zerolog.Logger
}

// NewGradingEngine creates a new GradingEngine.
func NewGradingEngine(store SessionStore, provider QuestionProvider, log zerolog.Logger) *GradingEngine {
	return &GradingEngine{
		store:    store,
		provider: provider,
		log:      log.With().Str("component", "grading_engine").Logger(),
	}
}

// Grade scores one session. Partial failures leave individually consistent
// writes in place; re-invocation finishes the job.
func (g *GradingEngine) Grade(ctx context.Context, sessionID uuid.UUID) error {
	session, err := g.store.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("grade: session %s not found", sessionID)
	}

	answers, err := g.store.ListAnswersBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list answers: %w", err)
	}

	correctCount := 0
	var newlyCorrect, newlyIncorrect []uuid.UUID

	if len(answers) > 0 {
		questionIDs := distinctQuestionIDs(answers)
		correctByQuestion, err := g.provider.ResolveCorrectAnswers(ctx, questionIDs)
		if err != nil {
			return fmt.Errorf("resolve correct answers: %w", err)
		}

		for _, a := range answers {
			// A question id unresolvable against current content counts
			// as incorrect; stale snapshots never crash grading.
			isCorrect := a.SelectedAnswerID == correctByQuestion[a.QuestionID]
			if isCorrect {
				correctCount++
			}
			if isCorrect == a.IsCorrect {
				continue
			}
			if isCorrect {
				newlyCorrect = append(newlyCorrect, a.ID)
			} else {
				newlyIncorrect = append(newlyIncorrect, a.ID)
			}
		}

		if err := g.store.SetAnswerCorrectness(ctx, newlyCorrect, newlyIncorrect); err != nil {
			return fmt.Errorf("apply correctness: %w", err)
		}
	}

	// Score out of the session's nominal length, never the answered count:
	// a partially answered expired session is scored against all N.
	score := roundScore(correctCount, session.TotalQuestions)
	if err := g.store.UpdateResult(ctx, sessionID, correctCount, score); err != nil {
		return fmt.Errorf("update result: %w", err)
	}

	g.log.Debug().
		Str("session_id", sessionID.String()).
		Int("correct", correctCount).
		Float64("score", score).
		Int("updated_rows", len(newlyCorrect)+len(newlyIncorrect)).
		Msg("Session graded")
	return nil
}

func distinctQuestionIDs(answers []model.ExamAnswer) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(answers))
	ids := make([]uuid.UUID, 0, len(answers))
	for _, a := range answers {
		if _, ok := seen[a.QuestionID]; ok {
			continue
		}
		seen[a.QuestionID] = struct{}{}
		ids = append(ids, a.QuestionID)
	}
	return ids
}

// roundScore computes 100*correct/total at two-decimal precision.
func roundScore(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(100*float64(correct)/float64(total)*100) / 100
}
