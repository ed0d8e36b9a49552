package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionSet is a versioned, immutable collection of questions. Only active
// sets are eligible for new exam sessions.
type QuestionSet struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	IsActive  bool       `json:"is_active"`
	Questions []Question `json:"questions,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Question is a single multiple-choice question with its answer choices.
type Question struct {
	ID      uuid.UUID `json:"id"`
	SetID   uuid.UUID `json:"question_set_id"`
	Content string    `json:"content"`
	Answers []Answer  `json:"answers,omitempty"`
}

// Answer is one choice of a question. IsCorrect never leaves the server on
// candidate-facing paths.
type Answer struct {
	ID         uuid.UUID `json:"id"`
	QuestionID uuid.UUID `json:"question_id"`
	Content    string    `json:"content"`
	IsCorrect  bool      `json:"is_correct"`
	Order      int       `json:"order"`
}

// QuestionForCandidate is a question with correctness flags stripped from
// every answer choice.
type QuestionForCandidate struct {
	ID      uuid.UUID            `json:"id"`
	Content string               `json:"content"`
	Answers []AnswerForCandidate `json:"answers"`
}

// AnswerForCandidate is an answer choice without the IsCorrect flag.
type AnswerForCandidate struct {
	ID      uuid.UUID `json:"id"`
	Content string    `json:"content"`
	Order   int       `json:"order"`
}

// ForCandidate strips correctness from a question, keeping the stored answer
// display order.
func (q Question) ForCandidate() QuestionForCandidate {
	out := QuestionForCandidate{
		ID:      q.ID,
		Content: q.Content,
		Answers: make([]AnswerForCandidate, 0, len(q.Answers)),
	}
	for _, a := range q.Answers {
		out.Answers = append(out.Answers, AnswerForCandidate{
			ID:      a.ID,
			Content: a.Content,
			Order:   a.Order,
		})
	}
	return out
}

// CreateAnswerRequest is one answer choice in a question set intake payload.
type CreateAnswerRequest struct {
	Content   string `json:"content" binding:"required,min=1,max=2000"`
	IsCorrect bool   `json:"is_correct"`
	Order     *int   `json:"order" binding:"omitempty,min=0"`
}

// CreateQuestionRequest is one question in a question set intake payload.
type CreateQuestionRequest struct {
	Content string                `json:"content" binding:"required,min=1,max=4000"`
	Answers []CreateAnswerRequest `json:"answers" binding:"required,min=2,dive"`
}

// CreateQuestionSetRequest is the payload for registering a question set.
type CreateQuestionSetRequest struct {
	Name      string                  `json:"name" binding:"required,min=3,max=255"`
	IsActive  bool                    `json:"is_active"`
	Questions []CreateQuestionRequest `json:"questions" binding:"required,dive"`
}
