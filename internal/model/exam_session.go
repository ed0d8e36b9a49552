package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// ExamSession represents a candidate's single exam attempt. The question id
// snapshot taken at creation fixes the exam content even if the question bank
// changes later.
type ExamSession struct {
	ID             uuid.UUID     `json:"id"`
	UserID         uuid.UUID     `json:"user_id"`
	QuestionIDs    []uuid.UUID   `json:"question_ids"`
	TotalQuestions int           `json:"total_questions"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	Status         SessionStatus `json:"status"`
	CorrectAnswers int           `json:"correct_answers"`
	Score          float64       `json:"score"`
	// AutoSubmitted is true when the session was closed by expiry rather
	// than by the candidate. The retake policy reads this flag.
	AutoSubmitted bool       `json:"auto_submitted"`
	GradedAt      *time.Time `json:"graded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ExamAnswer is one recorded choice per (session, question). IsCorrect is
// written as a provisional false at submission and set authoritatively by
// the grading engine.
type ExamAnswer struct {
	ID               uuid.UUID `json:"id"`
	ExamSessionID    uuid.UUID `json:"exam_session_id"`
	QuestionID       uuid.UUID `json:"question_id"`
	SelectedAnswerID uuid.UUID `json:"selected_answer_id"`
	IsCorrect        bool      `json:"is_correct"`
	CreatedAt        time.Time `json:"created_at"`
}

// SubmittedAnswer is a single (question, answer) pair in a submission payload.
type SubmittedAnswer struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	AnswerID   uuid.UUID `json:"answer_id" binding:"required"`
}

// SubmitExamRequest is the payload for submitting an exam.
type SubmitExamRequest struct {
	SessionID uuid.UUID         `json:"session_id" binding:"required"`
	Answers   []SubmittedAnswer `json:"answers" binding:"dive"`
}

// StartExamResult is returned by start/resume. Questions never carry
// correctness flags.
type StartExamResult struct {
	SessionID      uuid.UUID              `json:"session_id"`
	Questions      []QuestionForCandidate `json:"questions"`
	TotalQuestions int                    `json:"total_questions"`
	StartTime      time.Time              `json:"start_time"`
	IsResumed      bool                   `json:"is_resumed"`
}

// HistoryEntry is one completed session in a candidate's history projection.
type HistoryEntry struct {
	SessionID      uuid.UUID  `json:"session_id"`
	Score          float64    `json:"score"`
	CorrectAnswers int        `json:"correct_answers"`
	TotalQuestions int        `json:"total_questions"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SessionAnswerDetail is one graded answer in a session detail projection.
type SessionAnswerDetail struct {
	QuestionID       uuid.UUID  `json:"question_id"`
	QuestionContent  string     `json:"question_content"`
	SelectedAnswerID uuid.UUID  `json:"selected_answer_id"`
	SelectedContent  string     `json:"selected_answer_content"`
	CorrectAnswerID  *uuid.UUID `json:"correct_answer_id,omitempty"`
	IsCorrect        bool       `json:"is_correct"`
}

// SessionDetail is the full per-question breakdown of a completed session.
type SessionDetail struct {
	SessionID      uuid.UUID             `json:"session_id"`
	Score          float64               `json:"score"`
	CorrectAnswers int                   `json:"correct_answers"`
	TotalQuestions int                   `json:"total_questions"`
	StartTime      time.Time             `json:"start_time"`
	EndTime        *time.Time            `json:"end_time,omitempty"`
	Answers        []SessionAnswerDetail `json:"answers"`
}

// SessionClock is the remaining-time payload pushed over the exam clock stream.
type SessionClock struct {
	SessionID        uuid.UUID `json:"session_id"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	Expired          bool      `json:"expired"`
}
