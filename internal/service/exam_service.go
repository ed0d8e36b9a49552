package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/admitly/admitexam-backend/internal/config"
	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Domain errors surfaced to the transport layer.
var (
	ErrAlreadyCompleted = errors.New("exam already completed, retake not allowed")
	ErrSessionExpired   = errors.New("exam session has expired")
	ErrSessionNotFound  = errors.New("exam session not found")
	ErrAlreadySubmitted = errors.New("exam already submitted")
	ErrNoActiveSet      = errors.New("no active question set")
	ErrInvalidSet       = errors.New("active question set has invalid cardinality")
	ErrNotSubmitted     = errors.New("exam not submitted yet")
)

// SessionStore is the durable record of exam sessions and their answers.
// Lookup methods return (nil, nil) when no row matches.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*model.ExamSession, error)
	FindInProgressByUser(ctx context.Context, userID uuid.UUID) (*model.ExamSession, error)
	HasCompleted(ctx context.Context, userID uuid.UUID, excludeAutoSubmitted bool) (bool, error)
	HasAnySession(ctx context.Context, userID uuid.UUID) (bool, error)
	// Create reports false when a concurrent start already holds the
	// one-active-session slot for this user.
	Create(ctx context.Context, s *model.ExamSession) (bool, error)
	// CompleteSession reports false when the IN_PROGRESS -> COMPLETED
	// compare-and-set lost; in that case nothing was written.
	CompleteSession(ctx context.Context, sessionID uuid.UUID, endTime time.Time, autoSubmitted bool, answers []model.ExamAnswer) (bool, error)
	ListAnswersBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ExamAnswer, error)
	SetAnswerCorrectness(ctx context.Context, correctIDs, incorrectIDs []uuid.UUID) error
	UpdateResult(ctx context.Context, sessionID uuid.UUID, correctCount int, score float64) error
	ListCompletedByUser(ctx context.Context, userID uuid.UUID) ([]model.ExamSession, error)
	ListAnswerDetails(ctx context.Context, sessionID uuid.UUID) ([]model.SessionAnswerDetail, error)
}

// QuestionProvider supplies versioned question content and the grading-time
// answer key.
type QuestionProvider interface {
	// GetActiveSet returns (nil, nil) when no set is active.
	GetActiveSet(ctx context.Context) (*model.QuestionSet, error)
	GetQuestionsByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error)
	ResolveCorrectAnswers(ctx context.Context, questionIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
}

// GradeScheduler hands a completed session to the grading engine without
// blocking the caller.
type GradeScheduler interface {
	Schedule(ctx context.Context, sessionID uuid.UUID) error
}

// ExamService owns the exam session state machine: start, resume, expiry
// auto-submission, terminal submission and the read projections.
type ExamService struct {
	store     SessionStore
	provider  QuestionProvider
	scheduler GradeScheduler
	cfg       *config.Config
	log       zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(store SessionStore, provider QuestionProvider, scheduler GradeScheduler, cfg *config.Config, log zerolog.Logger) *ExamService {
	return &ExamService{
		store:     store,
		provider:  provider,
		scheduler: scheduler,
		cfg:       cfg,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// Start begins a new exam session or resumes an unexpired one. A stale
// IN_PROGRESS session is auto-submitted here and reported as expired; the
// candidate is never silently restarted.
func (s *ExamService) Start(ctx context.Context, userID uuid.UUID) (*model.StartExamResult, error) {
	blocked, err := s.retakeBlocked(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check retake policy: %w", err)
	}
	if blocked {
		return nil, ErrAlreadyCompleted
	}

	existing, err := s.store.FindInProgressByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find in-progress session: %w", err)
	}
	if existing != nil {
		if s.expired(existing, time.Now()) {
			if _, err := s.finishSession(ctx, existing.ID, true, nil); err != nil {
				return nil, fmt.Errorf("auto-submit expired session: %w", err)
			}
			return nil, ErrSessionExpired
		}
		return s.resume(ctx, existing)
	}

	// "No prior attempt at all" deployments also refuse a fresh start when
	// any historical session exists, whatever its state.
	if s.cfg.RetakePolicy == config.RetakeBlockAny {
		any, err := s.store.HasAnySession(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("check prior attempts: %w", err)
		}
		if any {
			return nil, ErrAlreadyCompleted
		}
	}

	set, err := s.provider.GetActiveSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active question set: %w", err)
	}
	if set == nil {
		return nil, ErrNoActiveSet
	}
	if len(set.Questions) != s.cfg.QuestionsPerExam {
		return nil, fmt.Errorf("%w: set %q has %d questions, expected %d",
			ErrInvalidSet, set.Name, len(set.Questions), s.cfg.QuestionsPerExam)
	}

	// Uniform per-candidate permutation, private to this session.
	questions := make([]model.Question, len(set.Questions))
	copy(questions, set.Questions)
	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})

	questionIDs := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		questionIDs[i] = q.ID
	}

	session := &model.ExamSession{
		UserID:         userID,
		QuestionIDs:    questionIDs,
		TotalQuestions: s.cfg.QuestionsPerExam,
		StartTime:      time.Now(),
		Status:         model.SessionStatusInProgress,
	}

	created, err := s.store.Create(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !created {
		// Concurrent start won the one-active-session slot; adopt it.
		winner, err := s.store.FindInProgressByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("concurrent start detected, fetch failed: %w", err)
		}
		if winner == nil {
			return nil, ErrSessionNotFound
		}
		return s.resume(ctx, winner)
	}

	return &model.StartExamResult{
		SessionID:      session.ID,
		Questions:      stripCorrectness(questions),
		TotalQuestions: session.TotalQuestions,
		StartTime:      session.StartTime,
		IsResumed:      false,
	}, nil
}

// Submit records the candidate's answers and completes the session. The
// status flip and the answer rows commit together; grading runs afterwards,
// detached from this call.
func (s *ExamService) Submit(ctx context.Context, userID uuid.UUID, req model.SubmitExamRequest) (uuid.UUID, error) {
	session, err := s.store.GetByIDAndUser(ctx, req.SessionID, userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return uuid.Nil, ErrSessionNotFound
	}
	if session.Status == model.SessionStatusCompleted {
		return uuid.Nil, ErrAlreadySubmitted
	}
	if s.expired(session, time.Now()) {
		return uuid.Nil, ErrSessionExpired
	}

	answers := make([]model.ExamAnswer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, model.ExamAnswer{
			ExamSessionID:    session.ID,
			QuestionID:       a.QuestionID,
			SelectedAnswerID: a.AnswerID,
			// Provisional until the grading engine runs.
			IsCorrect: false,
		})
	}

	committed, err := s.finishSession(ctx, session.ID, false, answers)
	if err != nil {
		return uuid.Nil, err
	}
	if !committed {
		return uuid.Nil, ErrAlreadySubmitted
	}
	return session.ID, nil
}

// History returns the candidate's completed sessions, most recent first.
// Scores may still be provisional while grading converges.
func (s *ExamService) History(ctx context.Context, userID uuid.UUID) ([]model.HistoryEntry, error) {
	sessions, err := s.store.ListCompletedByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}

	entries := make([]model.HistoryEntry, 0, len(sessions))
	for _, sess := range sessions {
		entries = append(entries, model.HistoryEntry{
			SessionID:      sess.ID,
			Score:          sess.Score,
			CorrectAnswers: sess.CorrectAnswers,
			TotalQuestions: sess.TotalQuestions,
			StartTime:      sess.StartTime,
			EndTime:        sess.EndTime,
			CreatedAt:      sess.CreatedAt,
		})
	}
	return entries, nil
}

// SessionDetail returns the per-question breakdown of one completed session.
func (s *ExamService) SessionDetail(ctx context.Context, userID, sessionID uuid.UUID) (*model.SessionDetail, error) {
	session, err := s.store.GetByIDAndUser(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status != model.SessionStatusCompleted {
		return nil, ErrNotSubmitted
	}

	answers, err := s.store.ListAnswerDetails(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answer details: %w", err)
	}

	questionIDs := make([]uuid.UUID, 0, len(answers))
	for _, a := range answers {
		questionIDs = append(questionIDs, a.QuestionID)
	}
	correctByQuestion, err := s.provider.ResolveCorrectAnswers(ctx, questionIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve correct answers: %w", err)
	}
	for i := range answers {
		if correctID, ok := correctByQuestion[answers[i].QuestionID]; ok {
			id := correctID
			answers[i].CorrectAnswerID = &id
		}
	}

	return &model.SessionDetail{
		SessionID:      session.ID,
		Score:          session.Score,
		CorrectAnswers: session.CorrectAnswers,
		TotalQuestions: session.TotalQuestions,
		StartTime:      session.StartTime,
		EndTime:        session.EndTime,
		Answers:        answers,
	}, nil
}

// ActiveSession returns the candidate's current IN_PROGRESS session.
func (s *ExamService) ActiveSession(ctx context.Context, userID uuid.UUID) (*model.ExamSession, error) {
	session, err := s.store.FindInProgressByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find in-progress session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Duration exposes the configured exam window for transports that display it.
func (s *ExamService) Duration() time.Duration {
	return s.cfg.ExamDuration
}

// expired applies the shared wall-clock threshold. Strict: a session is
// submittable only while elapsed <= duration.
func (s *ExamService) expired(session *model.ExamSession, now time.Time) bool {
	return now.Sub(session.StartTime) > s.cfg.ExamDuration
}

// finishSession is the single IN_PROGRESS -> COMPLETED edge, shared by
// manual submission and expiry auto-submission. Grading is scheduled only
// after the transition commits; a scheduling failure is logged, never
// surfaced, and the pending-grading sweep picks the session up later.
func (s *ExamService) finishSession(ctx context.Context, sessionID uuid.UUID, autoSubmitted bool, answers []model.ExamAnswer) (bool, error) {
	committed, err := s.store.CompleteSession(ctx, sessionID, time.Now(), autoSubmitted, answers)
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	if !committed {
		return false, nil
	}

	if err := s.scheduler.Schedule(ctx, sessionID); err != nil {
		s.log.Error().Err(err).
			Str("session_id", sessionID.String()).
			Msg("Failed to schedule grading, sweep will recover it")
	}
	return true, nil
}

// retakeBlocked evaluates the completed-session gate of the retake policy.
func (s *ExamService) retakeBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	excludeAutoSubmitted := s.cfg.RetakePolicy == config.RetakeAllowAfterExpiry
	return s.store.HasCompleted(ctx, userID, excludeAutoSubmitted)
}

// resume rebuilds the start response for an existing session from its
// question id snapshot, preserving the original per-candidate ordering.
func (s *ExamService) resume(ctx context.Context, session *model.ExamSession) (*model.StartExamResult, error) {
	questions, err := s.provider.GetQuestionsByIDs(ctx, session.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("rehydrate questions: %w", err)
	}

	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	ordered := make([]model.Question, 0, len(session.QuestionIDs))
	for _, id := range session.QuestionIDs {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}

	return &model.StartExamResult{
		SessionID:      session.ID,
		Questions:      stripCorrectness(ordered),
		TotalQuestions: session.TotalQuestions,
		StartTime:      session.StartTime,
		IsResumed:      true,
	}, nil
}

// stripCorrectness converts questions to their candidate-facing shape. The
// start/resume response must never leak which answer is correct.
func stripCorrectness(questions []model.Question) []model.QuestionForCandidate {
	out := make([]model.QuestionForCandidate, 0, len(questions))
	for _, q := range questions {
		out = append(out, q.ForCandidate())
	}
	return out
}
