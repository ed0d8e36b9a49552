package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/admitly/admitexam-backend/internal/config"
	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fakeStore is an in-memory SessionStore with the same CAS and uniqueness
// semantics as the SQL implementation.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.ExamSession
	answers  map[uuid.UUID][]model.ExamAnswer

	// missFinds makes FindInProgressByUser miss that many times, simulating
	// a read that ran before a concurrent start committed.
	missFinds int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uuid.UUID]*model.ExamSession),
		answers:  make(map[uuid.UUID][]model.ExamAnswer),
	}
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*model.ExamSession, error) {
	s, err := f.GetByID(ctx, id)
	if err != nil || s == nil || s.UserID != userID {
		return nil, err
	}
	return s, nil
}

func (f *fakeStore) FindInProgressByUser(_ context.Context, userID uuid.UUID) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missFinds > 0 {
		f.missFinds--
		return nil, nil
	}
	for _, s := range f.sessions {
		if s.UserID == userID && s.Status == model.SessionStatusInProgress {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) HasCompleted(_ context.Context, userID uuid.UUID, excludeAutoSubmitted bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID != userID || s.Status != model.SessionStatusCompleted {
			continue
		}
		if excludeAutoSubmitted && s.AutoSubmitted {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) HasAnySession(_ context.Context, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Create(_ context.Context, s *model.ExamSession) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.UserID == s.UserID && existing.Status == model.SessionStatusInProgress {
			return false, nil
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	cp := *s
	f.sessions[s.ID] = &cp
	return true, nil
}

func (f *fakeStore) CompleteSession(_ context.Context, sessionID uuid.UUID, endTime time.Time, autoSubmitted bool, answers []model.ExamAnswer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || s.Status != model.SessionStatusInProgress {
		return false, nil
	}
	s.Status = model.SessionStatusCompleted
	s.EndTime = &endTime
	s.AutoSubmitted = autoSubmitted
	for _, a := range answers {
		a.ID = uuid.New()
		f.answers[sessionID] = append(f.answers[sessionID], a)
	}
	return true, nil
}

func (f *fakeStore) ListAnswersBySession(_ context.Context, sessionID uuid.UUID) ([]model.ExamAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ExamAnswer(nil), f.answers[sessionID]...), nil
}

func (f *fakeStore) SetAnswerCorrectness(_ context.Context, correctIDs, incorrectIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply := func(ids []uuid.UUID, v bool) {
		for _, id := range ids {
			for sid := range f.answers {
				for i := range f.answers[sid] {
					if f.answers[sid][i].ID == id {
						f.answers[sid][i].IsCorrect = v
					}
				}
			}
		}
	}
	apply(correctIDs, true)
	apply(incorrectIDs, false)
	return nil
}

func (f *fakeStore) UpdateResult(_ context.Context, sessionID uuid.UUID, correctCount int, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	s.CorrectAnswers = correctCount
	s.Score = score
	now := time.Now()
	s.GradedAt = &now
	return nil
}

func (f *fakeStore) ListCompletedByUser(_ context.Context, userID uuid.UUID) ([]model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExamSession
	for _, s := range f.sessions {
		if s.UserID == userID && s.Status == model.SessionStatusCompleted {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAnswerDetails(_ context.Context, sessionID uuid.UUID) ([]model.SessionAnswerDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SessionAnswerDetail
	for _, a := range f.answers[sessionID] {
		out = append(out, model.SessionAnswerDetail{
			QuestionID:       a.QuestionID,
			SelectedAnswerID: a.SelectedAnswerID,
			IsCorrect:        a.IsCorrect,
		})
	}
	return out, nil
}

// fakeProvider serves a fixed question set and its answer key.
type fakeProvider struct {
	activeSet *model.QuestionSet
	key       map[uuid.UUID]uuid.UUID
}

func (f *fakeProvider) GetActiveSet(_ context.Context) (*model.QuestionSet, error) {
	return f.activeSet, nil
}

func (f *fakeProvider) GetQuestionsByIDs(_ context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if f.activeSet == nil {
		return nil, nil
	}
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Question
	for _, q := range f.activeSet.Questions {
		if want[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeProvider) ResolveCorrectAnswers(_ context.Context, questionIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID)
	for _, id := range questionIDs {
		if correct, ok := f.key[id]; ok {
			out[id] = correct
		}
	}
	return out, nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []uuid.UUID
	err       error
}

func (f *fakeScheduler) Schedule(_ context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, sessionID)
	return nil
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

// buildSet creates a question set of n questions with 4 choices each; the
// first choice of every question is the correct one.
func buildSet(n int) (*model.QuestionSet, map[uuid.UUID]uuid.UUID) {
	set := &model.QuestionSet{ID: uuid.New(), Name: "test set", IsActive: true}
	key := make(map[uuid.UUID]uuid.UUID, n)
	for i := 0; i < n; i++ {
		q := model.Question{ID: uuid.New(), SetID: set.ID, Content: "question"}
		for j := 0; j < 4; j++ {
			q.Answers = append(q.Answers, model.Answer{
				ID:         uuid.New(),
				QuestionID: q.ID,
				Content:    "choice",
				IsCorrect:  j == 0,
				Order:      j,
			})
		}
		key[q.ID] = q.Answers[0].ID
		set.Questions = append(set.Questions, q)
	}
	return set, key
}

func testConfig() *config.Config {
	return &config.Config{
		ExamDuration:     20 * time.Minute,
		QuestionsPerExam: 5,
		RetakePolicy:     config.RetakeBlockCompleted,
	}
}

type examFixture struct {
	svc       *ExamService
	store     *fakeStore
	provider  *fakeProvider
	scheduler *fakeScheduler
	cfg       *config.Config
}

func newExamFixture(t *testing.T) *examFixture {
	t.Helper()
	set, key := buildSet(5)
	store := newFakeStore()
	provider := &fakeProvider{activeSet: set, key: key}
	scheduler := &fakeScheduler{}
	cfg := testConfig()
	return &examFixture{
		svc:       NewExamService(store, provider, scheduler, cfg, zerolog.Nop()),
		store:     store,
		provider:  provider,
		scheduler: scheduler,
		cfg:       cfg,
	}
}

func TestStartCreatesSessionSnapshot(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.IsResumed {
		t.Fatal("fresh start reported as resumed")
	}
	if got := len(result.Questions); got != 5 {
		t.Fatalf("got %d questions, want 5", got)
	}
	if result.TotalQuestions != 5 {
		t.Fatalf("total_questions = %d, want 5", result.TotalQuestions)
	}

	seen := make(map[uuid.UUID]bool)
	for _, q := range result.Questions {
		if seen[q.ID] {
			t.Fatalf("duplicate question %s in start response", q.ID)
		}
		seen[q.ID] = true
		if len(q.Answers) != 4 {
			t.Fatalf("question %s has %d answers, want 4", q.ID, len(q.Answers))
		}
	}

	session, err := f.store.GetByID(ctx, result.SessionID)
	if err != nil || session == nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if session.Status != model.SessionStatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", session.Status)
	}
	if len(session.QuestionIDs) != 5 {
		t.Fatalf("snapshot has %d ids, want 5", len(session.QuestionIDs))
	}
}

func TestStartResumePreservesOrdering(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	if !second.IsResumed {
		t.Fatal("second start did not resume")
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("resumed session %s, want %s", second.SessionID, first.SessionID)
	}
	if len(second.Questions) != len(first.Questions) {
		t.Fatalf("resumed %d questions, want %d", len(second.Questions), len(first.Questions))
	}
	for i := range first.Questions {
		if second.Questions[i].ID != first.Questions[i].ID {
			t.Fatalf("question order changed at index %d", i)
		}
	}
}

func TestStartBlockedAfterCompletion(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Submit(ctx, userID, model.SubmitExamRequest{SessionID: result.SessionID}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.svc.Start(ctx, userID); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestStartExpiredSessionAutoSubmits(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	backdate(f.store, result.SessionID, f.cfg.ExamDuration+time.Minute)

	if _, err := f.svc.Start(ctx, userID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	session, _ := f.store.GetByID(ctx, result.SessionID)
	if session.Status != model.SessionStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", session.Status)
	}
	if !session.AutoSubmitted {
		t.Fatal("auto-submitted session not flagged")
	}
	if f.scheduler.count() != 1 {
		t.Fatalf("scheduled %d gradings, want 1", f.scheduler.count())
	}
	answers, _ := f.store.ListAnswersBySession(ctx, result.SessionID)
	if len(answers) != 0 {
		t.Fatalf("expiry auto-submit wrote %d answers, want 0", len(answers))
	}
}

func TestStartRetakeAllowAfterExpiry(t *testing.T) {
	f := newExamFixture(t)
	f.cfg.RetakePolicy = config.RetakeAllowAfterExpiry
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	backdate(f.store, result.SessionID, f.cfg.ExamDuration+time.Minute)

	if _, err := f.svc.Start(ctx, userID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	// The only completed session was closed by expiry, so a fresh start
	// is allowed under this policy.
	fresh, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start after expiry: %v", err)
	}
	if fresh.SessionID == result.SessionID {
		t.Fatal("expected a new session, got the expired one")
	}

	// A manual submission still blocks afterwards.
	if _, err := f.svc.Submit(ctx, userID, model.SubmitExamRequest{SessionID: fresh.SessionID}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.Start(ctx, userID); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestStartRetakeBlockAny(t *testing.T) {
	f := newExamFixture(t)
	f.cfg.RetakePolicy = config.RetakeBlockAny
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Resuming the running session is still fine.
	resumed, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed.IsResumed {
		t.Fatal("expected resume")
	}

	backdate(f.store, result.SessionID, f.cfg.ExamDuration+time.Minute)
	if _, err := f.svc.Start(ctx, userID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	// Even the expiry-closed attempt blocks a fresh start under block_any.
	if _, err := f.svc.Start(ctx, userID); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestStartNoActiveSet(t *testing.T) {
	f := newExamFixture(t)
	f.provider.activeSet = nil

	if _, err := f.svc.Start(context.Background(), uuid.New()); !errors.Is(err, ErrNoActiveSet) {
		t.Fatalf("err = %v, want ErrNoActiveSet", err)
	}
}

func TestStartRejectsWrongCardinality(t *testing.T) {
	f := newExamFixture(t)
	set, key := buildSet(3)
	f.provider.activeSet = set
	f.provider.key = key

	if _, err := f.svc.Start(context.Background(), uuid.New()); !errors.Is(err, ErrInvalidSet) {
		t.Fatalf("err = %v, want ErrInvalidSet", err)
	}
}

func TestStartConcurrentLoserAdoptsWinner(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	winner, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Force the insert race: the loser's in-progress lookup runs before the
	// winner committed, then its insert loses the one-active-session slot.
	f.store.missFinds = 1

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("loser start: %v", err)
	}
	if !result.IsResumed {
		t.Fatal("race loser did not adopt the winner session")
	}
	if result.SessionID != winner.SessionID {
		t.Fatalf("adopted session %s, want %s", result.SessionID, winner.SessionID)
	}
}

func TestSubmitRejectsExpiredWithoutWrites(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	backdate(f.store, result.SessionID, f.cfg.ExamDuration+time.Minute)

	req := model.SubmitExamRequest{
		SessionID: result.SessionID,
		Answers: []model.SubmittedAnswer{
			{QuestionID: result.Questions[0].ID, AnswerID: result.Questions[0].Answers[0].ID},
		},
	}
	if _, err := f.svc.Submit(ctx, userID, req); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	session, _ := f.store.GetByID(ctx, result.SessionID)
	if session.Status != model.SessionStatusInProgress {
		t.Fatalf("late submit mutated status to %s", session.Status)
	}
	answers, _ := f.store.ListAnswersBySession(ctx, result.SessionID)
	if len(answers) != 0 {
		t.Fatalf("late submit wrote %d answers, want 0", len(answers))
	}
	if f.scheduler.count() != 0 {
		t.Fatal("late submit scheduled grading")
	}
}

func TestSubmitDoubleSubmission(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	req := model.SubmitExamRequest{SessionID: result.SessionID}
	if _, err := f.svc.Submit(ctx, userID, req); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.svc.Submit(ctx, userID, req); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("err = %v, want ErrAlreadySubmitted", err)
	}
	if f.scheduler.count() != 1 {
		t.Fatalf("scheduled %d gradings, want 1", f.scheduler.count())
	}
}

func TestSubmitUnknownSession(t *testing.T) {
	f := newExamFixture(t)
	req := model.SubmitExamRequest{SessionID: uuid.New()}

	if _, err := f.svc.Submit(context.Background(), uuid.New(), req); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitOtherUsersSession(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, uuid.New())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	req := model.SubmitExamRequest{SessionID: result.SessionID}
	if _, err := f.svc.Submit(ctx, uuid.New(), req); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitSurvivesSchedulerFailure(t *testing.T) {
	f := newExamFixture(t)
	f.scheduler.err = errors.New("redis down")
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Submit(ctx, userID, model.SubmitExamRequest{SessionID: result.SessionID}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	session, _ := f.store.GetByID(ctx, result.SessionID)
	if session.Status != model.SessionStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", session.Status)
	}
	if session.GradedAt != nil {
		t.Fatal("graded marker set without grading")
	}
}

func TestSessionDetailRequiresCompletion(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.svc.SessionDetail(ctx, userID, result.SessionID); !errors.Is(err, ErrNotSubmitted) {
		t.Fatalf("err = %v, want ErrNotSubmitted", err)
	}
	if _, err := f.svc.SessionDetail(ctx, userID, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionDetailFillsCorrectAnswers(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	req := model.SubmitExamRequest{
		SessionID: result.SessionID,
		Answers: []model.SubmittedAnswer{
			{QuestionID: result.Questions[0].ID, AnswerID: result.Questions[0].Answers[1].ID},
		},
	}
	if _, err := f.svc.Submit(ctx, userID, req); err != nil {
		t.Fatalf("submit: %v", err)
	}

	detail, err := f.svc.SessionDetail(ctx, userID, result.SessionID)
	if err != nil {
		t.Fatalf("session detail: %v", err)
	}
	if len(detail.Answers) != 1 {
		t.Fatalf("got %d answers, want 1", len(detail.Answers))
	}
	a := detail.Answers[0]
	if a.CorrectAnswerID == nil {
		t.Fatal("correct answer id missing from detail")
	}
	if *a.CorrectAnswerID != f.provider.key[a.QuestionID] {
		t.Fatalf("correct answer id = %s, want %s", a.CorrectAnswerID, f.provider.key[a.QuestionID])
	}
}

func TestHistoryListsCompletedSessions(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	entries, err := f.svc.History(ctx, userID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0", len(entries))
	}

	result, err := f.svc.Start(ctx, userID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Submit(ctx, userID, model.SubmitExamRequest{SessionID: result.SessionID}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	entries, err = f.svc.History(ctx, userID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].SessionID != result.SessionID {
		t.Fatalf("entry session = %s, want %s", entries[0].SessionID, result.SessionID)
	}
	if entries[0].EndTime == nil {
		t.Fatal("completed entry missing end time")
	}
}

// backdate shifts a stored session's start time into the past.
func backdate(store *fakeStore, sessionID uuid.UUID, by time.Duration) {
	store.mu.Lock()
	defer store.mu.Unlock()
	s := store.sessions[sessionID]
	s.StartTime = s.StartTime.Add(-by)
}
