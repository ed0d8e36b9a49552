package service

import (
	"context"
	"errors"
	"testing"

	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/rs/zerolog"
)

func buildSetRequest(n int) model.CreateQuestionSetRequest {
	req := model.CreateQuestionSetRequest{Name: "admissions 2026", IsActive: true}
	for i := 0; i < n; i++ {
		req.Questions = append(req.Questions, model.CreateQuestionRequest{
			Content: "question",
			Answers: []model.CreateAnswerRequest{
				{Content: "right", IsCorrect: true},
				{Content: "wrong"},
			},
		})
	}
	return req
}

func TestCreateSetRejectsWrongSize(t *testing.T) {
	cfg := testConfig()
	svc := NewQuestionSetService(nil, cfg, zerolog.Nop())

	_, err := svc.Create(context.Background(), buildSetRequest(cfg.QuestionsPerExam-1))
	if !errors.Is(err, ErrSetWrongSize) {
		t.Fatalf("err = %v, want ErrSetWrongSize", err)
	}
	_, err = svc.Create(context.Background(), buildSetRequest(cfg.QuestionsPerExam+1))
	if !errors.Is(err, ErrSetWrongSize) {
		t.Fatalf("err = %v, want ErrSetWrongSize", err)
	}
}

func TestCreateSetRejectsMissingCorrectAnswer(t *testing.T) {
	cfg := testConfig()
	svc := NewQuestionSetService(nil, cfg, zerolog.Nop())

	req := buildSetRequest(cfg.QuestionsPerExam)
	for i := range req.Questions[2].Answers {
		req.Questions[2].Answers[i].IsCorrect = false
	}

	if _, err := svc.Create(context.Background(), req); !errors.Is(err, ErrNoCorrectAnswer) {
		t.Fatalf("err = %v, want ErrNoCorrectAnswer", err)
	}
}
