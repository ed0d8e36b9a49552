package handler

import (
	"errors"
	"net/http"

	"github.com/admitly/admitexam-backend/internal/middleware"
	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/admitly/admitexam-backend/internal/response"
	"github.com/admitly/admitexam-backend/internal/service"
	"github.com/admitly/admitexam-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExamHandler exposes the exam session lifecycle to candidates.
type ExamHandler struct {
	examService *service.ExamService
	log         zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService: examService,
		log:         log.With().Str("component", "exam_handler").Logger(),
	}
}

// StartExam godoc
// POST /api/v1/exam/start
// Starts a new session or resumes an unexpired one. The response never
// carries correctness flags on answer choices.
func (h *ExamHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	result, err := h.examService.Start(c.Request.Context(), claims.UserID)
	if err != nil {
		h.failLifecycle(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// SubmitExam godoc
// POST /api/v1/exam/submit
// Accepts the one terminal submission. Scoring happens asynchronously; the
// acknowledgement carries only the session id.
func (h *ExamHandler) SubmitExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sessionID, err := h.examService.Submit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		h.failLifecycle(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session_id": sessionID})
}

// GetHistory godoc
// GET /api/v1/exam/history
func (h *ExamHandler) GetHistory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	entries, err := h.examService.History(c.Request.Context(), claims.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("History failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": entries})
}

// GetSessionDetail godoc
// GET /api/v1/exam/sessions/:session_id
func (h *ExamHandler) GetSessionDetail(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.examService.SessionDetail(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		h.failLifecycle(c, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// failLifecycle maps service sentinels onto the error taxonomy.
func (h *ExamHandler) failLifecycle(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAlreadyCompleted):
		response.Fail(c, http.StatusBadRequest, response.ErrAlreadyCompleted)
	case errors.Is(err, service.ErrSessionExpired):
		response.Fail(c, http.StatusBadRequest, response.ErrSessionExpired)
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrAlreadySubmitted):
		response.Fail(c, http.StatusBadRequest, response.ErrAlreadySubmitted)
	case errors.Is(err, service.ErrNoActiveSet):
		response.Fail(c, http.StatusBadRequest, response.ErrNoActiveSet)
	case errors.Is(err, service.ErrInvalidSet):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidSet)
	case errors.Is(err, service.ErrNotSubmitted):
		response.Fail(c, http.StatusBadRequest, response.ErrNotSubmittedYet)
	default:
		h.log.Error().Err(err).Msg("Exam operation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
