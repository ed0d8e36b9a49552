package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/admitly/admitexam-backend/internal/response"
	"github.com/admitly/admitexam-backend/internal/service"
	"github.com/admitly/admitexam-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// QuestionSetHandler exposes question set intake to administrators.
type QuestionSetHandler struct {
	setService *service.QuestionSetService
}

// NewQuestionSetHandler creates a new QuestionSetHandler.
func NewQuestionSetHandler(setService *service.QuestionSetService) *QuestionSetHandler {
	return &QuestionSetHandler{setService: setService}
}

// CreateSet godoc
// POST /api/v1/admin/question-sets
func (h *QuestionSetHandler) CreateSet(c *gin.Context) {
	var req model.CreateQuestionSetRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	set, err := h.setService.Create(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSetWrongSize), errors.Is(err, service.ErrNoCorrectAnswer):
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidSet)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusCreated, set)
}

// ListSets godoc
// GET /api/v1/admin/question-sets?include_inactive=true
func (h *QuestionSetHandler) ListSets(c *gin.Context) {
	includeInactive, _ := strconv.ParseBool(c.Query("include_inactive"))

	sets, err := h.setService.List(c.Request.Context(), includeInactive)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if sets == nil {
		sets = []model.QuestionSet{}
	}

	response.Success(c, http.StatusOK, gin.H{"question_sets": sets})
}

// GetSet godoc
// GET /api/v1/admin/question-sets/:id
func (h *QuestionSetHandler) GetSet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	set, err := h.setService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrQuestionSetMissing) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		} else {
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, set)
}
