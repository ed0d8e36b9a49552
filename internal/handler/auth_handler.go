package handler

import (
	"errors"
	"net/http"

	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/admitly/admitexam-backend/internal/response"
	"github.com/admitly/admitexam-backend/internal/service"
	"github.com/admitly/admitexam-backend/internal/validator"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles candidate and admin login.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// CandidateLogin godoc
// POST /api/v1/auth/candidate/login
func (h *AuthHandler) CandidateLogin(c *gin.Context) {
	var req model.CandidateLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.authService.CandidateLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		} else {
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token})
}

// AdminLogin godoc
// POST /api/v1/auth/admin/login
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req model.AdminLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.authService.AdminLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		} else {
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token})
}
