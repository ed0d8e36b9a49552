package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/admitly/admitexam-backend/internal/config"
	"github.com/admitly/admitexam-backend/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any unknown email or wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenType distinguishes candidate vs admin tokens.
type TokenType string

const (
	TokenTypeCandidate TokenType = "candidate"
	TokenTypeAdmin     TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    uuid.UUID `json:"user_id"`
}

// AuthService resolves credentials into signed identity tokens. Credential
// issuance itself (registration intake, admin provisioning) happens outside
// the request path.
type AuthService struct {
	cfg           *config.Config
	candidateRepo *repository.CandidateRepository
	adminRepo     *repository.AdminRepository
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, candidateRepo *repository.CandidateRepository, adminRepo *repository.AdminRepository) *AuthService {
	return &AuthService{cfg: cfg, candidateRepo: candidateRepo, adminRepo: adminRepo}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CandidateLogin verifies candidate credentials and returns a signed token.
func (s *AuthService) CandidateLogin(ctx context.Context, email, password string) (string, error) {
	candidate, err := s.candidateRepo.GetByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("get candidate: %w", err)
	}
	if candidate == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(candidate.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.generateToken(candidate.ID, TokenTypeCandidate)
}

// AdminLogin verifies admin credentials and returns a signed token.
func (s *AuthService) AdminLogin(ctx context.Context, email, password string) (string, error) {
	admin, err := s.adminRepo.GetByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("get admin: %w", err)
	}
	if admin == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.generateToken(admin.ID, TokenTypeAdmin)
}

func (s *AuthService) generateToken(userID uuid.UUID, tokenType TokenType) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: tokenType,
		UserID:    userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
