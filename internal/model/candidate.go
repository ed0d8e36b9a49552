package model

import (
	"time"

	"github.com/google/uuid"
)

// Candidate is an exam taker. Registration intake creates these rows; this
// service only reads them to resolve credentials into a user id.
type Candidate struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CandidateLoginRequest is the candidate login payload.
type CandidateLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}
