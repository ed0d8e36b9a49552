package repository

import (
	"context"
	"errors"

	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CandidateRepository reads candidate identities created by registration intake.
type CandidateRepository struct {
	pool *pgxpool.Pool
}

// NewCandidateRepository creates a new CandidateRepository.
func NewCandidateRepository(pool *pgxpool.Pool) *CandidateRepository {
	return &CandidateRepository{pool: pool}
}

// GetByEmail retrieves a candidate by email. Returns (nil, nil) when absent.
func (r *CandidateRepository) GetByEmail(ctx context.Context, email string) (*model.Candidate, error) {
	c := &model.Candidate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, full_name, password_hash, created_at
		 FROM candidates WHERE email = $1`, email).
		Scan(&c.ID, &c.Email, &c.FullName, &c.PasswordHash, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
