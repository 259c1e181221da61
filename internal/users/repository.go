package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/giftcard-ledger/pkg/database"
	"github.com/richxcame/giftcard-ledger/pkg/models"
)

const (
	lookupAttempts = 3
	lookupBackoff  = 50 * time.Millisecond
)

// Repository is the Postgres backed Directory
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new user repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// UserExists reports whether id is registered. Transient failures are retried.
func (r *Repository) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := database.WithRetry(ctx, lookupAttempts, lookupBackoff, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return exists, nil
}

// GetUser returns the user with id
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, handle, email, created_at
		FROM users
		WHERE id = $1
	`

	user := &models.User{}
	err := database.WithRetry(ctx, lookupAttempts, lookupBackoff, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Handle, &user.Email, &user.CreatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateUser inserts user, assigning an id when none is set
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	query := `
		INSERT INTO users (id, handle, email)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query, user.ID, user.Handle, strings.ToLower(user.Email)).Scan(&user.CreatedAt)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
