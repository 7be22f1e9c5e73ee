package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

// UserRepository reads viewer accounts for entitlement checks
type UserRepository struct {
	db     querier
	logger *logging.Logger
}

// NewUserRepository creates a user repository
func NewUserRepository(db *DB, logger *logging.Logger) *UserRepository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &UserRepository{db: db.Pool, logger: logger}
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id int64) (*models.User, error) {
	start := time.Now()

	var u models.User
	err := r.db.QueryRow(ctx, `
		SELECT id, email, name, subscription_level, subscription_expires_at, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.SubscriptionLevel, &u.SubscriptionExpiresAt,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	err = notFound(err)
	observe(r.logger, "get_user", start, err)

	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &u, nil
}
