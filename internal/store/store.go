// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/interview-coach/internal/domain"
)

// ErrDuplicateEmail is returned by CreateUser when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// Repository defines the interface for persisting users, tokens and interviews.
type Repository interface {
	// CreateUser inserts a new user. Fails with ErrDuplicateEmail when the
	// email is already registered.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByEmail retrieves a user by email. Returns nil, nil when absent.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// CreateAuthToken stores an issued bearer token.
	CreateAuthToken(ctx context.Context, token *domain.AuthToken) error

	// ResolveAuthToken looks up a bearer token. Returns nil, nil when absent.
	ResolveAuthToken(ctx context.Context, token string) (*domain.AuthToken, error)

	// DeleteAuthToken revokes a bearer token.
	DeleteAuthToken(ctx context.Context, token string) error

	// DeleteExpiredAuthTokens removes tokens that expired before now.
	DeleteExpiredAuthTokens(ctx context.Context, now time.Time) (int64, error)

	// SaveInterview stores a finished interview.
	SaveInterview(ctx context.Context, iv *domain.Interview) error

	// ListInterviews returns a user's interviews, newest first.
	ListInterviews(ctx context.Context, userID string) ([]*domain.Interview, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
