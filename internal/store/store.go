// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/studiora/internal/domain"
)

// Repository defines the interface for persisting users, drafts and artifacts.
type Repository interface {
	// GetUser retrieves a user by ID. Returns nil, nil when no record exists.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// CreateUser inserts a user record. Returns false if the user already existed.
	CreateUser(ctx context.Context, user *domain.User) (bool, error)

	// UpdateLanguage sets the stored language tag for a user.
	UpdateLanguage(ctx context.Context, userID int64, lang domain.Language) error

	// SaveLastRequest stores the pending lesson draft. A nil request clears it.
	SaveLastRequest(ctx context.Context, userID int64, req *domain.LessonRequest) error

	// AddArtifact indexes a generated document for a user.
	AddArtifact(ctx context.Context, userID int64, artifact domain.Artifact) error

	// ListArtifacts returns every indexed document for a user, newest first.
	ListArtifacts(ctx context.Context, userID int64) ([]domain.Artifact, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
