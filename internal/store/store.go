package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dandi/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	UpdateAPIKeyName(ctx context.Context, id uuid.UUID, name string) (*models.APIKey, error)
	UpdateAPIKeyStatus(ctx context.Context, id uuid.UUID, status string) (*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error

	// ConsumeAPIKey increments usage_count of the active key whose secret
	// matches exactly, in one statement, and returns the updated row.
	// Returns ErrNotFound when no active key matches.
	ConsumeAPIKey(ctx context.Context, secret string) (*models.APIKey, error)
}
