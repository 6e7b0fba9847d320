// Package registry owns the API key lifecycle: issuing, listing, renaming,
// enabling/disabling, deleting and validate-and-meter.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dandi/internal/store"
	"github.com/kiranshivaraju/dandi/pkg/models"
)

const (
	maxNameLength         = 100
	defaultCreateAttempts = 3
)

// Registry is stateless between calls; all state lives in the store.
type Registry struct {
	store          store.Store
	generate       SecretGenerator
	createAttempts int
	now            func() time.Time
}

type Option func(*Registry)

func WithSecretGenerator(g SecretGenerator) Option {
	return func(r *Registry) {
		r.generate = g
	}
}

// WithCreateAttempts bounds how many secrets CreateKey tries before giving up
// on unique-constraint collisions.
func WithCreateAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.createAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a Registry backed by st.
func New(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:          st,
		generate:       NewSecretGenerator(DefaultKeyPrefix, DefaultSecretBytes),
		createAttempts: defaultCreateAttempts,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListKeys returns every key, newest first.
func (r *Registry) ListKeys(ctx context.Context) ([]*models.APIKey, error) {
	keys, err := r.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, storageError("list api keys", err)
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	return keys, nil
}

func (r *Registry) GetKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	key, err := r.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, mapStoreError("get api key", err)
	}
	return key, nil
}

// CreateKey issues a new active key. The returned record carries the
// plaintext secret.
func (r *Registry) CreateKey(ctx context.Context, name, keyType string) (*models.APIKey, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	if !models.ValidKeyType(keyType) {
		return nil, invalid("type", "type must be one of development, production")
	}

	for attempt := 1; attempt <= r.createAttempts; attempt++ {
		secret, err := r.generate(keyType)
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}

		now := r.now().UTC()
		key := &models.APIKey{
			ID:         uuid.New(),
			Name:       name,
			Type:       keyType,
			Secret:     secret,
			UsageCount: 0,
			Status:     models.KeyStatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err = r.store.CreateAPIKey(ctx, key)
		if err == nil {
			slog.Info("api key created",
				"key_id", key.ID,
				"type", key.Type,
				"secret", models.MaskSecret(key.Secret),
			)
			return key, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, storageError("create api key", err)
		}
		slog.Warn("api key collision, regenerating secret", "attempt", attempt)
	}

	return nil, fmt.Errorf("%w: no unique secret after %d attempts", ErrStorage, r.createAttempts)
}

// RenameKey changes only the name of an existing key.
func (r *Registry) RenameKey(ctx context.Context, id uuid.UUID, newName string) (*models.APIKey, error) {
	name, err := normalizeName(newName)
	if err != nil {
		return nil, err
	}

	key, err := r.store.UpdateAPIKeyName(ctx, id, name)
	if err != nil {
		return nil, mapStoreError("rename api key", err)
	}
	slog.Info("api key renamed", "key_id", id)
	return key, nil
}

// SetKeyStatus enables or disables a key. Setting the current status again
// succeeds without effect.
func (r *Registry) SetKeyStatus(ctx context.Context, id uuid.UUID, status string) (*models.APIKey, error) {
	if !models.ValidKeyStatus(status) {
		return nil, invalid("status", "status must be one of active, inactive")
	}

	key, err := r.store.UpdateAPIKeyStatus(ctx, id, status)
	if err != nil {
		return nil, mapStoreError("set api key status", err)
	}
	slog.Info("api key status changed", "key_id", id, "status", status)
	return key, nil
}

// DeleteKey permanently removes a key.
func (r *Registry) DeleteKey(ctx context.Context, id uuid.UUID) error {
	if err := r.store.DeleteAPIKey(ctx, id); err != nil {
		return mapStoreError("delete api key", err)
	}
	slog.Info("api key deleted", "key_id", id)
	return nil
}

// ValidateKey accepts an active key's secret and meters one use of it.
// Unknown and inactive secrets both yield ErrInvalidKey.
func (r *Registry) ValidateKey(ctx context.Context, secret string) (*models.APIKey, error) {
	if secret == "" {
		return nil, ErrInvalidKey
	}

	key, err := r.store.ConsumeAPIKey(ctx, secret)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, storageError("validate api key", err)
	}
	if !key.IsActive() {
		slog.Error("store returned inactive key from validation", "key_id", key.ID)
		return nil, ErrInvalidKey
	}
	slog.Debug("api key validated", "key_id", key.ID, "usage_count", key.UsageCount)
	return key, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", invalid("name", fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	return name, nil
}

func mapStoreError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return storageError(op, err)
}
