package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/dandi/internal/config"
	"github.com/kiranshivaraju/dandi/internal/store"
	"github.com/kiranshivaraju/dandi/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a connected pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("dandi_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	// Running twice must be a no-op.
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:          connStr,
		MaxOpenConns: 20,
		MaxIdleConns: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newKey(name, keyType string, createdAt time.Time) *models.APIKey {
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		Type:      keyType,
		Secret:    "dandi-" + keyType + "-" + uuid.NewString(),
		Status:    models.KeyStatusActive,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := newKey("test-key", models.KeyTypeDevelopment, now)
	require.NoError(t, s.CreateAPIKey(ctx, key))

	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, "test-key", got.Name)
	assert.Equal(t, models.KeyTypeDevelopment, got.Type)
	assert.Equal(t, key.Secret, got.Secret)
	assert.Equal(t, int64(0), got.UsageCount)
	assert.Equal(t, models.KeyStatusActive, got.Status)
	assert.Nil(t, got.LastUsedAt)
	assert.True(t, now.Equal(got.CreatedAt))
}

func TestAPIKey_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetAPIKey(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_DuplicateSecret(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	first := newKey("first", models.KeyTypeProduction, now)
	require.NoError(t, s.CreateAPIKey(ctx, first))

	second := newKey("second", models.KeyTypeProduction, now)
	second.Secret = first.Secret
	err := s.CreateAPIKey(ctx, second)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestAPIKey_ListNewestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.NotNil(t, keys)
	assert.Empty(t, keys)

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, name := range []string{"oldest", "middle", "newest"} {
		k := newKey(name, models.KeyTypeDevelopment, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateAPIKey(ctx, k))
	}

	keys, err = s.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "newest", keys[0].Name)
	assert.Equal(t, "middle", keys[1].Name)
	assert.Equal(t, "oldest", keys[2].Name)
}

func TestAPIKey_UpdateName(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := newKey("before", models.KeyTypeDevelopment, time.Now().UTC())
	require.NoError(t, s.CreateAPIKey(ctx, key))

	got, err := s.UpdateAPIKeyName(ctx, key.ID, "after")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, key.Secret, got.Secret)
	assert.Equal(t, key.Type, got.Type)
	assert.Equal(t, models.KeyStatusActive, got.Status)

	_, err = s.UpdateAPIKeyName(ctx, uuid.New(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_UpdateStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := newKey("toggle", models.KeyTypeProduction, time.Now().UTC())
	require.NoError(t, s.CreateAPIKey(ctx, key))

	got, err := s.UpdateAPIKeyStatus(ctx, key.ID, models.KeyStatusInactive)
	require.NoError(t, err)
	assert.Equal(t, models.KeyStatusInactive, got.Status)

	// Same status again is a no-op success.
	got, err = s.UpdateAPIKeyStatus(ctx, key.ID, models.KeyStatusInactive)
	require.NoError(t, err)
	assert.Equal(t, models.KeyStatusInactive, got.Status)

	_, err = s.UpdateAPIKeyStatus(ctx, uuid.New(), models.KeyStatusActive)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := newKey("delete-me", models.KeyTypeDevelopment, time.Now().UTC())
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.DeleteAPIKey(ctx, key.ID))

	_, err := s.GetAPIKey(ctx, key.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteAPIKey(ctx, key.ID), store.ErrNotFound)

	_, err = s.ConsumeAPIKey(ctx, key.Secret)
	assert.ErrorIs(t, err, store.ErrNotFound)

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAPIKey_Consume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := newKey("consume", models.KeyTypeProduction, time.Now().UTC())
	require.NoError(t, s.CreateAPIKey(ctx, key))

	got, err := s.ConsumeAPIKey(ctx, key.Secret)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.NotNil(t, got.LastUsedAt)

	got, err = s.ConsumeAPIKey(ctx, key.Secret)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)
}

func TestAPIKey_ConsumeInactiveOrUnknown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := newKey("disabled", models.KeyTypeProduction, time.Now().UTC())
	require.NoError(t, s.CreateAPIKey(ctx, key))
	_, err := s.UpdateAPIKeyStatus(ctx, key.ID, models.KeyStatusInactive)
	require.NoError(t, err)

	_, err = s.ConsumeAPIKey(ctx, key.Secret)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.ConsumeAPIKey(ctx, "dandi-production-does-not-exist")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Rejected validations do not meter.
	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.UsageCount)
}

func TestAPIKey_ConsumeConcurrent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := newKey("concurrent", models.KeyTypeProduction, time.Now().UTC())
	require.NoError(t, s.CreateAPIKey(ctx, key))

	const k = 50
	var wg sync.WaitGroup
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeAPIKey(ctx, key.Secret)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(k), got.UsageCount)
}
