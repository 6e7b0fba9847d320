// Package main is the entrypoint for the dandi API key registry server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/dandi/internal/api"
	"github.com/kiranshivaraju/dandi/internal/api/handler"
	mw "github.com/kiranshivaraju/dandi/internal/api/middleware"
	"github.com/kiranshivaraju/dandi/internal/api/response"
	"github.com/kiranshivaraju/dandi/internal/cache"
	"github.com/kiranshivaraju/dandi/internal/config"
	"github.com/kiranshivaraju/dandi/internal/registry"
	"github.com/kiranshivaraju/dandi/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "key_prefix", cfg.Registry.KeyPrefix)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied", "dir", cfg.Database.MigrationsDir)

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and registry
	pgStore := store.NewPostgresStore(pool)
	reg := registry.New(pgStore,
		registry.WithSecretGenerator(registry.NewSecretGenerator(cfg.Registry.KeyPrefix, cfg.Registry.SecretBytes)),
		registry.WithCreateAttempts(cfg.Registry.CreateAttempts),
	)

	// 6. Build router with dependencies
	deps := newDependencies(reg, pgStore, redisCache, cfg.Registry.ValidateRateLimit)
	deps.TrustedProxies = cfg.Server.TrustedProxies
	if len(deps.TrustedProxies) > 0 {
		slog.Info("forwarded client addresses trusted", "proxies", len(deps.TrustedProxies))
	}
	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newDependencies wires every route to the registry.
func newDependencies(reg handler.KeyRegistry, s store.Store, c cache.Cache, validateLimit int) api.Dependencies {
	return api.Dependencies{
		Auth:      mw.NewAuth(reg),
		RateLimit: mw.NewRateLimit(c, validateLimit, "validate"),

		HealthHandler:       healthHandler(s, c),
		ListKeysHandler:     handler.NewListKeysHandler(reg),
		CreateKeyHandler:    handler.NewCreateKeyHandler(reg),
		GetKeyHandler:       handler.NewGetKeyHandler(reg),
		RenameKeyHandler:    handler.NewRenameKeyHandler(reg),
		SetKeyStatusHandler: handler.NewSetKeyStatusHandler(reg),
		DeleteKeyHandler:    handler.NewDeleteKeyHandler(reg),
		ValidateKeyHandler:  handler.NewValidateKeyHandler(reg),
		ProtectedHandler:    handler.NewProtectedHandler(),
	}
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
