package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/dandi/internal/api/response"
	"github.com/kiranshivaraju/dandi/internal/registry"
	"github.com/kiranshivaraju/dandi/pkg/models"
)

const apiKeyHeader = "X-API-Key"

// KeyValidator checks a presented secret and meters one use of it.
type KeyValidator interface {
	ValidateKey(ctx context.Context, secret string) (*models.APIKey, error)
}

// Auth guards routes with a registry-issued API key.
type Auth struct {
	validator KeyValidator
}

// NewAuth creates a new Auth middleware.
func NewAuth(v KeyValidator) *Auth {
	return &Auth{validator: v}
}

// Authenticate reads the key from "Authorization: Bearer" or X-API-Key,
// validates it and stores the matched record in the request context.
// Every successful pass counts as one use of the key.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := extractKey(r)
		if secret == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_KEY", "Missing API key", nil)
			return
		}

		key, err := a.validator.ValidateKey(r.Context(), secret)
		if errors.Is(err, registry.ErrInvalidKey) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_KEY", "Invalid API key", nil)
			return
		}
		if err != nil {
			slog.Error("api key validation failed",
				"error", err,
				"request_id", middleware.GetReqID(r.Context()),
			)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(setAPIKey(r.Context(), key)))
	})
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeader))
}
