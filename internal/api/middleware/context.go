package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/dandi/pkg/models"
)

type contextKey string

const apiKeyKey contextKey = "api_key"

func setAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyKey, key)
}

// GetAPIKey returns the key record attached by Auth.Authenticate.
func GetAPIKey(r *http.Request) (*models.APIKey, bool) {
	key, ok := r.Context().Value(apiKeyKey).(*models.APIKey)
	return key, ok && key != nil
}
