package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/dandi/internal/api/middleware"
	"github.com/kiranshivaraju/dandi/internal/api/response"
	"github.com/kiranshivaraju/dandi/internal/registry"
	"github.com/kiranshivaraju/dandi/pkg/models"
)

// KeyRegistry defines the registry operations the handlers depend on.
type KeyRegistry interface {
	ListKeys(ctx context.Context) ([]*models.APIKey, error)
	GetKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	CreateKey(ctx context.Context, name, keyType string) (*models.APIKey, error)
	RenameKey(ctx context.Context, id uuid.UUID, newName string) (*models.APIKey, error)
	SetKeyStatus(ctx context.Context, id uuid.UUID, status string) (*models.APIKey, error)
	DeleteKey(ctx context.Context, id uuid.UUID) error
	ValidateKey(ctx context.Context, secret string) (*models.APIKey, error)
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/keys.
func NewListKeysHandler(reg KeyRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := reg.ListKeys(r.Context())
		if err != nil {
			writeRegistryError(w, r, err)
			return
		}
		response.JSON(w, keys)
	}
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/keys.
// The response is the only place the caller is guaranteed to see the secret.
func NewCreateKeyHandler(reg KeyRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
			Type string `json:"type"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		key, err := reg.CreateKey(r.Context(), req.Name, req.Type)
		if err != nil {
			writeRegistryError(w, r, err)
			return
		}
		response.Created(w, key)
	}
}

// NewGetKeyHandler returns an http.HandlerFunc for GET /api/v1/keys/{keyID}.
func NewGetKeyHandler(reg KeyRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseKeyID(w, r)
		if !ok {
			return
		}

		key, err := reg.GetKey(r.Context(), id)
		if err != nil {
			writeRegistryError(w, r, err)
			return
		}
		response.JSON(w, key)
	}
}

// NewRenameKeyHandler returns an http.HandlerFunc for PATCH /api/v1/keys/{keyID}.
func NewRenameKeyHandler(reg KeyRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseKeyID(w, r)
		if !ok {
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		key, err := reg.RenameKey(r.Context(), id, req.Name)
		if err != nil {
			writeRegistryError(w, r, err)
			return
		}
		response.JSON(w, key)
	}
}

// NewSetKeyStatusHandler returns an http.HandlerFunc for PUT /api/v1/keys/{keyID}/status.
func NewSetKeyStatusHandler(reg KeyRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseKeyID(w, r)
		if !ok {
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		key, err := reg.SetKeyStatus(r.Context(), id, req.Status)
		if err != nil {
			writeRegistryError(w, r, err)
			return
		}
		response.JSON(w, key)
	}
}

// NewDeleteKeyHandler returns an http.HandlerFunc for DELETE /api/v1/keys/{keyID}.
func NewDeleteKeyHandler(reg KeyRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseKeyID(w, r)
		if !ok {
			return
		}

		if err := reg.DeleteKey(r.Context(), id); err != nil {
			writeRegistryError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewValidateKeyHandler returns an http.HandlerFunc for POST /api/v1/validate.
func NewValidateKeyHandler(reg KeyRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Secret string `json:"secret"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		key, err := reg.ValidateKey(r.Context(), req.Secret)
		if err != nil {
			writeRegistryError(w, r, err)
			return
		}
		response.JSON(w, validateResponse{Valid: true, Key: key})
	}
}

// NewProtectedHandler returns an http.HandlerFunc for GET /api/v1/protected.
// It must run behind Auth.Authenticate.
func NewProtectedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := mw.GetAPIKey(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_KEY", "Missing API key", nil)
			return
		}
		response.JSON(w, protectedResponse{
			Message:    "API key accepted",
			KeyID:      key.ID,
			Name:       key.Name,
			Type:       key.Type,
			UsageCount: key.UsageCount,
		})
	}
}

type validateResponse struct {
	Valid bool           `json:"valid"`
	Key   *models.APIKey `json:"key"`
}

type protectedResponse struct {
	Message    string    `json:"message"`
	KeyID      uuid.UUID `json:"key_id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	UsageCount int64     `json:"usage_count"`
}

// maxBodyBytes caps request bodies; every payload here is a few short strings.
const maxBodyBytes = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE",
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit), nil)
			return false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

func parseKeyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_KEY_ID", "Invalid key ID format", nil)
		return uuid.Nil, false
	}
	return id, true
}

// writeRegistryError maps the registry error taxonomy onto HTTP responses.
// Storage causes are logged and never returned to the caller.
func writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *registry.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
			verr.Message, map[string]string{verr.Field: verr.Message})
	case errors.Is(err, registry.ErrNotFound):
		response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
	case errors.Is(err, registry.ErrInvalidKey):
		response.Error(w, http.StatusUnauthorized, "INVALID_KEY", "Invalid API key", nil)
	default:
		slog.Error("registry operation failed",
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
		)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
