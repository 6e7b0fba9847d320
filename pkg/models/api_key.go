// Package models contains shared data models used across the dandi codebase.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	KeyTypeDevelopment = "development"
	KeyTypeProduction  = "production"
)

const (
	KeyStatusActive   = "active"
	KeyStatusInactive = "inactive"
)

// APIKey is a registry record. The secret is returned in full so the listing
// surface can copy it; log lines must go through MaskSecret.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	Type       string     `db:"type"         json:"type"`
	Secret     string     `db:"secret"       json:"secret"`
	UsageCount int64      `db:"usage_count"  json:"usage_count"`
	Status     string     `db:"status"       json:"status"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// IsActive reports whether the key may pass validation.
func (k *APIKey) IsActive() bool {
	return k.Status == KeyStatusActive
}

func ValidKeyType(t string) bool {
	return t == KeyTypeDevelopment || t == KeyTypeProduction
}

func ValidKeyStatus(s string) bool {
	return s == KeyStatusActive || s == KeyStatusInactive
}

// MaskSecret keeps the leading prefix up to and including the last dash plus
// four characters, and replaces the rest with asterisks.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	visible := strings.LastIndex(secret, "-") + 1
	if visible+4 < len(secret) {
		visible += 4
	} else {
		visible = len(secret) / 2
	}
	return secret[:visible] + strings.Repeat("*", len(secret)-visible)
}
