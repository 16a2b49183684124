package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// APIKey authorizes client-initiated endpoints. Only the SHA-256 hash of the
// secret is stored; Prefix is kept for display.
type APIKey struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Owner     string     `json:"owner"`
	Prefix    string     `json:"prefix"`
	KeyHash   string     `json:"-"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *APIKey) error
	// Authenticate resolves an active key by hash and records its use.
	Authenticate(ctx context.Context, keyHash string) (*APIKey, error)
	List(ctx context.Context) ([]APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}
