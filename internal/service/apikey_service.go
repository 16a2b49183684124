package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
)

const (
	apiKeyPrefix    = "pk_"
	apiKeyDisplayed = 12
)

type APIKeyService struct {
	store  domain.Store
	logger *slog.Logger
}

func NewAPIKeyService(store domain.Store, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{
		store:  store,
		logger: logger,
	}
}

// HashKey returns the stored form of a plaintext API key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Create issues a new key. The plaintext is returned once and never stored.
func (s *APIKeyService) Create(ctx context.Context, name, owner string) (string, *domain.APIKey, error) {
	name = strings.TrimSpace(name)
	owner = strings.TrimSpace(owner)
	if name == "" {
		return "", nil, errors.Missing("name")
	}
	if owner == "" {
		return "", nil, errors.Missing("owner")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, errors.NewAppError(errors.InternalError, "failed to generate API key").WithDetails(err.Error())
	}
	plaintext := apiKeyPrefix + hex.EncodeToString(secret)

	key := &domain.APIKey{
		ID:       uuid.New(),
		Name:     name,
		Owner:    owner,
		Prefix:   plaintext[:apiKeyDisplayed],
		KeyHash:  HashKey(plaintext),
		IsActive: true,
	}
	if err := s.store.APIKeys().Create(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// Authenticate resolves a presented key to its active record.
func (s *APIKeyService) Authenticate(ctx context.Context, plaintext string) (*domain.APIKey, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return nil, errors.ErrUnauthorized
	}
	return s.store.APIKeys().Authenticate(ctx, HashKey(plaintext))
}

func (s *APIKeyService) List(ctx context.Context) ([]domain.APIKey, error) {
	return s.store.APIKeys().List(ctx)
}

func (s *APIKeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	return s.store.APIKeys().Revoke(ctx, id)
}
