package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
)

type apiKeyRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAPIKeyRepository(db SQLExecutor, logger *slog.Logger) domain.APIKeyRepository {
	return &apiKeyRepository{
		db:     db,
		logger: logger,
	}
}

func (r *apiKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	query := `
		INSERT INTO api_keys (id, name, owner, prefix, key_hash, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		key.ID,
		key.Name,
		key.Owner,
		key.Prefix,
		key.KeyHash,
		key.IsActive,
	).Scan(&key.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			r.logger.Warn("Duplicate API key hash", "key_id", key.ID)
			return errors.NewAppError(errors.InvalidInput, "API key already exists")
		}
		r.logger.Error("Failed to create API key", "key_id", key.ID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create API key").WithDetails(err.Error())
	}

	r.logger.Info("API key created", "key_id", key.ID, "prefix", key.Prefix, "owner", key.Owner)
	return nil
}

// Authenticate marks the key as used and returns it in the same statement.
func (r *apiKeyRepository) Authenticate(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	query := `
		UPDATE api_keys SET last_used = NOW()
		WHERE key_hash = $1 AND is_active
		RETURNING id, name, owner, prefix, key_hash, is_active, created_at, last_used
	`

	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyHash))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrUnauthorized
		}
		r.logger.Error("Failed to authenticate API key", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to authenticate API key").WithDetails(err.Error())
	}
	return key, nil
}

func (r *apiKeyRepository) List(ctx context.Context) ([]domain.APIKey, error) {
	query := `
		SELECT id, name, owner, prefix, key_hash, is_active, created_at, last_used
		FROM api_keys ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list API keys").WithDetails(err.Error())
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan API key").WithDetails(err.Error())
		}
		keys = append(keys, *key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list API keys").WithDetails(err.Error())
	}
	return keys, nil
}

func (r *apiKeyRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `UPDATE api_keys SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to revoke API key", "key_id", id, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to revoke API key").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		return errors.NewAppError(errors.NotFound, "API key not found")
	}

	r.logger.Info("API key revoked", "key_id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAPIKey(row rowScanner) (*domain.APIKey, error) {
	var (
		key      domain.APIKey
		lastUsed sql.NullTime
	)
	if err := row.Scan(
		&key.ID,
		&key.Name,
		&key.Owner,
		&key.Prefix,
		&key.KeyHash,
		&key.IsActive,
		&key.CreatedAt,
		&lastUsed,
	); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsed = &t
	}
	return &key, nil
}
