package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	executor        SQLExecutor
	logger          *slog.Logger
	defaultCurrency string
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a new Store instance. defaultCurrency fills the currency
// column of rows created without one.
func NewStore(db *sql.DB, logger *slog.Logger, defaultCurrency string) *Store {
	return &Store{
		executor:        db,
		logger:          logger,
		defaultCurrency: defaultCurrency,
	}
}

// Transactions returns a TransactionRepository using the current executor
func (s *Store) Transactions() domain.TransactionRepository {
	return NewTransactionRepository(s.executor, s.logger, s.defaultCurrency)
}

// APIKeys returns an APIKeyRepository using the current executor
func (s *Store) APIKeys() domain.APIKeyRepository {
	return NewAPIKeyRepository(s.executor, s.logger)
}

// WebhookEvents returns a WebhookEventRepository using the current executor
func (s *Store) WebhookEvents() domain.WebhookEventRepository {
	return NewWebhookEventRepository(s.executor, s.logger)
}

// WithTransaction executes a function within a database transaction
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	// Only sql.DB can begin transactions
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return errors.NewAppError(errors.InternalError, "cannot begin a nested transaction")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to begin transaction").WithDetails(err.Error())
	}

	txStore := &Store{
		executor:        tx,
		logger:          s.logger,
		defaultCurrency: s.defaultCurrency,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewAppError(errors.InternalError, "failed to commit transaction").WithDetails(err.Error())
	}
	return nil
}
