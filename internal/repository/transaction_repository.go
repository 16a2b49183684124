package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
)

const transactionColumns = `reference, status, amount, currency, email, channel, customer_code,
	processor_reference, owner, paid_at, metadata, created_at, updated_at`

type transactionRepository struct {
	db              SQLExecutor
	logger          *slog.Logger
	defaultCurrency string
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger, defaultCurrency string) domain.TransactionRepository {
	return &transactionRepository{
		db:              db,
		logger:          logger,
		defaultCurrency: defaultCurrency,
	}
}

func (r *transactionRepository) CreatePending(ctx context.Context, tx *domain.Transaction) (bool, error) {
	query := `
		INSERT INTO transactions (reference, status, amount, currency, email, owner, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (reference) DO NOTHING
	`

	currency := tx.Currency
	if currency == "" {
		currency = r.defaultCurrency
	}
	metadata := "{}"
	if len(tx.Metadata) > 0 {
		metadata = string(tx.Metadata)
	}

	result, err := r.db.ExecContext(ctx, query,
		tx.Reference,
		domain.StatusPending,
		tx.Amount.String(),
		currency,
		tx.Email,
		tx.Owner,
		metadata,
	)
	if err != nil {
		r.logger.Error("Failed to create transaction", "reference", tx.Reference, "error", err)
		return false, errors.NewAppError(errors.InternalError, "failed to create transaction").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("Transaction already exists, keeping stored row", "reference", tx.Reference)
		return false, nil
	}

	r.logger.Info("Transaction created", "reference", tx.Reference, "status", domain.StatusPending)
	return true, nil
}

// Upsert inserts or updates the row for reference in a single statement, so
// concurrent deliveries for one reference serialize on the row lock. Only the
// fields set in update are written to an existing row. A webhook may not move
// a successful transaction to another status; such updates are skipped.
func (r *transactionRepository) Upsert(ctx context.Context, reference string, update domain.TransactionUpdate) (*domain.UpsertResult, error) {
	status := domain.StatusPending
	if update.Status != nil {
		status = *update.Status
	}
	amount := decimal.Zero
	if update.Amount != nil {
		amount = *update.Amount
	}
	metadata := "{}"
	if update.Metadata != nil {
		metadata = string(update.Metadata)
	}
	var paidAt interface{}
	if update.PaidAt != nil {
		paidAt = *update.PaidAt
	}

	args := []interface{}{
		reference,
		status,
		amount.String(),
		valueOr(update.Currency, r.defaultCurrency),
		valueOr(update.Email, ""),
		valueOr(update.Channel, ""),
		valueOr(update.CustomerCode, ""),
		valueOr(update.ProcessorReference, ""),
		paidAt,
		metadata,
	}

	var columns []string
	for _, f := range []struct {
		column string
		isSet  bool
	}{
		{"status", update.Status != nil},
		{"amount", update.Amount != nil},
		{"currency", update.Currency != nil},
		{"email", update.Email != nil},
		{"channel", update.Channel != nil},
		{"customer_code", update.CustomerCode != nil},
		{"processor_reference", update.ProcessorReference != nil},
		{"paid_at", update.PaidAt != nil},
		{"metadata", update.Metadata != nil},
	} {
		if f.isSet {
			columns = append(columns, f.column)
		}
	}

	// updated_at only moves when a written column actually changes, so a
	// replayed delivery leaves the row unchanged.
	set := []string{"updated_at = transactions.updated_at"}
	if len(columns) > 0 {
		current := make([]string, len(columns))
		incoming := make([]string, len(columns))
		set = set[:0]
		for i, c := range columns {
			current[i] = "transactions." + c
			incoming[i] = "EXCLUDED." + c
			set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
		set = append(set, fmt.Sprintf(
			"updated_at = CASE WHEN ROW(%s) IS DISTINCT FROM ROW(%s) THEN NOW() ELSE transactions.updated_at END",
			strings.Join(current, ", "), strings.Join(incoming, ", ")))
	}

	where := ""
	if update.Status != nil {
		where = fmt.Sprintf("WHERE transactions.status <> '%s' OR EXCLUDED.status = '%s'",
			domain.StatusSuccess, domain.StatusSuccess)
	}

	query := fmt.Sprintf(`
		INSERT INTO transactions
		(reference, status, amount, currency, email, channel, customer_code, processor_reference, paid_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (reference) DO UPDATE SET %s
		%s
		RETURNING %s, (xmax = 0) AS inserted
	`, strings.Join(set, ", "), where, transactionColumns)

	var inserted bool
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, args...), &inserted)
	if stderrors.Is(err, sql.ErrNoRows) {
		// The transition rule rejected the update; report the row as stored.
		existing, getErr := r.GetByReference(ctx, reference)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, errors.NewAppError(errors.InternalError, "transaction vanished during upsert")
		}
		r.logger.Warn("Skipped status regression",
			"reference", reference, "stored_status", existing.Status, "incoming_status", status)
		return &domain.UpsertResult{Transaction: existing}, nil
	}
	if err != nil {
		r.logger.Error("Failed to upsert transaction", "reference", reference, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to upsert transaction").WithDetails(err.Error())
	}

	r.logger.Info("Transaction upserted", "reference", reference, "status", tx.Status, "created", inserted)
	return &domain.UpsertResult{Transaction: tx, Created: inserted, Applied: true}, nil
}

func (r *transactionRepository) UpdateStatus(ctx context.Context, reference string, status domain.Status) (bool, error) {
	query := `UPDATE transactions SET status = $1, updated_at = NOW() WHERE reference = $2`

	result, err := r.db.ExecContext(ctx, query, status, reference)
	if err != nil {
		r.logger.Error("Failed to update transaction status",
			"reference", reference, "status", status, "error", err)
		return false, errors.NewAppError(errors.InternalError, "failed to update transaction status").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		return false, nil
	}

	r.logger.Info("Transaction status updated", "reference", reference, "status", status)
	return true, nil
}

// GetByReference returns nil without error when no row exists.
func (r *transactionRepository) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, reference))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction", "reference", reference, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get transaction").WithDetails(err.Error())
	}
	return tx, nil
}

func scanTransaction(row *sql.Row, extra ...interface{}) (*domain.Transaction, error) {
	var (
		tx        domain.Transaction
		amountStr string
		paidAt    sql.NullTime
		metadata  []byte
	)

	dest := []interface{}{
		&tx.Reference,
		&tx.Status,
		&amountStr,
		&tx.Currency,
		&tx.Email,
		&tx.Channel,
		&tx.CustomerCode,
		&tx.ProcessorReference,
		&tx.Owner,
		&paidAt,
		&metadata,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amountStr, err)
	}
	tx.Amount = amount
	tx.Metadata = metadata

	if paidAt.Valid {
		t := paidAt.Time.UTC()
		tx.PaidAt = &t
	}
	return &tx, nil
}

func valueOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
