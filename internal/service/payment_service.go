package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
	"payment-relay/internal/paystack"
)

// Gateway is the outbound processor API.
type Gateway interface {
	InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.Response, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Response, error)
	ListTransactions(ctx context.Context, page, perPage int) (*paystack.Response, error)
}

const (
	DefaultPage    = 1
	DefaultPerPage = 50
	MaxPerPage     = 100
)

type PaymentService struct {
	store           domain.Store
	gateway         Gateway
	defaultCurrency string
	logger          *slog.Logger
}

func NewPaymentService(store domain.Store, gateway Gateway, defaultCurrency string, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		store:           store,
		gateway:         gateway,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

type InitializeRequest struct {
	Email       string
	Amount      *decimal.Decimal
	Reference   string
	CallbackURL string
	Currency    string
	Metadata    json.RawMessage
	// Owner is the principal behind the API key that made the request.
	Owner string
}

// Initialize validates the request, forwards it to the processor and, once
// the processor confirms, records a pending transaction under the reference
// the processor returned. Processor failures are returned for relaying and
// leave no local row behind.
func (s *PaymentService) Initialize(ctx context.Context, req *InitializeRequest) (*paystack.Response, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, errors.Missing("email")
	}
	if req.Amount == nil {
		return nil, errors.Missing("amount")
	}
	if !req.Amount.IsPositive() || req.Amount.GreaterThanOrEqual(domain.MaxAmount) {
		return nil, errors.ErrInvalidAmount
	}
	minor, ok := paystack.MinorUnits(*req.Amount)
	if !ok {
		return nil, errors.ErrInvalidAmount
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return nil, errors.NewAppError(errors.InvalidInput, "currency must be a 3-letter code")
	}

	metadata := json.RawMessage(bytes.TrimSpace(req.Metadata))
	if string(metadata) == "null" || len(metadata) == 0 {
		metadata = nil
	}
	if metadata != nil && metadata[0] != '{' {
		return nil, errors.NewAppError(errors.InvalidInput, "metadata must be a JSON object")
	}

	s.logger.Info("Initializing payment",
		"reference", req.Reference,
		"amount", req.Amount.String(),
		"currency", currency,
		"owner", req.Owner)

	resp, err := s.gateway.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:       email,
		Amount:      minor,
		Reference:   strings.TrimSpace(req.Reference),
		CallbackURL: strings.TrimSpace(req.CallbackURL),
		Currency:    currency,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		s.logger.Warn("Processor rejected initialization",
			"reference", req.Reference, "status", resp.StatusCode, "message", resp.Message)
		return resp, nil
	}

	var data paystack.InitializeData
	if err := resp.DecodeData(&data); err != nil {
		s.logger.Warn("Could not decode initialize data", "error", err)
	}
	reference := data.Reference
	if reference == "" {
		reference = strings.TrimSpace(req.Reference)
	}
	if reference == "" {
		s.logger.Warn("Processor returned no reference; transaction will be created by webhook")
		return resp, nil
	}

	tx := &domain.Transaction{
		Reference: reference,
		Status:    domain.StatusPending,
		Amount:    *req.Amount,
		Currency:  currency,
		Email:     email,
		Owner:     req.Owner,
		Metadata:  metadata,
	}
	// The processor already holds the transaction, so a failed local insert is
	// logged rather than surfaced; the first webhook for it creates the row.
	if _, err := s.store.Transactions().CreatePending(ctx, tx); err != nil {
		s.logger.Error("Failed to record initialized transaction", "reference", reference, "error", err)
	}

	return resp, nil
}

// Verify asks the processor for the authoritative state of reference and
// mirrors its status locally. A missing local row is tolerated.
func (s *PaymentService) Verify(ctx context.Context, reference string) (*paystack.Response, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.Missing("reference")
	}

	resp, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, nil
	}

	var data paystack.VerifyData
	if err := resp.DecodeData(&data); err != nil {
		s.logger.Warn("Could not decode verify data", "reference", reference, "error", err)
		return resp, nil
	}

	status, ok := processorStatus(data.Status)
	if !ok {
		s.logger.Warn("Unmapped processor status, local row left as is",
			"reference", reference, "processor_status", data.Status)
		return resp, nil
	}

	updated, err := s.store.Transactions().UpdateStatus(ctx, reference, status)
	switch {
	case err != nil:
		s.logger.Error("Failed to mirror verified status", "reference", reference, "error", err)
	case !updated:
		s.logger.Info("Verified transaction has no local row", "reference", reference, "status", status)
	}

	return resp, nil
}

// List relays the processor's paginated transaction listing.
func (s *PaymentService) List(ctx context.Context, page, perPage int) (*paystack.Response, error) {
	if page < 1 {
		return nil, errors.NewAppError(errors.InvalidInput, "page must be a positive integer")
	}
	if perPage < 1 || perPage > MaxPerPage {
		return nil, errors.NewAppErrorf(errors.InvalidInput, "per_page must be between 1 and %d", MaxPerPage)
	}
	return s.gateway.ListTransactions(ctx, page, perPage)
}

// Get returns the locally stored transaction for reference.
func (s *PaymentService) Get(ctx context.Context, reference string) (*domain.Transaction, error) {
	tx, err := s.store.Transactions().GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.ErrNotFound
	}
	return tx, nil
}

// processorStatus maps the processor's verify status onto the local lifecycle.
func processorStatus(s string) (domain.Status, bool) {
	switch s {
	case "ongoing", "processing", "queued":
		return domain.StatusPending, true
	}
	return domain.ParseStatus(s)
}
