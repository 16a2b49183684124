package service

import (
	"context"
	"log/slog"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
	"payment-relay/internal/paystack"
)

// SignatureVerifier authenticates a raw webhook body.
type SignatureVerifier interface {
	Verify(body []byte, signature string) bool
}

// DeliveryTracker remembers fully processed deliveries. It is optional.
type DeliveryTracker interface {
	Seen(ctx context.Context, signature string) (bool, error)
	Mark(ctx context.Context, signature string) (bool, error)
}

type WebhookService struct {
	store    domain.Store
	verifier SignatureVerifier
	tracker  DeliveryTracker
	logger   *slog.Logger
}

func NewWebhookService(store domain.Store, verifier SignatureVerifier, tracker DeliveryTracker, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		store:    store,
		verifier: verifier,
		tracker:  tracker,
		logger:   logger,
	}
}

// WebhookResult describes how a delivery was handled.
type WebhookResult struct {
	Event       string
	Reference   string
	Outcome     domain.WebhookOutcome
	Duplicate   bool
	Transaction *domain.Transaction
}

// Handle authenticates, parses and reconciles one delivery. Every rejection
// happens before the store is touched. An error means the delivery must not
// be acknowledged.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if signature == "" {
		return nil, errors.ErrMissingSignature
	}
	if !s.verifier.Verify(body, signature) {
		return nil, errors.ErrInvalidSignature
	}

	if s.tracker != nil {
		seen, err := s.tracker.Seen(ctx, signature)
		if err != nil {
			s.logger.Warn("Delivery tracker unavailable", "error", err)
		} else if seen {
			s.logger.Info("Duplicate webhook delivery acknowledged")
			return &WebhookResult{Duplicate: true}, nil
		}
	}

	event, err := paystack.ParseEvent(body)
	if err != nil {
		return nil, err
	}
	reference, update, err := paystack.Normalize(event)
	if err != nil {
		return nil, err
	}

	result := &WebhookResult{
		Event:     event.Name(),
		Reference: reference,
		Outcome:   domain.OutcomeIgnored,
	}

	if update == nil {
		// Events that carry no update are logged best-effort and always acknowledged.
		if err := recordEvent(ctx, s.store, result, body, signature); err != nil {
			s.logger.Warn("Failed to log ignored webhook event", "event", result.Event, "error", err)
		}
	} else {
		err = s.store.WithTransaction(ctx, func(store domain.Store) error {
			upserted, err := store.Transactions().Upsert(ctx, reference, *update)
			if err != nil {
				return err
			}
			result.Transaction = upserted.Transaction
			result.Outcome = domain.OutcomeApplied
			if !upserted.Applied {
				result.Outcome = domain.OutcomeStale
			}
			return recordEvent(ctx, store, result, body, signature)
		})
		if err != nil {
			s.logger.Error("Failed to reconcile webhook", "event", result.Event, "reference", reference, "error", err)
			return nil, err
		}
	}

	if s.tracker != nil {
		if _, err := s.tracker.Mark(ctx, signature); err != nil {
			s.logger.Warn("Failed to mark webhook delivery", "reference", reference, "error", err)
		}
	}

	s.logger.Info("Webhook processed", "event", result.Event, "reference", reference, "outcome", result.Outcome)
	return result, nil
}

func recordEvent(ctx context.Context, store domain.Store, result *WebhookResult, body []byte, signature string) error {
	return store.WebhookEvents().Record(ctx, &domain.WebhookEvent{
		Event:     result.Event,
		Reference: result.Reference,
		Signature: signature,
		Payload:   body,
		Outcome:   result.Outcome,
	})
}
