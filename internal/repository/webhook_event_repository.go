package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
)

type webhookEventRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewWebhookEventRepository(db SQLExecutor, logger *slog.Logger) domain.WebhookEventRepository {
	return &webhookEventRepository{
		db:     db,
		logger: logger,
	}
}

func (r *webhookEventRepository) Record(ctx context.Context, event *domain.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	query := `
		INSERT INTO webhook_events (id, event, reference, signature, payload, outcome)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING received_at
	`

	err := r.db.QueryRowContext(ctx, query,
		event.ID,
		event.Event,
		event.Reference,
		event.Signature,
		string(event.Payload),
		event.Outcome,
	).Scan(&event.ReceivedAt)
	if err != nil {
		r.logger.Error("Failed to record webhook event",
			"event", event.Event, "reference", event.Reference, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to record webhook event").WithDetails(err.Error())
	}
	return nil
}

func (r *webhookEventRepository) ListByReference(ctx context.Context, reference string) ([]domain.WebhookEvent, error) {
	query := `
		SELECT id, event, reference, signature, payload, outcome, received_at
		FROM webhook_events WHERE reference = $1
		ORDER BY received_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, reference)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list webhook events").WithDetails(err.Error())
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var (
			ev      domain.WebhookEvent
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Event, &ev.Reference, &ev.Signature, &payload, &ev.Outcome, &ev.ReceivedAt); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan webhook event").WithDetails(err.Error())
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list webhook events").WithDetails(err.Error())
	}
	return events, nil
}
