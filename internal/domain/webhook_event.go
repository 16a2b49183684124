package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookOutcome string

const (
	OutcomeApplied WebhookOutcome = "applied"
	OutcomeIgnored WebhookOutcome = "ignored"
	OutcomeStale   WebhookOutcome = "stale"
)

// WebhookEvent is the audit record of one verified delivery.
type WebhookEvent struct {
	ID         uuid.UUID       `json:"id"`
	Event      string          `json:"event"`
	Reference  string          `json:"reference,omitempty"`
	Signature  string          `json:"signature"`
	Payload    json.RawMessage `json:"payload"`
	Outcome    WebhookOutcome  `json:"outcome"`
	ReceivedAt time.Time       `json:"received_at"`
}

type WebhookEventRepository interface {
	Record(ctx context.Context, event *WebhookEvent) error
	ListByReference(ctx context.Context, reference string) ([]WebhookEvent, error)
}

// Store groups the repositories behind a single unit of work.
type Store interface {
	Transactions() TransactionRepository
	APIKeys() APIKeyRepository
	WebhookEvents() WebhookEventRepository
	WithTransaction(ctx context.Context, fn func(Store) error) error
}
