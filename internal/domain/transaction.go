package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MaxAmount is the exclusive upper bound, in major units, of a stored amount.
var MaxAmount = decimal.New(1, 10)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// ParseStatus maps a processor status string onto the local lifecycle.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusSuccess, StatusFailed, StatusAbandoned:
		return Status(s), true
	}
	return "", false
}

// CanTransition reports whether an asynchronous event may move a transaction
// from one status to another. A successful payment is terminal.
func CanTransition(from, to Status) bool {
	return from != StatusSuccess || to == StatusSuccess
}

type Transaction struct {
	Reference          string          `json:"reference"`
	Status             Status          `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Email              string          `json:"email"`
	Channel            string          `json:"channel"`
	CustomerCode       string          `json:"customer_code"`
	ProcessorReference string          `json:"processor_reference"`
	Owner              string          `json:"owner,omitempty"`
	PaidAt             *time.Time      `json:"paid_at"`
	Metadata           json.RawMessage `json:"metadata"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TransactionUpdate is a partial field set keyed by reference. Nil fields are
// left untouched on an existing row and take their column default on insert.
type TransactionUpdate struct {
	Status             *Status
	Amount             *decimal.Decimal
	Currency           *string
	Email              *string
	Channel            *string
	CustomerCode       *string
	ProcessorReference *string
	PaidAt             *time.Time
	Metadata           json.RawMessage
}

// Apply copies the set fields of u onto t.
func (u TransactionUpdate) Apply(t *Transaction) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Amount != nil {
		t.Amount = *u.Amount
	}
	if u.Currency != nil {
		t.Currency = *u.Currency
	}
	if u.Email != nil {
		t.Email = *u.Email
	}
	if u.Channel != nil {
		t.Channel = *u.Channel
	}
	if u.CustomerCode != nil {
		t.CustomerCode = *u.CustomerCode
	}
	if u.ProcessorReference != nil {
		t.ProcessorReference = *u.ProcessorReference
	}
	if u.PaidAt != nil {
		paidAt := *u.PaidAt
		t.PaidAt = &paidAt
	}
	if u.Metadata != nil {
		t.Metadata = append(json.RawMessage(nil), u.Metadata...)
	}
}

// UpsertResult describes what an upsert did to the row.
type UpsertResult struct {
	Transaction *Transaction
	Created     bool
	// Applied is false when the status transition rule kept the existing row.
	Applied bool
}

type TransactionRepository interface {
	// CreatePending inserts a pending row unless the reference already exists.
	CreatePending(ctx context.Context, tx *Transaction) (bool, error)
	Upsert(ctx context.Context, reference string, update TransactionUpdate) (*UpsertResult, error)
	// UpdateStatus is a no-op returning false when no row exists.
	UpdateStatus(ctx context.Context, reference string, status Status) (bool, error)
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
}
