package paystack

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
)

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Event is one of ChargeSuccess, ChargeFailed or UnknownEvent.
type Event interface {
	Name() string
}

// Charge is the data object carried by charge events. Every field except
// Reference is optional; absent fields are nil and never overwrite stored values.
type Charge struct {
	ID        flexibleID       `json:"id"`
	Reference *string          `json:"reference"`
	Amount    *decimal.Decimal `json:"amount"`
	Currency  *string          `json:"currency"`
	Channel   *string          `json:"channel"`
	PaidAt    *string          `json:"paid_at"`
	PaidAtAlt *string          `json:"paidAt"`
	Customer  *struct {
		Email        *string `json:"email"`
		CustomerCode *string `json:"customer_code"`
	} `json:"customer"`
	Metadata json.RawMessage `json:"metadata"`
}

type ChargeSuccess struct{ Charge }

type ChargeFailed struct{ Charge }

// UnknownEvent is any event type this service does not reconcile.
type UnknownEvent struct {
	Type string
}

func (ChargeSuccess) Name() string  { return EventChargeSuccess }
func (ChargeFailed) Name() string   { return EventChargeFailed }
func (e UnknownEvent) Name() string { return e.Type }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEvent decodes a webhook body into a typed event. The envelope must
// carry a non-empty event name and a data object.
func ParseEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.ErrMalformedEvent.WithDetails("body is not valid JSON")
	}
	if env.Event == "" {
		return nil, errors.Missing("event")
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errors.Missing("data")
	}

	switch env.Event {
	case EventChargeSuccess, EventChargeFailed:
		var charge Charge
		if err := json.Unmarshal(data, &charge); err != nil {
			return nil, errors.ErrMalformedEvent.WithDetails(err.Error())
		}
		if env.Event == EventChargeSuccess {
			return ChargeSuccess{charge}, nil
		}
		return ChargeFailed{charge}, nil
	default:
		return UnknownEvent{Type: env.Event}, nil
	}
}

// Normalize turns an event into the reference and field set to upsert.
// A nil update means the event does not touch the store.
func Normalize(ev Event) (string, *domain.TransactionUpdate, error) {
	switch e := ev.(type) {
	case ChargeSuccess:
		ref, update, err := e.Charge.update(domain.StatusSuccess)
		if err != nil {
			return "", nil, err
		}
		update.PaidAt = e.paidAt()
		return ref, update, nil
	case ChargeFailed:
		return e.Charge.update(domain.StatusFailed)
	default:
		return "", nil, nil
	}
}

func (c Charge) update(status domain.Status) (string, *domain.TransactionUpdate, error) {
	if c.Reference == nil || strings.TrimSpace(*c.Reference) == "" {
		return "", nil, errors.Missing("data.reference")
	}

	u := &domain.TransactionUpdate{
		Status:  &status,
		Channel: c.Channel,
	}
	if c.Currency != nil && len(strings.TrimSpace(*c.Currency)) == 3 {
		currency := strings.ToUpper(strings.TrimSpace(*c.Currency))
		u.Currency = &currency
	}
	if c.Amount != nil {
		major := MajorUnits(*c.Amount)
		if major.IsNegative() || major.GreaterThanOrEqual(domain.MaxAmount) {
			return "", nil, errors.ErrMalformedEvent.WithDetails("data.amount is out of range")
		}
		u.Amount = &major
	}
	if c.Customer != nil {
		u.Email = c.Customer.Email
		u.CustomerCode = c.Customer.CustomerCode
	}
	if id := c.ID.String(); id != "" {
		u.ProcessorReference = &id
	}
	if m := bytes.TrimSpace(c.Metadata); len(m) > 0 && !bytes.Equal(m, []byte("null")) {
		u.Metadata = m
	}
	return strings.TrimSpace(*c.Reference), u, nil
}

func (c Charge) paidAt() *time.Time {
	raw := c.PaidAt
	if raw == nil {
		raw = c.PaidAtAlt
	}
	if raw == nil {
		return nil
	}
	t, err := ParseTimestamp(*raw)
	if err != nil {
		return nil
	}
	return t
}

// ParseTimestamp parses an ISO-8601 timestamp, treating a trailing Z as an
// explicit +00:00 offset. An empty string yields nil.
func ParseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// MajorUnits converts a minor-unit amount (kobo, pesewas) into major units.
func MajorUnits(minor decimal.Decimal) decimal.Decimal {
	return minor.Shift(-2)
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// MinorUnits converts a major-unit amount into whole minor units. ok is false
// when the amount has more precision than the currency allows or does not fit
// a non-negative int64.
func MinorUnits(major decimal.Decimal) (int64, bool) {
	minor := major.Shift(2)
	if !minor.IsInteger() || minor.IsNegative() || minor.GreaterThan(maxMinor) {
		return 0, false
	}
	return minor.IntPart(), true
}

// flexibleID accepts the processor's numeric id as a number or a string.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

func (f flexibleID) String() string { return string(f) }
