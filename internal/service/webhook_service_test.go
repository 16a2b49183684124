package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-relay/internal/domain"
	"payment-relay/internal/domain/domaintest"
	"payment-relay/internal/errors"
	"payment-relay/internal/paystack"
)

const testSecret = "sk_test_secret"

var discard = slog.New(slog.DiscardHandler)

type fakeTracker struct {
	mu     sync.Mutex
	marked map[string]bool
	err    error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{marked: make(map[string]bool)}
}

func (f *fakeTracker) Seen(ctx context.Context, signature string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.marked[signature], nil
}

func (f *fakeTracker) Mark(ctx context.Context, signature string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	first := !f.marked[signature]
	f.marked[signature] = true
	return first, nil
}

func chargeEvent(t *testing.T, event string, data map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	require.NoError(t, err)
	return body
}

func newWebhookService(store *domaintest.Store, tracker DeliveryTracker) (*WebhookService, *paystack.Verifier) {
	verifier := paystack.NewVerifier(testSecret)
	return NewWebhookService(store, verifier, tracker, discard), verifier
}

func assertCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	appErr, ok := errors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func TestWebhookChargeSuccessCreatesTransaction(t *testing.T) {
	store := domaintest.NewStore()
	svc, verifier := newWebhookService(store, nil)

	body := chargeEvent(t, "charge.success", map[string]interface{}{
		"id":        302961,
		"reference": "ref-1",
		"amount":    25000,
		"currency":  "NGN",
		"channel":   "card",
		"paid_at":   "2024-05-01T10:00:00.000Z",
		"customer": map[string]interface{}{
			"email":         "ada@example.com",
			"customer_code": "CUS_abc",
		},
	})

	result, err := svc.Handle(t.Context(), body, verifier.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, "ref-1", result.Reference)

	tx, ok := store.Get("ref-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusSuccess, tx.Status)
	assert.True(t, decimal.RequireFromString("250").Equal(tx.Amount))
	assert.Equal(t, "NGN", tx.Currency)
	assert.Equal(t, "card", tx.Channel)
	assert.Equal(t, "ada@example.com", tx.Email)
	assert.Equal(t, "CUS_abc", tx.CustomerCode)
	assert.Equal(t, "302961", tx.ProcessorReference)
	require.NotNil(t, tx.PaidAt)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), *tx.PaidAt)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "charge.success", events[0].Event)
	assert.Equal(t, domain.OutcomeApplied, events[0].Outcome)
}

func TestWebhookUpdatesPendingTransaction(t *testing.T) {
	store := domaintest.NewStore()
	_, err := store.Transactions().CreatePending(t.Context(), &domain.Transaction{
		Reference: "ref-2",
		Amount:    decimal.RequireFromString("10.50"),
		Currency:  "GHS",
		Email:     "kofi@example.com",
	})
	require.NoError(t, err)

	svc, verifier := newWebhookService(store, nil)
	body := chargeEvent(t, "charge.success", map[string]interface{}{
		"reference": "ref-2",
		"channel":   "mobile_money",
	})

	_, err = svc.Handle(t.Context(), body, verifier.Sign(body))
	require.NoError(t, err)

	tx, _ := store.Get("ref-2")
	assert.Equal(t, domain.StatusSuccess, tx.Status)
	assert.Equal(t, "mobile_money", tx.Channel)
	assert.Equal(t, "kofi@example.com", tx.Email)
	assert.True(t, decimal.RequireFromString("10.50").Equal(tx.Amount))
	assert.Nil(t, tx.PaidAt)
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	store := domaintest.NewStore()
	svc, verifier := newWebhookService(store, nil)

	body := chargeEvent(t, "charge.success", map[string]interface{}{
		"reference": "ref-3",
		"amount":    5000,
		"paid_at":   "2024-05-01T10:00:00Z",
	})
	sig := verifier.Sign(body)

	_, err := svc.Handle(t.Context(), body, sig)
	require.NoError(t, err)
	first, _ := store.Get("ref-3")

	_, err = svc.Handle(t.Context(), body, sig)
	require.NoError(t, err)
	second, _ := store.Get("ref-3")

	assert.Equal(t, 1, store.Count())
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, first.Amount.Equal(second.Amount))
	assert.Equal(t, first.PaidAt, second.PaidAt)
}

func TestWebhookFailedAfterSuccessIsStale(t *testing.T) {
	store := domaintest.NewStore()
	svc, verifier := newWebhookService(store, nil)

	success := chargeEvent(t, "charge.success", map[string]interface{}{"reference": "ref-4", "amount": 1000})
	_, err := svc.Handle(t.Context(), success, verifier.Sign(success))
	require.NoError(t, err)

	failed := chargeEvent(t, "charge.failed", map[string]interface{}{"reference": "ref-4", "amount": 999})
	result, err := svc.Handle(t.Context(), failed, verifier.Sign(failed))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStale, result.Outcome)

	tx, _ := store.Get("ref-4")
	assert.Equal(t, domain.StatusSuccess, tx.Status)
	assert.True(t, decimal.RequireFromString("10").Equal(tx.Amount))
}

func TestWebhookChargeFailed(t *testing.T) {
	store := domaintest.NewStore()
	svc, verifier := newWebhookService(store, nil)

	body := chargeEvent(t, "charge.failed", map[string]interface{}{"reference": "ref-5"})
	result, err := svc.Handle(t.Context(), body, verifier.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)

	tx, ok := store.Get("ref-5")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, tx.Status)
}

func TestWebhookUnknownEventIsAcknowledged(t *testing.T) {
	store := domaintest.NewStore()
	svc, verifier := newWebhookService(store, nil)

	body := chargeEvent(t, "transfer.success", map[string]interface{}{"reference": "ref-6"})
	result, err := svc.Handle(t.Context(), body, verifier.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, result.Outcome)
	assert.Equal(t, 0, store.Count())

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "transfer.success", events[0].Event)
}

func TestWebhookUnknownEventAcknowledgedWhenLogFails(t *testing.T) {
	store := domaintest.NewStore()
	store.FailRecord = stderrors.New("connection refused")
	tracker := newFakeTracker()
	svc, verifier := newWebhookService(store, tracker)

	body := chargeEvent(t, "subscription.create", map[string]interface{}{"reference": "ref-6b"})
	sig := verifier.Sign(body)

	result, err := svc.Handle(t.Context(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, result.Outcome)
	assert.Equal(t, "subscription.create", result.Event)
	assert.Equal(t, 0, store.Count())
	assert.Empty(t, store.Events())

	seen, _ := tracker.Seen(t.Context(), sig)
	assert.True(t, seen)
}

func TestWebhookRejections(t *testing.T) {
	valid := []byte(`{"event":"charge.success","data":{"reference":"ref-7"}}`)

	tests := []struct {
		name      string
		body      []byte
		signature func(v *paystack.Verifier, body []byte) string
		code      errors.ErrorCode
	}{
		{
			name:      "missing signature",
			body:      valid,
			signature: func(*paystack.Verifier, []byte) string { return "" },
			code:      errors.MissingSignature,
		},
		{
			name:      "wrong signature",
			body:      valid,
			signature: func(*paystack.Verifier, []byte) string { return "deadbeef" },
			code:      errors.InvalidSignature,
		},
		{
			name: "signature over different body",
			body: valid,
			signature: func(v *paystack.Verifier, _ []byte) string {
				return v.Sign([]byte(`{"event":"charge.success","data":{"reference":"other"}}`))
			},
			code: errors.InvalidSignature,
		},
		{
			name:      "invalid json",
			body:      []byte(`{"event":`),
			signature: func(v *paystack.Verifier, b []byte) string { return v.Sign(b) },
			code:      errors.MalformedEvent,
		},
		{
			name:      "missing reference",
			body:      []byte(`{"event":"charge.success","data":{"amount":100}}`),
			signature: func(v *paystack.Verifier, b []byte) string { return v.Sign(b) },
			code:      errors.MissingField,
		},
		{
			name:      "amount out of range",
			body:      []byte(`{"event":"charge.success","data":{"reference":"ref-7","amount":1000000000000}}`),
			signature: func(v *paystack.Verifier, b []byte) string { return v.Sign(b) },
			code:      errors.MalformedEvent,
		},
		{
			name:      "missing data",
			body:      []byte(`{"event":"charge.success"}`),
			signature: func(v *paystack.Verifier, b []byte) string { return v.Sign(b) },
			code:      errors.MissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := domaintest.NewStore()
			svc, verifier := newWebhookService(store, nil)

			_, err := svc.Handle(t.Context(), tt.body, tt.signature(verifier, tt.body))
			require.Error(t, err)
			assertCode(t, err, tt.code)
			assert.Equal(t, 0, store.Count())
			assert.Empty(t, store.Events())
		})
	}
}

func TestWebhookDuplicateDeliveryShortCircuits(t *testing.T) {
	store := domaintest.NewStore()
	tracker := newFakeTracker()
	svc, verifier := newWebhookService(store, tracker)

	body := chargeEvent(t, "charge.success", map[string]interface{}{"reference": "ref-8"})
	sig := verifier.Sign(body)

	result, err := svc.Handle(t.Context(), body, sig)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)

	result, err = svc.Handle(t.Context(), body, sig)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Len(t, store.Events(), 1)
}

func TestWebhookTrackerFailureDegrades(t *testing.T) {
	store := domaintest.NewStore()
	tracker := newFakeTracker()
	tracker.err = stderrors.New("connection refused")
	svc, verifier := newWebhookService(store, tracker)

	body := chargeEvent(t, "charge.success", map[string]interface{}{"reference": "ref-9"})
	result, err := svc.Handle(t.Context(), body, verifier.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)

	_, ok := store.Get("ref-9")
	assert.True(t, ok)
}

func TestWebhookStoreFailureRollsBack(t *testing.T) {
	store := domaintest.NewStore()
	store.FailRecord = stderrors.New("disk full")
	tracker := newFakeTracker()
	svc, verifier := newWebhookService(store, tracker)

	body := chargeEvent(t, "charge.success", map[string]interface{}{"reference": "ref-10"})
	sig := verifier.Sign(body)

	_, err := svc.Handle(t.Context(), body, sig)
	require.Error(t, err)
	assert.Equal(t, 0, store.Count())

	seen, _ := tracker.Seen(t.Context(), sig)
	assert.False(t, seen, "failed deliveries must stay eligible for retry")
}

func TestWebhookConcurrentDeliveriesForOneReference(t *testing.T) {
	store := domaintest.NewStore()
	svc, verifier := newWebhookService(store, nil)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := chargeEvent(t, "charge.success", map[string]interface{}{
				"reference": "ref-concurrent",
				"channel":   fmt.Sprintf("channel-%d", i),
			})
			_, err := svc.Handle(context.Background(), body, verifier.Sign(body))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, store.Count())
	assert.Len(t, store.Events(), workers)

	tx, _ := store.Get("ref-concurrent")
	assert.Equal(t, domain.StatusSuccess, tx.Status)
}
