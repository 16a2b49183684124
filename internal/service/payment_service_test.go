package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-relay/internal/domain"
	"payment-relay/internal/domain/domaintest"
	"payment-relay/internal/errors"
	"payment-relay/internal/paystack"
)

type fakeGateway struct {
	initialized []paystack.InitializeRequest
	verified    []string
	listed      [][2]int

	response *paystack.Response
	err      error
}

func (g *fakeGateway) InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.Response, error) {
	g.initialized = append(g.initialized, req)
	return g.response, g.err
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*paystack.Response, error) {
	g.verified = append(g.verified, reference)
	return g.response, g.err
}

func (g *fakeGateway) ListTransactions(ctx context.Context, page, perPage int) (*paystack.Response, error) {
	g.listed = append(g.listed, [2]int{page, perPage})
	return g.response, g.err
}

func processorReply(t *testing.T, statusCode int, status bool, message string, data interface{}) *paystack.Response {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{"status": status, "message": message, "data": data})
	require.NoError(t, err)
	return &paystack.Response{
		StatusCode: statusCode,
		Body:       body,
		Status:     status,
		Message:    message,
		Data:       raw,
	}
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestInitializeRecordsPendingTransaction(t *testing.T) {
	store := domaintest.NewStore()
	gateway := &fakeGateway{response: processorReply(t, http.StatusOK, true, "Authorization URL created", map[string]string{
		"authorization_url": "https://checkout.paystack.com/abc",
		"access_code":       "abc",
		"reference":         "ps-ref-1",
	})}
	svc := NewPaymentService(store, gateway, "GHS", discard)

	resp, err := svc.Initialize(t.Context(), &InitializeRequest{
		Email:    "ada@example.com",
		Amount:   amount("100.50"),
		Metadata: json.RawMessage(`{"order":42}`),
		Owner:    "shop",
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())

	require.Len(t, gateway.initialized, 1)
	sent := gateway.initialized[0]
	assert.Equal(t, int64(10050), sent.Amount)
	assert.Equal(t, "GHS", sent.Currency)
	assert.Equal(t, "ada@example.com", sent.Email)

	tx, ok := store.Get("ps-ref-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.True(t, decimal.RequireFromString("100.50").Equal(tx.Amount))
	assert.Equal(t, "GHS", tx.Currency)
	assert.Equal(t, "shop", tx.Owner)
	assert.JSONEq(t, `{"order":42}`, string(tx.Metadata))
}

func TestInitializeUsesClientReferenceAndCurrency(t *testing.T) {
	store := domaintest.NewStore()
	gateway := &fakeGateway{response: processorReply(t, http.StatusOK, true, "ok", map[string]string{
		"authorization_url": "https://checkout.paystack.com/xyz",
	})}
	svc := NewPaymentService(store, gateway, "GHS", discard)

	_, err := svc.Initialize(t.Context(), &InitializeRequest{
		Email:     "ada@example.com",
		Amount:    amount("7"),
		Reference: "order-7",
		Currency:  "ngn",
	})
	require.NoError(t, err)

	assert.Equal(t, "order-7", gateway.initialized[0].Reference)
	assert.Equal(t, "NGN", gateway.initialized[0].Currency)

	tx, ok := store.Get("order-7")
	require.True(t, ok)
	assert.Equal(t, "NGN", tx.Currency)
}

func TestInitializeValidation(t *testing.T) {
	tests := []struct {
		name string
		req  InitializeRequest
		code errors.ErrorCode
	}{
		{"missing email", InitializeRequest{Amount: amount("10")}, errors.MissingField},
		{"blank email", InitializeRequest{Email: "  ", Amount: amount("10")}, errors.MissingField},
		{"missing amount", InitializeRequest{Email: "a@b.co"}, errors.MissingField},
		{"zero amount", InitializeRequest{Email: "a@b.co", Amount: amount("0")}, errors.InvalidAmount},
		{"negative amount", InitializeRequest{Email: "a@b.co", Amount: amount("-5")}, errors.InvalidAmount},
		{"too precise", InitializeRequest{Email: "a@b.co", Amount: amount("1.005")}, errors.InvalidAmount},
		{"at storage limit", InitializeRequest{Email: "a@b.co", Amount: amount("10000000000")}, errors.InvalidAmount},
		{"overflows minor units", InitializeRequest{Email: "a@b.co", Amount: amount("184467440737095516.17")}, errors.InvalidAmount},
		{"bad currency", InitializeRequest{Email: "a@b.co", Amount: amount("1"), Currency: "CEDI"}, errors.InvalidInput},
		{"metadata not an object", InitializeRequest{Email: "a@b.co", Amount: amount("1"), Metadata: json.RawMessage(`[1,2]`)}, errors.InvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := domaintest.NewStore()
			gateway := &fakeGateway{}
			svc := NewPaymentService(store, gateway, "GHS", discard)

			_, err := svc.Initialize(t.Context(), &tt.req)
			require.Error(t, err)
			assertCode(t, err, tt.code)
			assert.Empty(t, gateway.initialized)
			assert.Equal(t, 0, store.Count())
		})
	}
}

func TestInitializeRelaysProcessorFailure(t *testing.T) {
	store := domaintest.NewStore()
	gateway := &fakeGateway{response: processorReply(t, http.StatusBadRequest, false, "Invalid Email Address Passed", nil)}
	svc := NewPaymentService(store, gateway, "GHS", discard)

	resp, err := svc.Initialize(t.Context(), &InitializeRequest{Email: "nope", Amount: amount("5"), Reference: "r"})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid Email Address Passed", resp.Message)
	assert.Equal(t, 0, store.Count())
}

func TestInitializeTransportFailure(t *testing.T) {
	store := domaintest.NewStore()
	gateway := &fakeGateway{err: errors.ErrUpstreamTimeout}
	svc := NewPaymentService(store, gateway, "GHS", discard)

	_, err := svc.Initialize(t.Context(), &InitializeRequest{Email: "a@b.co", Amount: amount("5"), Reference: "r"})
	assert.ErrorIs(t, err, errors.ErrUpstreamTimeout)
	assert.Equal(t, 0, store.Count())
}

func TestInitializeDoesNotDowngradeWebhookRow(t *testing.T) {
	store := domaintest.NewStore()
	success := domain.StatusSuccess
	_, err := store.Transactions().Upsert(t.Context(), "race-1", domain.TransactionUpdate{Status: &success})
	require.NoError(t, err)

	gateway := &fakeGateway{response: processorReply(t, http.StatusOK, true, "ok", map[string]string{"reference": "race-1"})}
	svc := NewPaymentService(store, gateway, "GHS", discard)

	_, err = svc.Initialize(t.Context(), &InitializeRequest{Email: "a@b.co", Amount: amount("5"), Reference: "race-1"})
	require.NoError(t, err)

	tx, _ := store.Get("race-1")
	assert.Equal(t, domain.StatusSuccess, tx.Status)
}

func TestVerifyMirrorsProcessorStatus(t *testing.T) {
	store := domaintest.NewStore()
	_, err := store.Transactions().CreatePending(t.Context(), &domain.Transaction{Reference: "v-1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	gateway := &fakeGateway{response: processorReply(t, http.StatusOK, true, "Verification successful", map[string]string{
		"status":    "abandoned",
		"reference": "v-1",
	})}
	svc := NewPaymentService(store, gateway, "GHS", discard)

	resp, err := svc.Verify(t.Context(), "v-1")
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, []string{"v-1"}, gateway.verified)

	tx, _ := store.Get("v-1")
	assert.Equal(t, domain.StatusAbandoned, tx.Status)
}

func TestVerifyToleratesMissingRow(t *testing.T) {
	store := domaintest.NewStore()
	gateway := &fakeGateway{response: processorReply(t, http.StatusOK, true, "ok", map[string]string{"status": "success"})}
	svc := NewPaymentService(store, gateway, "GHS", discard)

	resp, err := svc.Verify(t.Context(), "unknown")
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, 0, store.Count())
}

func TestVerifyProcessorFailureLeavesRow(t *testing.T) {
	store := domaintest.NewStore()
	_, err := store.Transactions().CreatePending(t.Context(), &domain.Transaction{Reference: "v-2"})
	require.NoError(t, err)

	gateway := &fakeGateway{response: processorReply(t, http.StatusNotFound, false, "Transaction reference not found", nil)}
	svc := NewPaymentService(store, gateway, "GHS", discard)

	resp, err := svc.Verify(t.Context(), "v-2")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	tx, _ := store.Get("v-2")
	assert.Equal(t, domain.StatusPending, tx.Status)
}

func TestProcessorStatus(t *testing.T) {
	for in, want := range map[string]domain.Status{
		"success":    domain.StatusSuccess,
		"failed":     domain.StatusFailed,
		"abandoned":  domain.StatusAbandoned,
		"ongoing":    domain.StatusPending,
		"processing": domain.StatusPending,
	} {
		got, ok := processorStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := processorStatus("reversed")
	assert.False(t, ok)
}

func TestListValidatesPagination(t *testing.T) {
	gateway := &fakeGateway{response: processorReply(t, http.StatusOK, true, "Transactions retrieved", []interface{}{})}
	svc := NewPaymentService(domaintest.NewStore(), gateway, "GHS", discard)

	_, err := svc.List(t.Context(), DefaultPage, DefaultPerPage)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 50}}, gateway.listed)

	_, err = svc.List(t.Context(), 0, 10)
	assertCode(t, err, errors.InvalidInput)

	_, err = svc.List(t.Context(), 1, MaxPerPage+1)
	assertCode(t, err, errors.InvalidInput)

	assert.Len(t, gateway.listed, 1)
}

func TestGetTransaction(t *testing.T) {
	store := domaintest.NewStore()
	_, err := store.Transactions().CreatePending(t.Context(), &domain.Transaction{Reference: "g-1", Email: "a@b.co"})
	require.NoError(t, err)
	svc := NewPaymentService(store, &fakeGateway{}, "GHS", discard)

	tx, err := svc.Get(t.Context(), "g-1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", tx.Email)

	_, err = svc.Get(t.Context(), "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
