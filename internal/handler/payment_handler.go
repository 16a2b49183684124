package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"payment-relay/internal/errors"
	"payment-relay/internal/service"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

type InitializePaymentRequest struct {
	Email       string          `json:"email"`
	Amount      json.RawMessage `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// parseAmount accepts a JSON number or numeric string. Absent or null is nil.
func parseAmount(raw json.RawMessage) (*decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return nil, nil
	}
	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(raw); err != nil {
		return nil, errors.ErrInvalidAmount.WithDetails(err.Error())
	}
	return &amount, nil
}

func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		handleError(w, err)
		return
	}

	initReq := &service.InitializeRequest{
		Email:       req.Email,
		Amount:      amount,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Currency:    req.Currency,
		Metadata:    req.Metadata,
	}
	if key, ok := Principal(r.Context()); ok {
		initReq.Owner = key.Owner
	}

	resp, err := h.paymentService.Initialize(r.Context(), initReq)
	if err != nil {
		handleError(w, err)
		return
	}
	writeRelay(w, resp)
}

func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]

	resp, err := h.paymentService.Verify(r.Context(), reference)
	if err != nil {
		handleError(w, err)
		return
	}
	writeRelay(w, resp)
}

func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", service.DefaultPage)
	if err != nil {
		writeError(w, err)
		return
	}
	perPage, err := queryInt(r, "per_page", service.DefaultPerPage)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, svcErr := h.paymentService.List(r.Context(), page, perPage)
	if svcErr != nil {
		handleError(w, svcErr)
		return
	}
	writeRelay(w, resp)
}

// Get returns the locally stored copy of a transaction.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]

	tx, err := h.paymentService.Get(r.Context(), reference)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func queryInt(r *http.Request, name string, fallback int) (int, *errors.AppError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewAppErrorf(errors.InvalidInput, "%s must be an integer", name)
	}
	return n, nil
}
