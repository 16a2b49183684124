package handler

import (
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"

	"payment-relay/internal/errors"
	"payment-relay/internal/paystack"
	"payment-relay/internal/service"
)

type WebhookHandler struct {
	webhookService *service.WebhookService
	maxBodyBytes   int64
	logger         *slog.Logger
}

func NewWebhookHandler(webhookService *service.WebhookService, maxBodyBytes int64, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		maxBodyBytes:   maxBodyBytes,
		logger:         logger,
	}
}

// Receive handles a processor delivery. The body is read raw so the signature
// is checked against exactly the bytes that were sent.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, errors.ErrMalformedEvent.WithDetails("body exceeds size limit"))
			return
		}
		writeError(w, errors.NewAppError(errors.InvalidInput, "could not read request body").WithDetails(err.Error()))
		return
	}

	result, err := h.webhookService.Handle(r.Context(), body, r.Header.Get(paystack.SignatureHeader))
	if err != nil {
		if appErr, ok := errors.As(err); ok && appErr.HTTPStatus() < http.StatusInternalServerError {
			h.logger.Warn("Webhook rejected", "code", appErr.Code, "message", appErr.Message)
		}
		handleError(w, err)
		return
	}

	if result.Duplicate {
		w.Header().Set("X-Webhook-Duplicate", "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"success"}`))
}
