package handler

import (
	"encoding/json"
	"net/http"

	"payment-relay/internal/errors"
	"payment-relay/internal/paystack"
)

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")

	statusCode := appErr.HTTPStatus()
	errResponse := Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

// handleError writes err, hiding anything that is not an AppError behind a
// generic internal error.
func handleError(w http.ResponseWriter, err error) {
	if appErr, ok := errors.As(err); ok {
		writeError(w, appErr)
		return
	}
	writeError(w, errors.NewAppError(errors.InternalError, "an unexpected error occurred"))
}

// writeRelay passes a processor reply through untouched. A 2xx reply whose
// status flag is false is a processor-reported failure and goes out as 400.
func writeRelay(w http.ResponseWriter, resp *paystack.Response) {
	statusCode := resp.StatusCode
	if statusCode >= 200 && statusCode < 300 && !resp.Status {
		statusCode = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
		return
	}
	json.NewEncoder(w).Encode(resp)
}
