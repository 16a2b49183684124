package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"payment-relay/internal/errors"
)

// Client is the outbound gateway to the Paystack transaction API. Processor
// responses are returned as-is so callers can relay them to their clients.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	logger    *slog.Logger
}

func NewClient(baseURL, secretKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Response is a processor reply. Body holds the untouched JSON document.
type Response struct {
	StatusCode int             `json:"-"`
	Body       json.RawMessage `json:"-"`
	Status     bool            `json:"status"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

// OK reports a processor-confirmed success.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.Status
}

// DecodeData unmarshals the data member into v.
func (r *Response) DecodeData(v interface{}) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	return json.Unmarshal(r.Data, v)
}

type InitializeRequest struct {
	Email       string          `json:"email"`
	Amount      int64           `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type InitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type VerifyData struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Currency  string `json:"currency"`
}

func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*Response, error) {
	return c.do(ctx, http.MethodPost, "/transaction/initialize", req)
}

func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Response, error) {
	return c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
}

func (c *Client) ListTransactions(ctx context.Context, page, perPage int) (*Response, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(perPage))
	return c.do(ctx, http.MethodGet, "/transaction?"+q.Encode(), nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to encode processor request").WithDetails(err.Error())
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to build processor request").WithDetails(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Processor request failed", "method", method, "path", path, "error", err)
		if isTimeout(err) {
			return nil, errors.ErrUpstreamTimeout.WithDetails(err.Error())
		}
		return nil, errors.ErrUpstream.WithDetails(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, errors.ErrUpstreamTimeout.WithDetails(err.Error())
		}
		return nil, errors.ErrUpstream.WithDetails(err.Error())
	}

	c.logger.Info("Processor request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	out := &Response{StatusCode: resp.StatusCode, Body: raw}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, errors.ErrUpstream.WithDetails(fmt.Sprintf("processor returned %d with a non-JSON body", resp.StatusCode))
	}
	return out, nil
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
