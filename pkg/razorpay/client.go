package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
)

const (
	defaultBaseURL        = "https://api.razorpay.com/v1"
	responseBodyReadLimit = 2048
	idempotencyHeader     = "X-Razorpay-Idempotency-Key"
	currencyINR           = "INR"
	defaultTimeout        = 10 * time.Second
)

var (
	errKeyIDRequired     = errors.New("razorpay key id is required")
	errKeySecretRequired = errors.New("razorpay key secret is required")
	errNotSent           = errors.New("request not sent")
)

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d: %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Description)
}

// Rejected reports whether err means the gateway definitely did not act on
// the request: it answered with a 4xx or the request never left the client.
// Transport failures, timeouts, 5xx answers and unreadable bodies are not
// rejections; the operation may have gone through.
func Rejected(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusBadRequest && statusErr.StatusCode < http.StatusInternalServerError
	}
	return errors.Is(err, errNotSent)
}

// Client calls the two gateway endpoints the settlement flow needs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	keyID      string
	keySecret  string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewClient(keyID, keySecret string, opts ...Option) (*Client, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, errKeyIDRequired
	}
	if strings.TrimSpace(keySecret) == "" {
		return nil, errKeySecretRequired
	}

	client := &Client{
		keyID:      keyID,
		keySecret:  keySecret,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// KeyID is returned to the browser so checkout can open against the right account.
func (c *Client) KeyID() string {
	return c.keyID
}

type CreateOrderRequest struct {
	AmountPaise int64
	Receipt     string
	Notes       map[string]string
}

type Order struct {
	ID          string `json:"id"`
	AmountPaise int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}

// CreateOrder registers a payment order for the given amount in INR paise.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "razorpay client not configured")
	}
	if req.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}

	body := map[string]any{
		"amount":   req.AmountPaise,
		"currency": currencyINR,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var order Order
	if err := c.post(ctx, "orders", "", body, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway returned order without id")
	}
	return &order, nil
}

type RefundRequest struct {
	PaymentID      string
	AmountPaise    int64
	IdempotencyKey string
	Notes          map[string]string
}

type Refund struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountPaise int64  `json:"amount"`
	Status      string `json:"status"`
}

// Refund issues a refund against a captured payment. The idempotency key is
// sent as a header and as the refund receipt. The gateway answers a repeated
// key with the refund it already made, so a caller that lost the response must
// retry with the key it used before, never a fresh one.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if c == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, errNotSent, "razorpay client not configured")
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, errNotSent, "payment id is required")
	}
	if req.AmountPaise <= 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, errNotSent, "refund amount must be positive")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, errNotSent, "idempotency key is required")
	}

	body := map[string]any{
		"amount":  req.AmountPaise,
		"speed":   "normal",
		"receipt": req.IdempotencyKey,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var refund Refund
	path := fmt.Sprintf("payments/%s/refund", url.PathEscape(paymentID))
	if err := c.post(ctx, path, req.IdempotencyKey, body, &refund); err != nil {
		return nil, err
	}
	if refund.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway returned refund without id")
	}
	return &refund, nil
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("%w: %w", errNotSent, err), "marshal gateway request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("%w: %w", errNotSent, err), "build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	if idempotencyKey != "" {
		httpReq.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			statusErr.Code = apiErr.Error.Code
			statusErr.Description = apiErr.Error.Description
		}
		return pkgerrors.Wrap(pkgerrors.CodeGateway, statusErr, "gateway request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode gateway response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
