// Package khalti is a minimal client for the Khalti ePayment v2 API.
package khalti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"esm/src/config"
	"esm/src/lib"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	initiatePath = "/epayment/initiate/"
	lookupPath   = "/epayment/lookup/"

	StatusCompleted = "Completed"
	StatusPending   = "Pending"
	StatusInitiated = "Initiated"
)

// InProgressStatuses are lookup statuses that may still turn into Completed.
var InProgressStatuses = []string{StatusPending, StatusInitiated}

var ErrMalformedResponse = errors.New("khalti: malformed response")

// APIError is returned for any non-2xx reply.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	if d := e.Detail(); d != "" {
		return fmt.Sprintf("khalti: status %d: %s", e.StatusCode, d)
	}
	return fmt.Sprintf("khalti: status %d", e.StatusCode)
}

// Detail extracts the human readable reason Khalti puts in error bodies.
func (e *APIError) Detail() string {
	if !gjson.ValidBytes(e.Body) {
		return strings.TrimSpace(string(e.Body))
	}
	for _, path := range []string{"detail", "error_key", "message"} {
		if v := gjson.GetBytes(e.Body, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// MalformedError is a 2xx reply that could not be used.
type MalformedError struct {
	StatusCode int
	Body       []byte
	Reason     string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedResponse.Error(), e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedResponse
}

// ResponseBody returns the upstream body carried by err, if any.
func ResponseBody(err error) []byte {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return malformed.Body
	}
	return nil
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return malformed.StatusCode
	}
	return 0
}

type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type InitiateRequest struct {
	ReturnURL         string       `json:"return_url"`
	WebsiteURL        string       `json:"website_url"`
	Amount            int64        `json:"amount"`
	PurchaseOrderID   string       `json:"purchase_order_id"`
	PurchaseOrderName string       `json:"purchase_order_name"`
	CustomerInfo      CustomerInfo `json:"customer_info"`
}

type InitiateResponse struct {
	Pidx       string
	PaymentURL string
	ExpiresAt  *time.Time
	Raw        []byte
}

type LookupResponse struct {
	Pidx          string
	Status        string
	TransactionID string
	TotalAmount   int64
	Fee           int64
	Refunded      bool
	Raw           []byte
}

func (r *LookupResponse) IsCompleted() bool {
	return r.Status == StatusCompleted
}

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	retries    int
	backoff    time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithSecretKey overrides the configured key, e.g. with one read from Secrets Manager.
func WithSecretKey(key string) Option {
	return func(cl *Client) {
		cl.secretKey = key
	}
}

func NewClient(cfg config.KhaltiConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultKhaltiTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
		retries:    max(cfg.LookupRetries, 0),
		backoff:    cfg.LookupBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate makes exactly one attempt; initiation is not safe to repeat.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	status, body, err := c.post(ctx, "initiate", initiatePath, req)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, &MalformedError{StatusCode: status, Body: body, Reason: "body is not JSON"}
	}
	res := gjson.GetManyBytes(body, "pidx", "payment_url", "expires_at")
	out := &InitiateResponse{
		Pidx:       res[0].String(),
		PaymentURL: res[1].String(),
		Raw:        body,
	}
	if out.Pidx == "" || out.PaymentURL == "" {
		return nil, &MalformedError{StatusCode: status, Body: body, Reason: "missing pidx or payment_url"}
	}
	if res[2].Exists() {
		if t, err := time.Parse(time.RFC3339Nano, res[2].String()); err == nil {
			out.ExpiresAt = &t
		}
	}
	return out, nil
}

// Lookup retries transport failures and 5xx replies with linear backoff.
func (c *Client) Lookup(ctx context.Context, pidx string) (*LookupResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Join(ctx.Err(), lastErr)
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
		res, err := c.lookupOnce(ctx, pidx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
		lib.WithComponent("khalti").Warn().Err(err).Str("pidx", pidx).Int("attempt", attempt+1).Msg("lookup failed")
	}
	return nil, lastErr
}

func (c *Client) lookupOnce(ctx context.Context, pidx string) (*LookupResponse, error) {
	status, body, err := c.post(ctx, "lookup", lookupPath, map[string]string{"pidx": pidx})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, &MalformedError{StatusCode: status, Body: body, Reason: "body is not JSON"}
	}
	res := gjson.GetManyBytes(body, "pidx", "status", "transaction_id", "total_amount", "fee", "refunded")
	if !res[1].Exists() {
		return nil, &MalformedError{StatusCode: status, Body: body, Reason: "missing status"}
	}
	return &LookupResponse{
		Pidx:          res[0].String(),
		Status:        res[1].String(),
		TransactionID: res[2].String(),
		TotalAmount:   res[3].Int(),
		Fee:           res[4].Int(),
		Refunded:      res[5].Bool(),
		Raw:           body,
	}, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, ErrMalformedResponse)
}

func (c *Client) post(ctx context.Context, op string, path string, payload any) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Key "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	lib.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, fmt.Errorf("khalti %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("khalti %s: reading body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, body, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp.StatusCode, body, nil
}
