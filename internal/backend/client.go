// internal/backend/client.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/FairForge/cryptgate/internal/config"
	"github.com/FairForge/cryptgate/internal/metrics"
	"go.uber.org/zap"
)

// ErrBackendCall wraps every transport or HTTP-level failure against a
// CRUD API instance, timeouts included.
var ErrBackendCall = errors.New("backend call failed")

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Code)
}

func (e *StatusError) Unwrap() error { return ErrBackendCall }

// Envelope is the response body shared by the CRUD API and this gateway
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Record is the body written to POST /{resource_type}
type Record struct {
	EncryptedData string `json:"encrypted_data"`
	ResourceType  string `json:"resource_type"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// maxBodySize bounds how much of a backend response is read
const maxBodySize = 4 << 20

// Client speaks the CRUD API protocol. Every call is bounded by the
// target instance's Timeout.
type Client struct {
	http    *http.Client
	retry   *RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetryPolicy replaces the default retry policy
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithMetrics records backend call outcomes
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a CRUD API client
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry == nil {
		c.retry = NewRetryPolicy(logger)
	}
	return c
}

// Write stores ciphertext under resourceType and returns the id the
// backend assigned. An empty id with a nil error means the backend
// accepted the record without reporting one.
func (c *Client) Write(ctx context.Context, inst config.Instance, resourceType, encryptedData string) (string, error) {
	now := c.now().UTC().Format(time.RFC3339)
	body, err := json.Marshal(Record{
		EncryptedData: encryptedData,
		ResourceType:  resourceType,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	target := inst.URL + "/" + url.PathEscape(resourceType)

	var env *Envelope
	err = c.retry.Execute(ctx, inst.RetryCount, func() error {
		var callErr error
		env, callErr = c.do(ctx, inst, http.MethodPost, target, body)
		return callErr
	})
	c.metrics.RecordBackendCall("write", err == nil)
	if err != nil {
		return "", err
	}

	var data struct {
		ID json.RawMessage `json:"id"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.logger.Debug("backend data is not an object",
				zap.String("instance_id", inst.ID), zap.Error(err))
		}
	}
	return rawID(data.ID), nil
}

// Read fetches the stored ciphertext for a resource
func (c *Client) Read(ctx context.Context, inst config.Instance, resourceType, resourceID string) (string, error) {
	target := fmt.Sprintf("%s/%s/%s?select=encrypted_data",
		inst.URL, url.PathEscape(resourceType), url.PathEscape(resourceID))

	var env *Envelope
	err := c.retry.Execute(ctx, inst.RetryCount, func() error {
		var callErr error
		env, callErr = c.do(ctx, inst, http.MethodGet, target, nil)
		return callErr
	})
	c.metrics.RecordBackendCall("read", err == nil)
	if err != nil {
		return "", err
	}

	var data struct {
		EncryptedData string `json:"encrypted_data"`
	}
	if len(env.Data) == 0 {
		return "", fmt.Errorf("%w: response has no data", ErrBackendCall)
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("%w: decode data: %v", ErrBackendCall, err)
	}
	if data.EncryptedData == "" {
		return "", fmt.Errorf("%w: response has no encrypted_data", ErrBackendCall)
	}
	return data.EncryptedData, nil
}

// Probe checks GET /health. It returns nil only for a 2xx response whose
// body carries status "ok".
func (c *Client) Probe(ctx context.Context, inst config.Instance) error {
	ctx, cancel := withTimeout(ctx, inst.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.URL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendCall, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendCall, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}

	var health healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&health); err != nil {
		return fmt.Errorf("%w: decode health: %v", ErrBackendCall, err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("%w: health status %q", ErrBackendCall, health.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, inst config.Instance, method, target string, body []byte) (*Envelope, error) {
	ctx, cancel := withTimeout(ctx, inst.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendCall, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendCall, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBackendCall, err)
	}

	var env Envelope
	decodeErr := json.Unmarshal(payload, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: env.Message}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrBackendCall, decodeErr)
	}
	return &env, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// rawID accepts string or numeric ids
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
