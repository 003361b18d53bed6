// Package marketplace provides the concrete usage submission
// collaborator: an HTTP client that posts consolidated usage events to
// a metered-billing endpoint. The metering engine only sees the
// ports.Submitter interface, so deployments can swap this for a queue
// or an SDK client without touching the engine.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

var _ ports.Submitter = (*Client)(nil)

const (
	defaultTimeout = 10 * time.Second

	// defaultRate paces submissions below typical marketplace metering
	// API limits.
	defaultRate  = rate.Limit(5)
	defaultBurst = 5
)

// Client submits usage events over HTTP. Requests are paced by a token
// bucket and bounded by a per-request timeout; a non-2xx response or a
// transport error signals failure, which leaves the event's bucket
// retryable in the engine. The client itself never retries.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures optional client behavior.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithAPIKey attaches a bearer token to every submission.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) { c.apiKey = apiKey }
}

// WithRateLimit overrides the submission pacing.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// NewClient creates a submitter posting to the given endpoint.
func NewClient(endpoint string, opts ...ClientOption) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("marketplace endpoint is required")
	}

	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(defaultRate, defaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit implements ports.Submitter. It waits for rate-limit
// permission, posts the event as JSON, and treats any non-2xx status
// as failure.
func (c *Client) Submit(ctx context.Context, event domain.UsageEvent) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding usage event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting usage event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("marketplace rejected usage event: status %d: %s", resp.StatusCode, body)
	}
	return nil
}
