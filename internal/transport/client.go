package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Payload is one outbound delivery handed to the external message
// sender.
type Payload struct {
	To       string                 `json:"to_addr"`
	Identity string                 `json:"to_identity"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Outbound is the sender's receipt for an accepted delivery.
type Outbound struct {
	ID string `json:"id"`
}

// Client dispatches outbound deliveries to the external message sender.
type Client interface {
	CreateOutbound(ctx context.Context, payload *Payload) (*Outbound, error)
}

// StatusError carries a non-2xx response from an upstream service.
// IsRetryable classifies it by status code regardless of which service
// produced it.
type StatusError struct {
	Service    string
	StatusCode int
}

func (e *StatusError) Error() string {
	service := e.Service
	if service == "" {
		service = "upstream"
	}
	return fmt.Sprintf("%s returned status %d", service, e.StatusCode)
}

// IsRetryable reports whether a dispatch error is worth retrying:
// connection errors, timeouts, and server-side failures. Client-side
// rejections are permanent.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RatePerSecond caps outbound dispatch; zero means unlimited.
	RatePerSecond float64
	RateBurst     int
}

type httpClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(cfg Config) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *httpClient) CreateOutbound(ctx context.Context, payload *Payload) (*Outbound, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbound payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/outbound", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch outbound: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Service: "message sender", StatusCode: resp.StatusCode}
	}

	var outbound Outbound
	if err := json.NewDecoder(resp.Body).Decode(&outbound); err != nil {
		return nil, fmt.Errorf("failed to decode outbound response: %w", err)
	}
	return &outbound, nil
}
