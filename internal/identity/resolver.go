package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/driplabs/drip-api/internal/transport"
	"github.com/driplabs/drip-api/pkg/circuitbreaker"
)

// ErrNoAddress is returned when the identity store has no default
// address for a subscriber. A terminal per-subscriber condition, not a
// transient failure.
var ErrNoAddress = errors.New("identity has no default address")

// Resolver looks up a subscriber's default communication address in the
// external identity store.
type Resolver interface {
	GetDefaultAddress(ctx context.Context, identity string) (string, error)
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type httpResolver struct {
	baseURL string
	token   string
	client  *http.Client
	cb      *circuitbreaker.CircuitBreaker
}

func NewHTTPResolver(cfg Config) Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpResolver{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "identity-resolver",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
	}
}

type addressResponse struct {
	Address string `json:"address"`
}

func (r *httpResolver) GetDefaultAddress(ctx context.Context, identity string) (string, error) {
	endpoint := fmt.Sprintf("%s/identities/%s/address", r.baseURL, url.PathEscape(identity))

	var address string
	err := r.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		if r.token != "" {
			req.Header.Set("Authorization", "Token "+r.token)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to query identity store: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNoAddress
		case resp.StatusCode >= 400:
			// Typed so the pipeline retries 5xx and gives up on 4xx.
			return &transport.StatusError{Service: "identity store", StatusCode: resp.StatusCode}
		}

		var body addressResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode identity response: %w", err)
		}
		if body.Address == "" {
			return ErrNoAddress
		}
		address = body.Address
		return nil
	})
	if err != nil {
		return "", err
	}
	return address, nil
}
