package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/schedule"
)

// Mirror keeps an external scheduler in sync with local schedule
// records. Sync is fire-and-forget: failures are logged by callers, not
// propagated to the mutation that triggered them.
type Mirror interface {
	CreateSchedule(ctx context.Context, s *model.Schedule) (string, error)
	UpdateSchedule(ctx context.Context, ref string, s *model.Schedule) error
	DeleteSchedule(ctx context.Context, ref string) error
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type httpMirror struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPMirror(cfg Config) Mirror {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpMirror{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

type schedulePayload struct {
	CronDefinition string `json:"cron_definition"`
	Enabled        bool   `json:"enabled"`
}

type scheduleResponse struct {
	ID string `json:"id"`
}

func (m *httpMirror) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal schedule payload: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Token "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call scheduler: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scheduler returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode scheduler response: %w", err)
		}
	}
	return nil
}

func (m *httpMirror) CreateSchedule(ctx context.Context, s *model.Schedule) (string, error) {
	payload := schedulePayload{
		CronDefinition: schedule.CronString(s),
		Enabled:        true,
	}
	var resp scheduleResponse
	if err := m.do(ctx, http.MethodPost, m.baseURL+"/schedules", payload, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (m *httpMirror) UpdateSchedule(ctx context.Context, ref string, s *model.Schedule) error {
	payload := schedulePayload{
		CronDefinition: schedule.CronString(s),
		Enabled:        true,
	}
	endpoint := fmt.Sprintf("%s/schedules/%s", m.baseURL, url.PathEscape(ref))
	return m.do(ctx, http.MethodPatch, endpoint, payload, nil)
}

func (m *httpMirror) DeleteSchedule(ctx context.Context, ref string) error {
	endpoint := fmt.Sprintf("%s/schedules/%s", m.baseURL, url.PathEscape(ref))
	return m.do(ctx, http.MethodDelete, endpoint, nil, nil)
}
