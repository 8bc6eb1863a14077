package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/models"
)

// Client talks to the backend REST API. Unlike the streaming transports it
// can and does send the token as a bearer header.
type Client struct {
	cfg        *config.BackendConfig
	httpClient *http.Client
	log        *logrus.Entry
}

// NewClient creates a REST client for the configured backend.
func NewClient(cfg *config.BackendConfig, log *logrus.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = config.DefaultBaseURL
	}
	cfg.BaseURL = base
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.WithField("component", "api"),
	}
}

// apiError is the backend's REST error envelope.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var envelope apiError
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, envelope.Error)
		}
		return fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetJob fetches the authoritative state of one job, including the full
// result when the job has completed.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.request(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs fetches jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string, limit int) ([]models.Job, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Jobs []models.Job `json:"jobs"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v1/jobs", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// ListBacktests fetches the backtest history collection, optionally filtered
// by status.
func (c *Client) ListBacktests(ctx context.Context, status string, limit int) ([]models.Job, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Backtests []models.Job `json:"backtests"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v1/backtests", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Backtests, nil
}

// ListStrategies fetches the current strategy collection.
func (c *Client) ListStrategies(ctx context.Context) ([]models.Strategy, error) {
	var out struct {
		Strategies []models.Strategy `json:"strategies"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v1/strategies", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// CreateJob starts a new backtest run.
func (c *Client) CreateJob(ctx context.Context, req models.CreateJobRequest) (*models.Job, error) {
	var job models.Job
	if err := c.request(ctx, http.MethodPost, "/api/v1/jobs", nil, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob requests cancellation of a running job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, nil, nil)
}

// DeleteJob removes a job record.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/jobs/"+id, nil, nil, nil)
}

// GetHistoricalData fetches one interval's bars for a resource. Used by the
// polling fallback when live multi-interval streaming is unsupported
// server-side.
func (c *Client) GetHistoricalData(ctx context.Context, id, interval string, limit int, format string) (*models.HistoricalDataResponse, error) {
	query := url.Values{}
	if interval != "" {
		query.Set("interval", interval)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if format != "" {
		query.Set("format", format)
	}

	var out models.HistoricalDataResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/data/"+id, query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
