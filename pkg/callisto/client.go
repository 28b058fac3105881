// Package callisto provides a small Go SDK for the callisto-server HTTP API.
package callisto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the callisto-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for the given base URL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the server's JSON error envelope.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("callisto: encoding request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e apiError
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("callisto: %s %s: %s (HTTP %d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("callisto: %s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("callisto: decoding response: %w", err)
	}
	return nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("callisto: server reports status %q", resp.Status)
	}
	return nil
}

// ListRuns returns stored backtest runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	path := "/api/v1/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []RunSummary `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun returns the full result of a stored run.
func (c *Client) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var detail RunDetail
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// DeleteRun removes a stored run.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/runs/"+url.PathEscape(id), nil, nil)
}

// RunBacktest triggers a backtest over stored bars and waits for the result.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	var resp BacktestResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Strategies lists the registered strategy names.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var resp struct {
		Strategies []string `json:"strategies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// Symbols lists symbols with stored bars for a timeframe.
func (c *Client) Symbols(ctx context.Context, timeframe string) ([]string, error) {
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	path := "/api/v1/symbols?timeframe=" + url.QueryEscape(timeframe)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

// Bars returns up to limit of the most recent stored bars.
func (c *Client) Bars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Bars []Bar `json:"bars"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/bars?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bars, nil
}

// EngineStatus returns the live engine's status snapshot.
func (c *Client) EngineStatus(ctx context.Context) (*EngineStatus, error) {
	var resp EngineStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/engine/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EnginePositions returns the engine's open positions.
func (c *Client) EnginePositions(ctx context.Context) ([]Trade, error) {
	var resp struct {
		Positions []Trade `json:"positions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/engine/positions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

// PairParams returns one pair's parameter overrides.
func (c *Client) PairParams(ctx context.Context, pair string) (map[string]float64, error) {
	var resp struct {
		Params map[string]float64 `json:"params"`
	}
	path := "/api/v1/pairs/" + url.PathEscape(pair) + "/params"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Params, nil
}

// SetPairParam sets one parameter value on a pair.
func (c *Client) SetPairParam(ctx context.Context, pair, key string, value float64) error {
	path := "/api/v1/pairs/" + url.PathEscape(pair) + "/params"
	body := map[string]any{"key": key, "value": value}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// ValidateLicense checks a license key against the server.
func (c *Client) ValidateLicense(ctx context.Context, key, hardwareID string) (*LicenseValidation, error) {
	body := map[string]string{"key": key, "hardwareId": hardwareID}
	var resp LicenseValidation
	if err := c.do(ctx, http.MethodPost, "/api/v1/license/validate", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActivateLicense binds a license key to this machine.
func (c *Client) ActivateLicense(ctx context.Context, key, hardwareID string) error {
	body := map[string]string{"key": key, "hardwareId": hardwareID}
	return c.do(ctx, http.MethodPost, "/api/v1/license/activate", body, nil)
}
