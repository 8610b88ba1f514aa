package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the Paydrift API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // X-Admin-Secret for the admin endpoints
}

// PaydriftClient is a pure HTTP client for the Paydrift API.
type PaydriftClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewPaydriftClient creates a new client for the Paydrift API.
func NewPaydriftClient(cfg Config) *PaydriftClient {
	return &PaydriftClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *PaydriftClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetSubscription fetches a tenant's subscription and state.
func (c *PaydriftClient) GetSubscription(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/tenants/"+url.PathEscape(tenantID)+"/subscription", nil, nil)
}

// ListPendingEvents lists pending events, optionally for one customer.
func (c *PaydriftClient) ListPendingEvents(ctx context.Context, customerID string) (json.RawMessage, error) {
	q := url.Values{}
	if customerID != "" {
		q.Set("customer", customerID)
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/admin/events", q, nil)
}

// TriggerReconciliation runs a pass for one customer.
func (c *PaydriftClient) TriggerReconciliation(ctx context.Context, customerID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/v1/admin/reconcile/"+url.PathEscape(customerID), nil, nil)
}

// ListPlans fetches the price catalog.
func (c *PaydriftClient) ListPlans(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/plans", nil, nil)
}
