package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// ProductionBaseURL is the live aggregator endpoint.
	ProductionBaseURL = "https://api.aggregator.example.com"
	// SandboxBaseURL serves synthetic data for linked sandbox accounts.
	SandboxBaseURL = "https://sandbox.aggregator.example.com"

	defaultRequestsPerSecond = 10
	defaultHTTPTimeout       = 30 * time.Second
)

// HTTPClient talks JSON over HTTP to the aggregator. The same client serves
// production and sandbox; only the base URL differs.
type HTTPClient struct {
	baseURL  string
	clientID string
	secret   string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewHTTPClient creates a rate-limited aggregator client for the given base URL.
func NewHTTPClient(baseURL, clientID, secret string) *HTTPClient {
	return &HTTPClient{
		baseURL:  baseURL,
		clientID: clientID,
		secret:   secret,
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		limiter:  rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), 1),
	}
}

// Fetch implements Client.
func (c *HTTPClient) Fetch(ctx context.Context, accessToken string, req FetchRequest) (*Page, error) {
	body := map[string]interface{}{
		"access_token": accessToken,
	}
	if req.Cursor != "" {
		body["cursor"] = req.Cursor
	} else {
		body["start_date"] = req.Window.Start.Format("2006-01-02")
		body["end_date"] = req.Window.End.Format("2006-01-02")
	}

	var page Page
	if err := c.post(ctx, "/transactions/sync", body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetBalance implements Client.
func (c *HTTPClient) GetBalance(ctx context.Context, accessToken string) (*BalanceSnapshot, error) {
	body := map[string]interface{}{"access_token": accessToken}

	var snap BalanceSnapshot
	if err := c.post(ctx, "/accounts/balance/get", body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ExchangeToken implements Client.
func (c *HTTPClient) ExchangeToken(ctx context.Context, publicToken string) (string, error) {
	body := map[string]interface{}{"public_token": publicToken}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.post(ctx, "/item/public_token/exchange", body, &resp); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// post sends one authenticated JSON request and decodes the response,
// mapping HTTP failures onto the typed aggregator errors.
func (c *HTTPClient) post(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body["client_id"] = c.clientID
	body["secret"] = c.secret

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &FetchError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &FetchError{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("aggregator %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
