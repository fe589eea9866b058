// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/camille/lib/secret"
)

// maxResponseSize bounds REST response bodies. The largest responses
// the bot reads are user pages of 200 records.
const maxResponseSize = 16 << 20

// Default client-side request budget. Mattermost's server-side limit
// defaults to 10 requests per second per user.
const (
	defaultRequestsPerSecond = 10
	defaultBurst             = 20
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// ServerURL is the base URL of the server, e.g.
	// "https://chat.example.org". Required.
	ServerURL string

	// Token is a personal access token or bot token. Required. The
	// client reads it but does not close it.
	Token *secret.Buffer

	// HTTPClient is used for REST requests. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client

	// RequestsPerSecond and Burst configure the client-side rate
	// limiter. Zero values select the defaults.
	RequestsPerSecond float64
	Burst             int

	// UserAgent is sent on REST requests and the websocket handshake.
	// Empty leaves Go's default.
	UserAgent string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client talks to one Mattermost server as one user.
type Client struct {
	baseURL    string
	token      *secret.Buffer
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	logger     *slog.Logger
}

// NewClient validates config and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("mattermost: ServerURL is required")
	}
	parsed, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("mattermost: invalid ServerURL %q: %w", config.ServerURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("mattermost: ServerURL %q must use http or https", config.ServerURL)
	}
	if config.Token == nil {
		return nil, fmt.Errorf("mattermost: Token is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	requestsPerSecond := config.RequestsPerSecond
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	burst := config.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		baseURL:    strings.TrimRight(config.ServerURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		userAgent:  config.UserAgent,
		logger:     logger,
	}, nil
}

// CloseIdleConnections drops pooled HTTP connections. The session
// calls it after the stream breaks so the next resync opens fresh
// sockets.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// getJSON performs a GET and decodes the response into result.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("mattermost: decoding response from GET %s: %w", path, err)
	}
	return nil
}

// doRequest sends one authenticated request to /api/v4 and returns the
// response body. Non-2xx responses become *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, requestBody any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("mattermost: rate limiter: %w", err)
	}

	requestURL := c.baseURL + "/api/v4" + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("mattermost: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("mattermost: creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.token.String())
	if c.userAgent != "" {
		request.Header.Set("User-Agent", c.userAgent)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("mattermost: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("mattermost: reading response from %s %s: %w", method, path, err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	apiErr := &APIError{}
	if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil || apiErr.ID == "" {
		apiErr = &APIError{ID: "unexpected_response", Message: strings.TrimSpace(string(responseBody))}
	}
	apiErr.StatusCode = response.StatusCode
	c.logger.Debug("mattermost request failed",
		"method", method,
		"path", path,
		"status", response.StatusCode,
		"error_id", apiErr.ID,
	)
	return nil, apiErr
}
