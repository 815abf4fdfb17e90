// Package upstream talks to the OpenRouter chat completions endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"claude-code-proxy/internal/translator"
)

const (
	contentTypeJSON = "application/json"
	refererHeader   = "https://your-site.com"
	titleHeader     = "Claude Code Proxy"

	requestTimeout  = 30 * time.Second
	dialTimeout     = 10 * time.Second
	keepAlive       = 30 * time.Second
	idleConnTimeout = 90 * time.Second

	maxErrorBodyBytes = 64 * 1024
)

// APIError is a non-2xx answer from OpenRouter. StatusCode is forwarded to
// the client unchanged.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("OpenRouter API returned status %d: %s", e.StatusCode, e.Message)
}

// Client issues chat completion calls against a single OpenRouter endpoint.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// New constructs a client for the given endpoint and bearer credential.
func New(endpoint, apiKey string) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("endpoint must not be empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key must not be empty")
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// The header timeout bounds time-to-first-byte; the overall request
		// deadline comes from the caller's context so that long streams are
		// not cut off mid-flight.
		ResponseHeaderTimeout: requestTimeout,
	}

	return &Client{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Transport: transport},
	}, nil
}

// Timeout returns the deadline to apply to non-streaming calls.
func (c *Client) Timeout() time.Duration {
	return requestTimeout
}

// ChatCompletion posts the translated request upstream. On 2xx the raw
// response is returned and the caller owns the body; for streaming that body
// is the live SSE stream. Non-2xx statuses are drained, parsed best-effort
// and returned as *APIError.
func (c *Client) ChatCompletion(ctx context.Context, req translator.ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct upstream request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("HTTP-Referer", refererHeader)
	httpReq.Header.Set("X-Title", titleHeader)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, parseAPIError(resp)
	}

	return resp, nil
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// parseAPIError extracts the upstream error message, falling back to the raw
// body text when it is not the expected JSON shape.
func parseAPIError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Type:       "api_error",
		Message:    "Unknown error",
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return apiErr
	}

	var parsed errorBody
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		if parsed.Error.Type != "" {
			apiErr.Type = parsed.Error.Type
		}
		return apiErr
	}

	if text := strings.TrimSpace(string(raw)); text != "" {
		apiErr.Message = text
	}
	return apiErr
}
