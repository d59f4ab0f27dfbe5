// Package api is the HTTP client for the companion request/response
// endpoint. Every failure reaching callers is a uniform *Error, whatever
// layer produced it.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"picpic.sync/internal/core/circuitbreaker"
	"picpic.sync/internal/core/domain"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxTries = 3
)

// Error codes by failure family.
const (
	CodeAuthFailed  = "auth_failed"
	CodeServerError = "server_error"
	CodeClientError = "client_error"
	CodeNetwork     = "network_error"
	CodeUnavailable = "unavailable"
)

// Error is the uniform error shape returned to calling code.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Details)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Client talks to the companion endpoint with a bounded retry budget for
// server and network failures, and a circuit breaker around the whole call.
type Client struct {
	baseURL  string
	http     *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	maxTries uint
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: defaultTimeout},
		breaker:  circuitbreaker.New("companion-api"),
		maxTries: defaultMaxTries,
	}
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*domain.ServerHealth, error) {
	var out domain.ServerHealth
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tools fetches GET /tools, the server's capability listing.
func (c *Client) Tools(ctx context.Context) ([]domain.ToolInfo, error) {
	var out []domain.ToolInfo
	if err := c.getJSON(ctx, "/tools", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// getJSON performs one GET with the retry taxonomy: auth and other client
// errors fail immediately, server and network errors retry with exponential
// backoff up to the budget.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	call := func() error {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 200 * time.Millisecond
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, c.doOnce(ctx, path, out)
		}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxTries))
		return err
	}

	err := c.breaker.Execute(call)
	if err == circuitbreaker.ErrCircuitOpen {
		return &Error{
			Message: "companion endpoint unavailable",
			Code:    CodeUnavailable,
			Details: "circuit breaker open",
		}
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return backoff.Permanent(&Error{
			Message: "invalid request",
			Code:    CodeClientError,
			Details: err.Error(),
		})
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Network-level failures retry the same as 5xx.
		return &Error{
			Message: "request failed",
			Code:    CodeNetwork,
			Details: err.Error(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(&Error{
			Message: "authentication failed, re-login required",
			Code:    CodeAuthFailed,
			Details: string(body),
		})
	case resp.StatusCode >= 500:
		return &Error{
			Message: fmt.Sprintf("server error (%d)", resp.StatusCode),
			Code:    CodeServerError,
			Details: string(body),
		}
	case resp.StatusCode >= 400:
		return backoff.Permanent(&Error{
			Message: fmt.Sprintf("request rejected (%d)", resp.StatusCode),
			Code:    CodeClientError,
			Details: string(body),
		})
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(&Error{
				Message: "invalid response body",
				Code:    CodeClientError,
				Details: err.Error(),
			})
		}
	}
	return nil
}
