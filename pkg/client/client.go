// Package client talks to the menurec HTTP API and implements the polling side of
// background generation: bounded poll sessions bound to cancellable view scopes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrCancelled means the owning scope was closed. It is never a user-visible failure.
	ErrCancelled = errors.New("request cancelled")

	// ErrGenerationInProgress is returned by Fetch when another server instance is computing the key
	ErrGenerationInProgress = errors.New("recommendation generation in progress")
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Status values reported by the status endpoint
const (
	StatusNone       = "none"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// StatusResponse is the answer of GET /api/recommend/status
type StatusResponse struct {
	Success      bool       `json:"success"`
	HasResult    bool       `json:"hasResult"`
	Status       string     `json:"status"`
	CreatedAt    *time.Time `json:"createdAt"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	ErrorMessage string     `json:"errorMessage"`
}

// TriggerResponse is the answer of POST /api/recommend/start
type TriggerResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Restaurant is the restaurant data joined onto a recommended item
type Restaurant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DeliveryTime int    `json:"deliveryTime"`
	DeliveryFee  int64  `json:"deliveryFee"`
}

// Item is one recommended menu item
type Item struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Category   string      `json:"category"`
	Price      int64       `json:"price"`
	Calories   int         `json:"calories"`
	Score      int         `json:"score"`
	Reasoning  string      `json:"reasoning"`
	Restaurant *Restaurant `json:"restaurant,omitempty"`
}

// FetchResponse is the answer of POST /api/recommend
type FetchResponse struct {
	Success        bool   `json:"success"`
	Data           []Item `json:"data"`
	FromCache      bool   `json:"fromCache"`
	CacheExpiresAt string `json:"cacheExpiresAt"`
}

// StatusChecker is what a PollSession polls
type StatusChecker interface {
	Status(ctx context.Context, userID, mode string) (*StatusResponse, error)
}

// HTTPClient calls the recommendation endpoints with per-call timeouts
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client

	StatusTimeout  time.Duration
	TriggerTimeout time.Duration
	FetchTimeout   time.Duration
}

// NewHTTPClient creates a client for baseURL. token may be empty when the server runs without auth.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		http:           &http.Client{},
		StatusTimeout:  800 * time.Millisecond,
		TriggerTimeout: 5 * time.Second,
		FetchTimeout:   75 * time.Second,
	}
}

type keyBody struct {
	UserID string `json:"userId"`
	Mode   string `json:"mode,omitempty"`
}

// Status reads the generation state of a key
func (c *HTTPClient) Status(ctx context.Context, userID, mode string) (*StatusResponse, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("mode", mode)

	var out StatusResponse
	if err := c.do(ctx, c.StatusTimeout, http.MethodGet, "/api/recommend/status?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trigger starts background generation and returns without waiting for it
func (c *HTTPClient) Trigger(ctx context.Context, userID, mode string) (*TriggerResponse, error) {
	var out TriggerResponse
	if err := c.do(ctx, c.TriggerTimeout, http.MethodPost, "/api/recommend/start", keyBody{userID, mode}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fetch returns the ranking, waiting for the computation when nothing is cached
func (c *HTTPClient) Fetch(ctx context.Context, userID, mode string) (*FetchResponse, error) {
	var out FetchResponse
	if err := c.do(ctx, c.FetchTimeout, http.MethodPost, "/api/recommend", keyBody{userID, mode}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, timeout time.Duration, method, path string, body, out interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The caller's context going away is cancellation; our own timeout is a failure
		if errors.Is(ctx.Err(), context.Canceled) {
			return ErrCancelled
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ErrCancelled
		}
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusAccepted && path == "/api/recommend" {
		return ErrGenerationInProgress
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
