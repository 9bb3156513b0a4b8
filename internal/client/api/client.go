// Package api is a small HTTP client for the seat broker's buyer endpoints.
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
	"strings"
	"time"
)

// Recovery values mirror the server's error bodies.
const (
	RecoveryRetry          = "retry"
	RecoveryReload         = "reload"
	RecoveryContactSupport = "contact_support"
)

// Error is a non-2xx response from the broker.
type Error struct {
	Status     int    `json:"-"`
	Message    string `json:"error"`
	Kind       string `json:"kind"`
	Recovery   string `json:"recovery"`
	Locked     bool   `json:"locked"`
	LockReason string `json:"lock_reason"`
	WaitTime   int    `json:"wait_time"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker returned %d", e.Status)
	}
	return fmt.Sprintf("broker returned %d: %s", e.Status, e.Message)
}

// RateLimited reports whether the request may be repeated after WaitTime seconds.
func (e *Error) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

type IssueResult struct {
	Code           string `json:"code"`
	Attempt        int    `json:"attempt"`
	IsFinalAttempt bool   `json:"is_final_attempt"`
	ExpiresIn      int    `json:"expires_in"`
}

type ConfirmResult struct {
	Success           bool   `json:"success"`
	State             string `json:"state"`
	Locked            bool   `json:"locked"`
	LockReason        string `json:"lock_reason"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

type Status struct {
	State               string `json:"state"`
	AttemptCount        int    `json:"attempt_count"`
	AttemptsRemaining   int    `json:"attempts_remaining"`
	Locked              bool   `json:"locked"`
	LockReason          string `json:"lock_reason"`
	PendingConfirmation bool   `json:"pending_confirmation"`
	NextIssueIn         int    `json:"next_issue_in"`
	FavorableWindowIn   int    `json:"favorable_window_in"`
}

type Window struct {
	WaitSeconds int       `json:"wait_seconds"`
	ExpiresIn   int       `json:"expires_in"`
	ServerTime  time.Time `json:"server_time"`
}

type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		userAgent: "seatctl",
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) IssueCode(ctx context.Context, orderItemID string) (*IssueResult, error) {
	var out IssueResult
	err := c.do(ctx, http.MethodPost, "/v1/seats/"+url.PathEscape(orderItemID)+"/code", nil, &out)
	return &out, err
}

func (c *Client) Confirm(ctx context.Context, orderItemID string, success bool) (*ConfirmResult, error) {
	var out ConfirmResult
	body := map[string]bool{"success": success}
	err := c.do(ctx, http.MethodPost, "/v1/seats/"+url.PathEscape(orderItemID)+"/confirm", body, &out)
	return &out, err
}

func (c *Client) Status(ctx context.Context, orderItemID string) (*Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/v1/seats/"+url.PathEscape(orderItemID), nil, &out)
	return &out, err
}

func (c *Client) Window(ctx context.Context) (*Window, error) {
	var out Window
	err := c.do(ctx, http.MethodGet, "/v1/issuance-window", nil, &out)
	return &out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
		if apiErr.WaitTime == 0 {
			apiErr.WaitTime, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
