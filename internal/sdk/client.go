// Package sdk is the adapter around the vendor's tracking remote API.
// Raw vendor shapes never leave this package untyped: callers receive Item,
// RawUser and RawZone values and normalize them through internal/convert.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const ajaxPath = "/wialon/ajax.html"

// Config holds remote API client settings.
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// RawUser is the user object returned by token/login.
type RawUser struct {
	ID   int64  `json:"id"`
	Name string `json:"nm"`
}

// Client talks to the vendor remote API over HTTP and keeps the SDK-side
// state the browser library would hold: session id, current user, item cache.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter

	mu       sync.RWMutex
	baseURL  string
	sid      string
	user     *RawUser
	items    map[string]map[int64]Item
	attached map[string]bool
	ready    bool
}

// New creates a new remote API client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		items:      make(map[string]map[int64]Item),
		attached:   make(map[string]bool),
	}
}

// InitSession points the client at baseURL and drops any previous session.
func (c *Client) InitSession(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.sid = ""
	c.user = nil
	c.items = make(map[string]map[int64]Item)
}

// BaseURL returns the API base URL of the current session.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// CurrentUser returns the authenticated user, or nil.
func (c *Client) CurrentUser() *RawUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// LoginToken authenticates with an access token.
func (c *Client) LoginToken(ctx context.Context, token string) (RawUser, error) {
	var resp struct {
		SID  string  `json:"eid"`
		User RawUser `json:"user"`
	}
	if err := c.call(ctx, "token/login", map[string]any{"token": token, "fl": 1}, &resp); err != nil {
		return RawUser{}, err
	}

	c.mu.Lock()
	c.sid = resp.SID
	u := resp.User
	c.user = &u
	c.mu.Unlock()

	return resp.User, nil
}

// Logout terminates the remote session and clears the local one.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.call(ctx, "core/logout", map[string]any{}, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.sid = ""
	c.user = nil
	c.items = make(map[string]map[int64]Item)
	c.mu.Unlock()
	return nil
}

// call performs a single svc request. A non-zero "error" field in an object
// response becomes a *CodeError.
func (c *Client) call(ctx context.Context, svc string, params any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", svc, err)
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s: marshal params: %w", svc, err)
	}

	c.mu.RLock()
	base, sid := c.baseURL, c.sid
	c.mu.RUnlock()

	form := url.Values{}
	form.Set("svc", svc)
	form.Set("params", string(rawParams))
	if sid != "" {
		form.Set("sid", sid)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+ajaxPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", svc, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", svc, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: returned status %d", svc, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", svc, err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Error  *int   `json:"error"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Error != nil && *envelope.Error != 0 {
			return &CodeError{Svc: svc, Code: *envelope.Error, Reason: envelope.Reason}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", svc, err)
	}
	return nil
}
