package sdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Ready reports whether the SDK bootstrap has completed.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Attached reports whether a bootstrap of url was already started.
func (c *Client) Attached(url string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attached[url]
}

// Attach fetches the SDK bootstrap at url and marks the SDK ready on success.
// A failed bootstrap is detached again so a later attempt can retry it.
func (c *Client) Attach(ctx context.Context, url string) error {
	c.mu.Lock()
	c.attached[url] = true
	c.mu.Unlock()

	if err := c.fetchBootstrap(ctx, url); err != nil {
		c.mu.Lock()
		delete(c.attached, url)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	return nil
}

func (c *Client) fetchBootstrap(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bootstrap request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bootstrap returned status %d", resp.StatusCode)
	}
	return nil
}
