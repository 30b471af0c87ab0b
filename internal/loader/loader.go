// Package loader bootstraps the tracking SDK exactly once per host, however
// many goroutines ask for it concurrently.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Host is where the SDK gets attached. Attach performs the bootstrap for url.
type Host interface {
	Ready() bool
	Attached(url string) bool
	Attach(ctx context.Context, url string) error
}

// LoadError is returned when the SDK bootstrap fails.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("sdk load failed for %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// TimeoutError is returned when the bootstrap does not complete in time.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sdk load timed out after %s for %s", e.Timeout, e.URL)
}

// Loader owns the single in-flight bootstrap for a host.
type Loader struct {
	host    Host
	url     string
	timeout time.Duration
	logger  *slog.Logger

	group singleflight.Group

	mu sync.Mutex
	// pending is an attach this loader started whose outcome has not been
	// observed yet, typically one that outlived a timeout.
	pending chan error
}

// New creates a Loader. A zero timeout disables the bootstrap deadline.
func New(host Host, url string, timeout time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		host:    host,
		url:     url,
		timeout: timeout,
		logger:  logger,
	}
}

// EnsureLoaded returns once the SDK is usable. Concurrent callers share one
// bootstrap; ctx only bounds how long this caller waits for it. A failed or
// timed out bootstrap is retried by the next call.
func (l *Loader) EnsureLoaded(ctx context.Context) error {
	if l.host.Ready() {
		return nil
	}

	ch := l.group.DoChan(l.url, func() (any, error) {
		return nil, l.load()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load runs or resumes the bootstrap and waits for it up to the timeout.
func (l *Loader) load() error {
	l.mu.Lock()
	result := l.pending
	if result == nil {
		if l.host.Ready() {
			l.mu.Unlock()
			return nil
		}
		if l.host.Attached(l.url) {
			l.mu.Unlock()
			l.logger.Debug("SDK bootstrap already attached elsewhere", "url", l.url)
			return nil
		}
		result = make(chan error, 1)
		l.pending = result
		l.logger.Info("Loading SDK", "url", l.url)
		// Attach may ignore ctx; the deadline is enforced below regardless.
		go func() { result <- l.host.Attach(context.Background(), l.url) }()
	} else {
		l.logger.Debug("Waiting on earlier SDK bootstrap", "url", l.url)
	}
	l.mu.Unlock()

	var deadline <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	start := time.Now()
	select {
	case err := <-result:
		l.mu.Lock()
		l.pending = nil
		l.mu.Unlock()
		if err != nil {
			l.logger.Error("SDK load failed", "url", l.url, "error", err)
			return &LoadError{URL: l.url, Err: err}
		}
		l.logger.Info("SDK loaded", "url", l.url, "duration", time.Since(start))
		return nil
	case <-deadline:
		l.logger.Error("SDK load timed out", "url", l.url, "timeout", l.timeout)
		return &TimeoutError{URL: l.url, Timeout: l.timeout}
	}
}
