package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://hst-api.example.com/wialon/js/wialon.js"

// fakeHost records attaches and blocks each one until release is closed.
type fakeHost struct {
	mu       sync.Mutex
	ready    bool
	attached map[string]int
	attaches atomic.Int32
	release  chan struct{}
	fail     error
}

func newFakeHost() *fakeHost {
	return &fakeHost{attached: make(map[string]int), release: make(chan struct{})}
}

func (h *fakeHost) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *fakeHost) Attached(url string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attached[url] > 0
}

func (h *fakeHost) Attach(ctx context.Context, url string) error {
	h.attaches.Add(1)
	h.mu.Lock()
	h.attached[url]++
	h.mu.Unlock()

	<-h.release

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		delete(h.attached, url)
		return h.fail
	}
	h.ready = true
	return nil
}

func (h *fakeHost) scriptCount(url string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attached[url]
}

func TestEnsureLoaded_ConcurrentCallersShareOneAttach(t *testing.T) {
	host := newFakeHost()
	l := New(host, testURL, 0, nil)

	const callers = 25
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.EnsureLoaded(context.Background())
		}()
	}

	// let every caller reach the shared call before the bootstrap completes
	require.Eventually(t, func() bool { return host.attaches.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(host.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), host.attaches.Load())
	assert.Equal(t, 1, host.scriptCount(testURL))
	assert.True(t, host.Ready())
}

func TestEnsureLoaded_AlreadyReady(t *testing.T) {
	host := newFakeHost()
	host.ready = true
	l := New(host, testURL, 0, nil)

	require.NoError(t, l.EnsureLoaded(context.Background()))
	assert.Equal(t, int32(0), host.attaches.Load())
}

func TestEnsureLoaded_AttachedElsewhere(t *testing.T) {
	host := newFakeHost()
	host.attached[testURL] = 1
	l := New(host, testURL, 0, nil)

	require.NoError(t, l.EnsureLoaded(context.Background()))
	assert.Equal(t, int32(0), host.attaches.Load())
	assert.Equal(t, 1, host.scriptCount(testURL))
}

func TestEnsureLoaded_FailureThenRetry(t *testing.T) {
	host := newFakeHost()
	host.fail = errors.New("connection refused")
	close(host.release)
	l := New(host, testURL, 0, nil)

	err := l.EnsureLoaded(context.Background())
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, testURL, loadErr.URL)
	assert.Contains(t, err.Error(), "connection refused")

	host.mu.Lock()
	host.fail = nil
	host.mu.Unlock()

	require.NoError(t, l.EnsureLoaded(context.Background()))
	assert.Equal(t, int32(2), host.attaches.Load())
	assert.Equal(t, 1, host.scriptCount(testURL))
}

func TestEnsureLoaded_Timeout(t *testing.T) {
	host := newFakeHost() // release never closed: bootstrap never completes
	l := New(host, testURL, 30*time.Millisecond, nil)

	err := l.EnsureLoaded(context.Background())
	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 30*time.Millisecond, timeoutErr.Timeout)
	close(host.release)
}

func TestEnsureLoaded_CallerContextCancelled(t *testing.T) {
	host := newFakeHost()
	l := New(host, testURL, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.EnsureLoaded(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// the shared bootstrap keeps running for other callers
	close(host.release)
	require.NoError(t, l.EnsureLoaded(context.Background()))
	assert.Equal(t, int32(1), host.attaches.Load())
}

func TestEnsureLoaded_TimeoutIsNotMaskedByAbandonedAttach(t *testing.T) {
	host := newFakeHost() // Attach ignores ctx and blocks until release
	l := New(host, testURL, 30*time.Millisecond, nil)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, l.EnsureLoaded(context.Background()), &timeoutErr)

	// the first attach is still running and marks the URL attached
	assert.True(t, host.Attached(testURL))
	require.ErrorAs(t, l.EnsureLoaded(context.Background()), &timeoutErr)
	assert.False(t, host.Ready())
	assert.Equal(t, int32(1), host.attaches.Load())

	close(host.release)
	require.NoError(t, l.EnsureLoaded(context.Background()))
	assert.True(t, host.Ready())
	assert.Equal(t, int32(1), host.attaches.Load())
}

func TestEnsureLoaded_AbandonedAttachFailureIsRetried(t *testing.T) {
	host := newFakeHost()
	host.fail = errors.New("connection refused")
	l := New(host, testURL, 30*time.Millisecond, nil)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, l.EnsureLoaded(context.Background()), &timeoutErr)

	close(host.release)
	var loadErr *LoadError
	require.ErrorAs(t, l.EnsureLoaded(context.Background()), &loadErr)

	host.mu.Lock()
	host.fail = nil
	host.mu.Unlock()
	require.NoError(t, l.EnsureLoaded(context.Background()))
	assert.Equal(t, int32(2), host.attaches.Load())
}
