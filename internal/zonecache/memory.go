package zonecache

import (
	"context"
	"sync"
	"time"

	"github.com/OCAP2/fleetlink/pkg/core"
)

type memoryEntry struct {
	zones    []core.Zone
	cachedAt time.Time
}

// Memory is an in-process Store.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[int64]memoryEntry
}

// NewMemory creates an empty in-process cache. A zero ttl never expires.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]memoryEntry),
	}
}

func (m *Memory) Get(_ context.Context, resourceID int64) ([]core.Zone, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[resourceID]
	m.mu.RUnlock()
	if !ok || expired(e.cachedAt, m.ttl, m.now()) {
		return nil, false, nil
	}
	return cloneZones(e.zones), true, nil
}

func (m *Memory) Put(_ context.Context, resourceID int64, zones []core.Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[resourceID] = memoryEntry{zones: cloneZones(zones), cachedAt: m.now()}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, resourceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, resourceID)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[int64]memoryEntry)
	return nil
}
