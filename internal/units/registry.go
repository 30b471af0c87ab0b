// Package units loads the fleet's units from the SDK item cache and keeps the
// last synced snapshot as normalized DTOs.
package units

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OCAP2/fleetlink/internal/convert"
	"github.com/OCAP2/fleetlink/internal/sdk"
	"github.com/OCAP2/fleetlink/internal/session"
	"github.com/OCAP2/fleetlink/pkg/core"
)

// Data flag groups requested for units.
const (
	FlagBase         uint64 = 0x00000001
	FlagImage        uint64 = 0x00000010
	FlagLastMessage  uint64 = 0x00000400
	FlagSensors      uint64 = 0x00001000
	FlagProfile      uint64 = 0x00800000
	FlagLastPosition uint64 = 0x00400000
)

// DefaultFlags is the field subset a live map needs.
const DefaultFlags = FlagBase | FlagImage | FlagSensors | FlagLastMessage | FlagLastPosition

// LoadError is a unit fetch failure reported by the remote API.
type LoadError struct {
	Code    int
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("unit load failed (code %d): %s", e.Code, e.Message)
}

// Session reports whether the registry may talk to the SDK.
type Session interface {
	Authenticated() bool
}

// SDK is the subset of the remote API the registry needs.
type SDK interface {
	UpdateDataFlags(ctx context.Context, spec sdk.FlagSpec) error
	Items(itemsType string) []sdk.Item
	BaseURL() string
	ErrorText(code int) string
}

// Registry holds the last loaded unit snapshot.
type Registry struct {
	session Session
	sdk     SDK
	flags   uint64
	logger  *slog.Logger

	mu       sync.RWMutex
	units    []core.Unit
	byID     map[int64]int
	loadedAt time.Time
}

// New creates a Registry. A zero flags value uses DefaultFlags.
func New(sess Session, api SDK, flags uint64, logger *slog.Logger) *Registry {
	if flags == 0 {
		flags = DefaultFlags
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		session: sess,
		sdk:     api,
		flags:   flags,
		logger:  logger,
		byID:    make(map[int64]int),
	}
}

// Flags returns the requested data flag mask.
func (r *Registry) Flags() uint64 {
	return r.flags
}

// Load requests the flagged fields for every unit and replaces the snapshot
// with the SDK's item cache.
func (r *Registry) Load(ctx context.Context) ([]core.Unit, error) {
	if !r.session.Authenticated() {
		return nil, session.ErrNotAuthenticated
	}

	start := time.Now()
	if err := r.sdk.UpdateDataFlags(ctx, sdk.TypeSpec(sdk.ItemsTypeUnit, r.flags)); err != nil {
		var codeErr *sdk.CodeError
		if errors.As(err, &codeErr) {
			return nil, &LoadError{Code: codeErr.Code, Message: r.sdk.ErrorText(codeErr.Code)}
		}
		return nil, fmt.Errorf("update data flags: %w", err)
	}

	items := r.sdk.Items(sdk.ItemsTypeUnit)
	base := r.sdk.BaseURL()
	loaded := make([]core.Unit, 0, len(items))
	byID := make(map[int64]int, len(items))
	for _, it := range items {
		u := convert.Unit(it, base)
		byID[u.ID] = len(loaded)
		loaded = append(loaded, u)
	}

	r.mu.Lock()
	r.units = loaded
	r.byID = byID
	r.loadedAt = time.Now()
	r.mu.Unlock()

	r.logger.Debug("Units loaded", "count", len(loaded), "duration", time.Since(start))
	return r.Units(), nil
}

// Unit returns a copy of the unit with id, or nil if it is not in the snapshot.
func (r *Registry) Unit(id int64) *core.Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil
	}
	u := r.units[idx]
	return &u
}

// Units returns a copy of the current snapshot.
func (r *Registry) Units() []core.Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Unit, len(r.units))
	copy(out, r.units)
	return out
}

// LoadedAt returns when the snapshot was last replaced.
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}
