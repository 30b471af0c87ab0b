// Package mapsync reconciles the unit snapshot with the markers on a map
// surface.
package mapsync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/fleetlink/internal/geo"
	"github.com/OCAP2/fleetlink/internal/mapsurface"
	"github.com/OCAP2/fleetlink/pkg/core"
)

// SyncStats summarizes one reconciliation pass.
type SyncStats struct {
	Created      int
	Moved        int
	IconsChanged int
	Removed      int
	Skipped      int
	Stale        int
	Duration     time.Duration
}

// Changed reports whether the pass touched the surface.
func (s SyncStats) Changed() bool {
	return s.Created+s.Moved+s.IconsChanged+s.Removed > 0
}

type tracked struct {
	handle mapsurface.Marker
	lat    float64
	lng    float64
	icon   string
	fixAt  time.Time
}

// Engine owns the unit markers on a surface. Markers are keyed by unit id.
type Engine struct {
	surface  mapsurface.Surface
	onSelect func(int64)
	logger   *slog.Logger

	mu          sync.Mutex
	markers     map[int64]*tracked
	selected    int64
	hasSelected bool
	last        SyncStats

	// OTEL metrics
	ops     metric.Int64Counter
	skipped metric.Int64Counter
}

// New creates an Engine drawing on surface. onSelect, if set, receives the
// unit id of a clicked marker.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(surface mapsurface.Surface, onSelect func(int64), logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		surface:  surface,
		onSelect: onSelect,
		logger:   logger,
		markers:  make(map[int64]*tracked),
	}

	m := meter()
	var err error
	e.ops, err = m.Int64Counter("mapsync.marker_ops",
		metric.WithDescription("Marker operations applied to the map surface"),
	)
	if err != nil {
		return nil, fmt.Errorf("create marker_ops counter: %w", err)
	}
	e.skipped, err = m.Int64Counter("mapsync.units_skipped",
		metric.WithDescription("Units skipped because of malformed or stale positions"),
	)
	if err != nil {
		return nil, fmt.Errorf("create units_skipped counter: %w", err)
	}
	return e, nil
}

// Sync reconciles the markers with units. Units without a position lose
// their marker. A unit with a non-finite position is skipped and keeps
// whatever marker it already has. A fix older than the one already shown is
// ignored.
func (e *Engine) Sync(units []core.Unit) SyncStats {
	start := time.Now()
	var stats SyncStats

	e.mu.Lock()
	keep := make(map[int64]struct{}, len(units))
	for _, u := range units {
		if u.Position == nil {
			continue
		}
		p := u.Position
		existing, ok := e.markers[u.ID]

		if !geo.ValidLatLng(p.Lat, p.Lng) {
			e.logger.Warn("Skipping unit with malformed position",
				"unitId", u.ID, "name", u.Name, "lat", p.Lat, "lng", p.Lng)
			stats.Skipped++
			if ok {
				keep[u.ID] = struct{}{}
			}
			continue
		}
		keep[u.ID] = struct{}{}

		if !ok {
			e.markers[u.ID] = e.create(u)
			stats.Created++
			continue
		}

		if !p.Timestamp.IsZero() && !existing.fixAt.IsZero() && p.Timestamp.Before(existing.fixAt) {
			e.logger.Debug("Ignoring out-of-order position", "unitId", u.ID,
				"fixAt", p.Timestamp, "shownAt", existing.fixAt)
			stats.Stale++
		} else {
			if existing.lat != p.Lat || existing.lng != p.Lng {
				existing.handle.SetLatLng(mapsurface.LatLng{Lat: p.Lat, Lng: p.Lng})
				existing.lat, existing.lng = p.Lat, p.Lng
				stats.Moved++
			}
			if !p.Timestamp.IsZero() {
				existing.fixAt = p.Timestamp
			}
		}

		if existing.icon != u.IconURL {
			existing.handle.SetIcon(u.IconURL)
			existing.icon = u.IconURL
			stats.IconsChanged++
		}
	}

	for id, m := range e.markers {
		if _, ok := keep[id]; ok {
			continue
		}
		m.handle.Remove()
		delete(e.markers, id)
		stats.Removed++
	}

	stats.Duration = time.Since(start)
	e.last = stats
	e.mu.Unlock()

	e.record(stats)
	if stats.Changed() {
		e.logger.Debug("Map synced",
			"created", stats.Created, "moved", stats.Moved, "icons", stats.IconsChanged,
			"removed", stats.Removed, "skipped", stats.Skipped, "duration", stats.Duration)
	}
	return stats
}

// create adds a marker for a positioned unit. Caller holds e.mu.
func (e *Engine) create(u core.Unit) *tracked {
	id := u.ID
	handle := e.surface.AddMarker(
		mapsurface.LatLng{Lat: u.Position.Lat, Lng: u.Position.Lng},
		mapsurface.MarkerOptions{
			IconURL: u.IconURL,
			Title:   u.Name,
			OnClick: func() { e.selectUnit(id) },
		},
	)
	return &tracked{
		handle: handle,
		lat:    u.Position.Lat,
		lng:    u.Position.Lng,
		icon:   u.IconURL,
		fixAt:  u.Position.Timestamp,
	}
}

func (e *Engine) selectUnit(id int64) {
	e.mu.Lock()
	if _, ok := e.markers[id]; !ok {
		e.mu.Unlock()
		return
	}
	e.selected = id
	e.hasSelected = true
	e.mu.Unlock()

	e.logger.Debug("Unit selected", "unitId", id)
	if e.onSelect != nil {
		e.onSelect(id)
	}
}

func (e *Engine) record(s SyncStats) {
	ctx := context.Background()
	add := func(op string, n int) {
		if n > 0 {
			e.ops.Add(ctx, int64(n), metric.WithAttributes(attribute.String("op", op)))
		}
	}
	add("create", s.Created)
	add("move", s.Moved)
	add("icon", s.IconsChanged)
	add("remove", s.Removed)
	if s.Skipped > 0 {
		e.skipped.Add(ctx, int64(s.Skipped), metric.WithAttributes(attribute.String("reason", "malformed")))
	}
	if s.Stale > 0 {
		e.skipped.Add(ctx, int64(s.Stale), metric.WithAttributes(attribute.String("reason", "stale")))
	}
}

// Dispose removes every marker, which also detaches their click listeners.
// The engine can be synced again afterwards.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, m := range e.markers {
		m.handle.Remove()
		delete(e.markers, id)
	}
	e.selected = 0
	e.hasSelected = false
}

// Selected returns the unit id of the last clicked marker.
func (e *Engine) Selected() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected, e.hasSelected
}

// Markers returns the indexed markers ordered by unit id.
func (e *Engine) Markers() []core.Marker {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.Marker, 0, len(e.markers))
	for id, m := range e.markers {
		out = append(out, core.Marker{UnitID: id, Lat: m.lat, Lng: m.lng, IconURL: m.icon})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

// LastStats returns the stats of the most recent Sync.
func (e *Engine) LastStats() SyncStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
