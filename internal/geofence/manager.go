// Package geofence lists resources, renders the selected resource's zones and
// creates new zones from map drafts.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/OCAP2/fleetlink/internal/convert"
	"github.com/OCAP2/fleetlink/internal/geo"
	"github.com/OCAP2/fleetlink/internal/mapsurface"
	"github.com/OCAP2/fleetlink/internal/sdk"
	"github.com/OCAP2/fleetlink/internal/session"
	"github.com/OCAP2/fleetlink/pkg/core"
)

// Data flag groups requested for resources.
const (
	FlagResourceBase  uint64 = 0x00000001
	FlagResourceZones uint64 = 0x00001000
)

const (
	// DefaultRadius is the radius of a circle drawn by a single map click.
	DefaultRadius = 500.0
	// DefaultWidth is the corridor width of a drawn polyline.
	DefaultWidth = 50.0

	draftColor = "#ff8800"
	zoneWeight = 2
)

// Session reports whether the manager may talk to the SDK.
type Session interface {
	Authenticated() bool
}

// SDK is the subset of the remote API the manager needs.
type SDK interface {
	UpdateDataFlags(ctx context.Context, spec sdk.FlagSpec) error
	Items(itemsType string) []sdk.Item
	ZoneData(ctx context.Context, resourceID int64) ([]sdk.RawZone, error)
	CreateZone(ctx context.Context, resourceID int64, p sdk.ZonePayload) (sdk.RawZone, error)
	ErrorText(code int) string
}

// Cache stores the zones of a resource between fetches.
type Cache interface {
	Get(ctx context.Context, resourceID int64) ([]core.Zone, bool, error)
	Put(ctx context.Context, resourceID int64, zones []core.Zone) error
	Invalidate(ctx context.Context, resourceID int64) error
}

// Option configures a Manager.
type Option func(*config)

type config struct {
	cache         Cache
	logger        *slog.Logger
	defaultRadius float64
	defaultWidth  float64
}

// WithCache reads zones through c.
func WithCache(c Cache) Option {
	return func(cfg *config) {
		cfg.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}

// WithDefaultRadius sets the radius used for circles drawn by a click.
func WithDefaultRadius(meters float64) Option {
	return func(cfg *config) {
		if meters > 0 {
			cfg.defaultRadius = meters
		}
	}
}

// Manager owns the zone overlay of a map surface.
type Manager struct {
	session Session
	sdk     SDK
	surface mapsurface.Surface
	cfg     config
	logger  *slog.Logger

	mu        sync.Mutex
	seq       uint64
	loaded    uint64 // seq of the selection whose zones are shown
	selected  int64
	zones     []core.Zone
	late      []core.Zone // created while the selected resource was loading
	overlay   []mapsurface.Shape
	draft     Draft
	preview   mapsurface.Shape
	listeners map[int]func([]core.Zone)
	nextID    int
	detach    func()
}

// New creates a Manager drawing on surface and listening to its map clicks
// for drafts.
func New(sess Session, api SDK, surface mapsurface.Surface, opts ...Option) *Manager {
	cfg := config{defaultRadius: DefaultRadius, defaultWidth: DefaultWidth}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	m := &Manager{
		session:   sess,
		sdk:       api,
		surface:   surface,
		cfg:       cfg,
		logger:    cfg.logger,
		draft:     Draft{Radius: cfg.defaultRadius, Width: cfg.defaultWidth},
		listeners: make(map[int]func([]core.Zone)),
	}
	if surface != nil {
		m.detach = surface.OnMapClick(func(at mapsurface.LatLng) {
			m.HandleMapClick(at.Lat, at.Lng)
		})
	}
	return m
}

// zoneError resolves vendor codes to a ZoneError.
func (m *Manager) zoneError(op string, err error) error {
	var codeErr *sdk.CodeError
	if errors.As(err, &codeErr) {
		return &ZoneError{Code: codeErr.Code, Message: m.sdk.ErrorText(codeErr.Code)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ListResources returns the resources visible to the session.
func (m *Manager) ListResources(ctx context.Context) ([]core.Resource, error) {
	if !m.session.Authenticated() {
		return nil, session.ErrNotAuthenticated
	}
	spec := sdk.TypeSpec(sdk.ItemsTypeResource, FlagResourceBase|FlagResourceZones)
	if err := m.sdk.UpdateDataFlags(ctx, spec); err != nil {
		return nil, m.zoneError("list resources", err)
	}

	items := m.sdk.Items(sdk.ItemsTypeResource)
	out := make([]core.Resource, 0, len(items))
	for _, it := range items {
		out = append(out, convert.Resource(it))
	}
	return out, nil
}

// SelectResource makes id the current resource: the overlay is cleared at
// once and redrawn with id's zones when they arrive. If another selection
// happens first, the result is dropped and ErrStaleSelection is returned.
func (m *Manager) SelectResource(ctx context.Context, id int64) error {
	if !m.session.Authenticated() {
		return session.ErrNotAuthenticated
	}

	m.mu.Lock()
	m.seq++
	token := m.seq
	prev := m.selected
	m.selected = id
	if prev != id {
		m.late = nil
	}
	m.setZonesLocked(nil)
	m.mu.Unlock()
	m.notify()

	if m.cfg.cache != nil && prev != 0 && prev != id {
		if err := m.cfg.cache.Invalidate(ctx, prev); err != nil {
			m.logger.Warn("Failed to invalidate zone cache", "resourceId", prev, "error", err)
		}
	}

	zones, err := m.fetch(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if token != m.seq {
		m.mu.Unlock()
		m.logger.Debug("Discarding zones of superseded selection", "resourceId", id)
		return ErrStaleSelection
	}
	zones, merged := mergeZones(zones, m.late)
	m.late = nil
	m.loaded = token
	m.setZonesLocked(zones)
	m.mu.Unlock()
	m.notify()

	if merged && m.cfg.cache != nil {
		if err := m.cfg.cache.Put(ctx, id, zones); err != nil {
			m.logger.Warn("Zone cache write failed", "resourceId", id, "error", err)
		}
	}

	m.logger.Debug("Resource selected", "resourceId", id, "zones", len(zones))
	return nil
}

// Refresh drops the cached zones of the current resource and reloads them.
func (m *Manager) Refresh(ctx context.Context) error {
	id := m.Selected()
	if id == 0 {
		return ErrNoResource
	}
	if m.cfg.cache != nil {
		if err := m.cfg.cache.Invalidate(ctx, id); err != nil {
			m.logger.Warn("Failed to invalidate zone cache", "resourceId", id, "error", err)
		}
	}
	return m.SelectResource(ctx, id)
}

// fetch reads the zones of a resource through the cache.
func (m *Manager) fetch(ctx context.Context, id int64) ([]core.Zone, error) {
	if m.cfg.cache != nil {
		zones, ok, err := m.cfg.cache.Get(ctx, id)
		if err != nil {
			m.logger.Warn("Zone cache read failed", "resourceId", id, "error", err)
		} else if ok {
			return zones, nil
		}
	}

	raw, err := m.sdk.ZoneData(ctx, id)
	if err != nil {
		return nil, m.zoneError("zone data", err)
	}
	zones := make([]core.Zone, 0, len(raw))
	for _, z := range raw {
		zones = append(zones, convert.Zone(z, id))
	}

	if m.cfg.cache != nil {
		if err := m.cfg.cache.Put(ctx, id, zones); err != nil {
			m.logger.Warn("Zone cache write failed", "resourceId", id, "error", err)
		}
	}
	return zones, nil
}

// CreateZone submits the draft to the selected resource. The new zone is
// added to the overlay and the interactive draft is cleared.
func (m *Manager) CreateZone(ctx context.Context, d Draft) (core.Zone, error) {
	m.mu.Lock()
	resourceID := m.selected
	m.mu.Unlock()

	if resourceID == 0 {
		return core.Zone{}, ErrNoResource
	}
	if !d.hasGeometry() {
		return core.Zone{}, ErrNoDraft
	}
	if strings.TrimSpace(d.Name) == "" {
		return core.Zone{}, ErrEmptyName
	}

	z := d.zone()
	raw, err := m.sdk.CreateZone(ctx, resourceID, convert.ZonePayload(z))
	if err != nil {
		return core.Zone{}, m.zoneError("create zone", err)
	}
	created := convert.Zone(raw, resourceID)

	var cached []core.Zone
	m.mu.Lock()
	if m.selected == resourceID {
		if m.loaded == m.seq {
			cached = append(append([]core.Zone(nil), m.zones...), created)
			m.setZonesLocked(cached)
		} else {
			// the pending selection may have fetched before the zone existed
			m.late = append(m.late, created)
		}
	}
	m.draft = Draft{Radius: m.cfg.defaultRadius, Width: m.cfg.defaultWidth}
	m.renderDraftLocked()
	m.mu.Unlock()
	m.notify()

	if cached != nil && m.cfg.cache != nil {
		if err := m.cfg.cache.Put(ctx, resourceID, cached); err != nil {
			m.logger.Warn("Zone cache write failed", "resourceId", resourceID, "error", err)
		}
	}

	m.logger.Info("Zone created", "resourceId", resourceID, "zoneId", created.ID, "name", created.Name, "type", created.Type)
	return created, nil
}

// mergeZones appends the late zones missing from zones.
func mergeZones(zones, late []core.Zone) ([]core.Zone, bool) {
	merged := false
	for _, z := range late {
		if !slices.ContainsFunc(zones, func(have core.Zone) bool { return have.ID == z.ID }) {
			zones = append(zones, z)
			merged = true
		}
	}
	return zones, merged
}

// Selected returns the current resource id, or 0.
func (m *Manager) Selected() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Zones returns the zones of the current resource.
func (m *Manager) Zones() []core.Zone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Zone(nil), m.zones...)
}

// ZonesContaining returns the current zones that contain the coordinate.
func (m *Manager) ZonesContaining(lat, lng float64) []core.Zone {
	var out []core.Zone
	for _, z := range m.Zones() {
		if geo.Contains(z, lat, lng) {
			out = append(out, z)
		}
	}
	return out
}

// OnZones registers fn to receive the zone list whenever it changes and
// returns a function that unregisters it.
func (m *Manager) OnZones(fn func([]core.Zone)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	zones := append([]core.Zone(nil), m.zones...)
	fns := make([]func([]core.Zone), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(zones)
	}
}

// Dispose clears the overlay and the draft preview, stops listening for map
// clicks and invalidates any in-flight selection.
func (m *Manager) Dispose() {
	m.mu.Lock()
	m.seq++
	m.selected = 0
	m.setZonesLocked(nil)
	if m.preview != nil {
		m.preview.Remove()
		m.preview = nil
	}
	detach := m.detach
	m.detach = nil
	m.mu.Unlock()

	if detach != nil {
		detach()
	}
	m.notify()
}

// setZonesLocked replaces the zone list and redraws the overlay. Caller
// holds m.mu.
func (m *Manager) setZonesLocked(zones []core.Zone) {
	for _, sh := range m.overlay {
		sh.Remove()
	}
	m.overlay = m.overlay[:0]
	m.zones = zones

	if m.surface == nil {
		return
	}
	for _, z := range zones {
		if sh := m.render(z); sh != nil {
			m.overlay = append(m.overlay, sh)
		}
	}
}

// render draws one zone. Zones with unknown type or no points draw nothing.
func (m *Manager) render(z core.Zone) mapsurface.Shape {
	if len(z.Points) == 0 {
		return nil
	}
	style := mapsurface.Style{Color: color(z.Color), Weight: zoneWeight, Label: z.Name}
	switch z.Type {
	case core.ZoneCircle:
		return m.surface.AddCircle(latLng(z.Points[0]), z.Points[0].R, style)
	case core.ZonePolygon:
		return m.surface.AddPolygon(latLngs(z.Points), style)
	case core.ZonePolyline:
		return m.surface.AddPolyline(latLngs(z.Points), style)
	default:
		m.logger.Debug("Not rendering zone of unknown type", "zoneId", z.ID, "type", int(z.Type))
		return nil
	}
}

func color(argb uint32) string {
	if argb == 0 {
		return ""
	}
	return fmt.Sprintf("#%06x", argb&0xffffff)
}

func latLng(p core.ZonePoint) mapsurface.LatLng {
	return mapsurface.LatLng{Lat: p.Y, Lng: p.X}
}

func latLngs(points []core.ZonePoint) []mapsurface.LatLng {
	out := make([]mapsurface.LatLng, len(points))
	for i, p := range points {
		out[i] = latLng(p)
	}
	return out
}
