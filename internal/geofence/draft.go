package geofence

import (
	"strings"

	"github.com/OCAP2/fleetlink/internal/mapsurface"
	"github.com/OCAP2/fleetlink/pkg/core"
)

// Draft is a zone being drawn. For circles Points holds the centre and Radius
// the extent; polygons and polylines use every point. Width is the corridor
// width of a polyline.
type Draft struct {
	Name   string
	Type   core.ZoneType
	Points []core.ZonePoint
	Radius float64
	Width  float64
	Color  uint32
}

// hasGeometry reports whether the draft can be submitted.
func (d Draft) hasGeometry() bool {
	switch d.Type {
	case core.ZoneCircle:
		return len(d.Points) >= 1 && d.Radius > 0
	case core.ZonePolygon:
		return len(d.Points) >= 3
	case core.ZonePolyline:
		return len(d.Points) >= 2
	default:
		return false
	}
}

// zone builds the zone the draft describes.
func (d Draft) zone() core.Zone {
	z := core.Zone{
		Name:  strings.TrimSpace(d.Name),
		Type:  d.Type,
		Color: d.Color,
	}
	switch d.Type {
	case core.ZoneCircle:
		c := d.Points[0]
		z.Width = d.Radius
		z.Points = []core.ZonePoint{{X: c.X, Y: c.Y, R: d.Radius}}
	default:
		z.Width = d.Width
		z.Points = append([]core.ZonePoint(nil), d.Points...)
	}
	return z
}

// SetDraftMode starts a new draft of the given type.
func (m *Manager) SetDraftMode(t core.ZoneType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = Draft{Type: t, Radius: m.cfg.defaultRadius, Width: m.cfg.defaultWidth}
	m.renderDraftLocked()
}

// HandleMapClick updates the draft from a click on the map. In circle mode
// (the default) the click sets the centre; in polygon or polyline mode it
// appends a vertex.
func (m *Manager) HandleMapClick(lat, lng float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.draft.Type {
	case core.ZonePolygon, core.ZonePolyline:
		m.draft.Points = append(m.draft.Points, core.ZonePoint{X: lng, Y: lat})
	default:
		m.draft.Type = core.ZoneCircle
		if m.draft.Radius <= 0 {
			m.draft.Radius = m.cfg.defaultRadius
		}
		m.draft.Points = []core.ZonePoint{{X: lng, Y: lat}}
	}
	m.renderDraftLocked()
}

// AddDraftVertex appends a vertex to a polygon or polyline draft. A draft in
// any other mode becomes a polygon.
func (m *Manager) AddDraftVertex(lat, lng float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft.Type != core.ZonePolygon && m.draft.Type != core.ZonePolyline {
		m.draft = Draft{Type: core.ZonePolygon, Width: m.cfg.defaultWidth}
	}
	m.draft.Points = append(m.draft.Points, core.ZonePoint{X: lng, Y: lat})
	m.renderDraftLocked()
}

// SetDraftRadius sets the circle radius in metres.
func (m *Manager) SetDraftRadius(meters float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft.Radius = meters
	m.renderDraftLocked()
}

// ClearDraft discards the draft and its preview.
func (m *Manager) ClearDraft() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = Draft{Radius: m.cfg.defaultRadius, Width: m.cfg.defaultWidth}
	m.renderDraftLocked()
}

// Draft returns a copy of the draft built from map interaction.
func (m *Manager) Draft() Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.draft
	d.Points = append([]core.ZonePoint(nil), m.draft.Points...)
	return d
}

// renderDraftLocked redraws the draft preview. Caller holds m.mu.
func (m *Manager) renderDraftLocked() {
	if m.preview != nil {
		m.preview.Remove()
		m.preview = nil
	}
	if m.surface == nil || len(m.draft.Points) == 0 {
		return
	}
	style := mapsurface.Style{Color: draftColor, Weight: 1, Label: m.draft.Name}
	switch m.draft.Type {
	case core.ZoneCircle:
		if m.draft.Radius > 0 {
			m.preview = m.surface.AddCircle(latLng(m.draft.Points[0]), m.draft.Radius, style)
		}
	case core.ZonePolygon:
		m.preview = m.surface.AddPolygon(latLngs(m.draft.Points), style)
	case core.ZonePolyline:
		m.preview = m.surface.AddPolyline(latLngs(m.draft.Points), style)
	}
}
