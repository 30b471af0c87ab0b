// Package memory implements mapsurface.Surface in process. It renders nothing
// and records every operation, which makes it the surface for tests and
// headless runs.
package memory

import (
	"sort"
	"sync"

	"github.com/OCAP2/fleetlink/internal/mapsurface"
)

// ShapeKind identifies a recorded overlay.
type ShapeKind string

const (
	KindCircle   ShapeKind = "circle"
	KindPolygon  ShapeKind = "polygon"
	KindPolyline ShapeKind = "polyline"
)

// Counters tallies surface operations.
type Counters struct {
	MarkersAdded   int
	MarkersMoved   int
	IconsChanged   int
	MarkersRemoved int
	ShapesAdded    int
	ShapesRemoved  int
}

// MarkerState is the observable state of a live marker.
type MarkerState struct {
	ID      int
	At      mapsurface.LatLng
	IconURL string
	Title   string
}

// ShapeState is the observable state of a live overlay.
type ShapeState struct {
	ID     int
	Kind   ShapeKind
	Points []mapsurface.LatLng
	Radius float64
	Style  mapsurface.Style
}

// Surface is an in-memory map surface.
type Surface struct {
	mu        sync.Mutex
	nextID    int
	markers   map[int]*marker
	shapes    map[int]*ShapeState
	mapClicks map[int]func(mapsurface.LatLng)
	counters  Counters
}

// New creates an empty Surface.
func New() *Surface {
	return &Surface{
		markers:   make(map[int]*marker),
		shapes:    make(map[int]*ShapeState),
		mapClicks: make(map[int]func(mapsurface.LatLng)),
	}
}

type marker struct {
	s       *Surface
	state   MarkerState
	onClick func()
	removed bool
}

func (m *marker) SetLatLng(at mapsurface.LatLng) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.removed {
		return
	}
	m.state.At = at
	m.s.counters.MarkersMoved++
}

func (m *marker) SetIcon(url string) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.removed {
		return
	}
	m.state.IconURL = url
	m.s.counters.IconsChanged++
}

func (m *marker) Remove() {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.removed {
		return
	}
	m.removed = true
	m.onClick = nil
	delete(m.s.markers, m.state.ID)
	m.s.counters.MarkersRemoved++
}

type shape struct {
	s  *Surface
	id int
}

func (sh *shape) Remove() {
	sh.s.mu.Lock()
	defer sh.s.mu.Unlock()
	if _, ok := sh.s.shapes[sh.id]; !ok {
		return
	}
	delete(sh.s.shapes, sh.id)
	sh.s.counters.ShapesRemoved++
}

// AddMarker implements mapsurface.Surface.
func (s *Surface) AddMarker(at mapsurface.LatLng, opts mapsurface.MarkerOptions) mapsurface.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m := &marker{
		s:       s,
		state:   MarkerState{ID: s.nextID, At: at, IconURL: opts.IconURL, Title: opts.Title},
		onClick: opts.OnClick,
	}
	s.markers[m.state.ID] = m
	s.counters.MarkersAdded++
	return m
}

// AddCircle implements mapsurface.Surface.
func (s *Surface) AddCircle(center mapsurface.LatLng, radiusMeters float64, style mapsurface.Style) mapsurface.Shape {
	return s.addShape(ShapeState{Kind: KindCircle, Points: []mapsurface.LatLng{center}, Radius: radiusMeters, Style: style})
}

// AddPolygon implements mapsurface.Surface.
func (s *Surface) AddPolygon(points []mapsurface.LatLng, style mapsurface.Style) mapsurface.Shape {
	return s.addShape(ShapeState{Kind: KindPolygon, Points: append([]mapsurface.LatLng(nil), points...), Style: style})
}

// AddPolyline implements mapsurface.Surface.
func (s *Surface) AddPolyline(points []mapsurface.LatLng, style mapsurface.Style) mapsurface.Shape {
	return s.addShape(ShapeState{Kind: KindPolyline, Points: append([]mapsurface.LatLng(nil), points...), Style: style})
}

func (s *Surface) addShape(st ShapeState) mapsurface.Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	st.ID = s.nextID
	s.shapes[st.ID] = &st
	s.counters.ShapesAdded++
	return &shape{s: s, id: st.ID}
}

// OnMapClick implements mapsurface.Surface.
func (s *Surface) OnMapClick(fn func(mapsurface.LatLng)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.mapClicks[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.mapClicks, id)
	}
}

// ClickMarker simulates a click on the marker with id. It reports whether a
// listener was invoked.
func (s *Surface) ClickMarker(id int) bool {
	s.mu.Lock()
	m, ok := s.markers[id]
	var fn func()
	if ok {
		fn = m.onClick
	}
	s.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// ClickMap simulates a click on the map background.
func (s *Surface) ClickMap(at mapsurface.LatLng) {
	s.mu.Lock()
	fns := make([]func(mapsurface.LatLng), 0, len(s.mapClicks))
	for _, fn := range s.mapClicks {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(at)
	}
}

// Markers returns the live markers ordered by id.
func (s *Surface) Markers() []MarkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MarkerState, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, m.state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shapes returns the live overlays ordered by id.
func (s *Surface) Shapes() []ShapeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ShapeState, 0, len(s.shapes))
	for _, sh := range s.shapes {
		out = append(out, *sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counters returns the operation tallies.
func (s *Surface) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// ResetCounters zeroes the operation tallies.
func (s *Surface) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = Counters{}
}

// MapClickListeners returns how many map click listeners are attached.
func (s *Surface) MapClickListeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mapClicks)
}
