// Package websocket implements mapsurface.Surface by streaming draw
// operations to a map front end over a WebSocket. Click events flow back on
// the same connection.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/OCAP2/fleetlink/internal/mapsurface"
	"github.com/OCAP2/fleetlink/pkg/streaming"
)

// Config holds map WebSocket settings.
type Config struct {
	URL    string
	Secret string
}

// Surface streams map operations to the front end.
type Surface struct {
	conn   *connection
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	seq       uint64
	markers   map[string]*entry
	shapes    map[string]*entry
	clicks    map[string]func()
	mapClicks map[string]func(mapsurface.LatLng)
	commands  func(streaming.Envelope)
}

// entry is the last add message for a live element, kept for replay.
type entry struct {
	seq     uint64
	msgType string
	payload any
}

// New creates a Surface. Call Connect before drawing.
func New(cfg Config, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Surface{
		cfg:       cfg,
		logger:    logger,
		markers:   make(map[string]*entry),
		shapes:    make(map[string]*entry),
		clicks:    make(map[string]func()),
		mapClicks: make(map[string]func(mapsurface.LatLng)),
	}
	s.conn = newConnection(logger, s.snapshot, s.handleInbound)
	return s
}

// Connect dials the front end.
func (s *Surface) Connect() error {
	return s.conn.dial(s.cfg.URL, s.cfg.Secret)
}

// Close disconnects from the front end.
func (s *Surface) Close() error {
	return s.conn.close()
}

// OnCommand registers the handler for inbound messages that are not clicks.
func (s *Surface) OnCommand(fn func(streaming.Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = fn
}

// SendResult reports the outcome of an inbound command. Results are not
// replayed after a reconnect.
func (s *Surface) SendResult(p streaming.ResultPayload) {
	s.sendEnvelope(streaming.TypeResult, p)
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload and pushes it to the write loop.
func (s *Surface) sendEnvelope(msgType string, payload any) {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		s.logger.Warn("Dropping map message", "type", msgType, "error", err)
		return
	}
	s.conn.send(data)
}

func wire(at mapsurface.LatLng) streaming.LatLng {
	return streaming.LatLng{Lat: at.Lat, Lng: at.Lng}
}

func wirePoints(points []mapsurface.LatLng) []streaming.LatLng {
	out := make([]streaming.LatLng, len(points))
	for i, p := range points {
		out[i] = wire(p)
	}
	return out
}

// AddMarker implements mapsurface.Surface.
func (s *Surface) AddMarker(at mapsurface.LatLng, opts mapsurface.MarkerOptions) mapsurface.Marker {
	id := uuid.NewString()
	p := &streaming.MarkerPayload{ID: id, At: wire(at), IconURL: opts.IconURL, Title: opts.Title}

	s.mu.Lock()
	s.seq++
	s.markers[id] = &entry{seq: s.seq, msgType: streaming.TypeAddMarker, payload: p}
	if opts.OnClick != nil {
		s.clicks[id] = opts.OnClick
	}
	s.sendEnvelope(streaming.TypeAddMarker, p)
	s.mu.Unlock()

	return &marker{s: s, id: id}
}

// AddCircle implements mapsurface.Surface.
func (s *Surface) AddCircle(center mapsurface.LatLng, radiusMeters float64, style mapsurface.Style) mapsurface.Shape {
	return s.addShape(streaming.TypeAddCircle, []mapsurface.LatLng{center}, radiusMeters, style)
}

// AddPolygon implements mapsurface.Surface.
func (s *Surface) AddPolygon(points []mapsurface.LatLng, style mapsurface.Style) mapsurface.Shape {
	return s.addShape(streaming.TypeAddPolygon, points, 0, style)
}

// AddPolyline implements mapsurface.Surface.
func (s *Surface) AddPolyline(points []mapsurface.LatLng, style mapsurface.Style) mapsurface.Shape {
	return s.addShape(streaming.TypeAddPolyline, points, 0, style)
}

func (s *Surface) addShape(msgType string, points []mapsurface.LatLng, radius float64, style mapsurface.Style) mapsurface.Shape {
	id := uuid.NewString()
	p := &streaming.ShapePayload{
		ID:     id,
		Points: wirePoints(points),
		Radius: radius,
		Color:  style.Color,
		Weight: style.Weight,
		Label:  style.Label,
	}

	s.mu.Lock()
	s.seq++
	s.shapes[id] = &entry{seq: s.seq, msgType: msgType, payload: p}
	s.sendEnvelope(msgType, p)
	s.mu.Unlock()

	return &shape{s: s, id: id}
}

// OnMapClick implements mapsurface.Surface.
func (s *Surface) OnMapClick(fn func(mapsurface.LatLng)) func() {
	id := uuid.NewString()
	s.mu.Lock()
	s.mapClicks[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.mapClicks, id)
		s.mu.Unlock()
	}
}

type marker struct {
	s  *Surface
	id string
}

func (m *marker) SetLatLng(at mapsurface.LatLng) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	e, ok := m.s.markers[m.id]
	if !ok {
		return
	}
	e.payload.(*streaming.MarkerPayload).At = wire(at)
	m.s.sendEnvelope(streaming.TypeMoveMarker, streaming.MovePayload{ID: m.id, At: wire(at)})
}

func (m *marker) SetIcon(url string) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	e, ok := m.s.markers[m.id]
	if !ok {
		return
	}
	e.payload.(*streaming.MarkerPayload).IconURL = url
	m.s.sendEnvelope(streaming.TypeSetIcon, streaming.IconPayload{ID: m.id, IconURL: url})
}

func (m *marker) Remove() {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.markers[m.id]; !ok {
		return
	}
	delete(m.s.markers, m.id)
	delete(m.s.clicks, m.id)
	m.s.sendEnvelope(streaming.TypeRemove, streaming.RemovePayload{ID: m.id})
}

type shape struct {
	s  *Surface
	id string
}

func (sh *shape) Remove() {
	sh.s.mu.Lock()
	defer sh.s.mu.Unlock()
	if _, ok := sh.s.shapes[sh.id]; !ok {
		return
	}
	delete(sh.s.shapes, sh.id)
	sh.s.sendEnvelope(streaming.TypeRemove, streaming.RemovePayload{ID: sh.id})
}

// snapshot rebuilds the front end: a reset followed by every live element in
// creation order.
func (s *Surface) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make([]*entry, 0, len(s.markers)+len(s.shapes))
	for _, e := range s.markers {
		live = append(live, e)
	}
	for _, e := range s.shapes {
		live = append(live, e)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })

	out := make([][]byte, 0, len(live)+1)
	if data, err := marshalEnvelope(streaming.TypeReset, struct{}{}); err == nil {
		out = append(out, data)
	}
	for _, e := range live {
		data, err := marshalEnvelope(e.msgType, e.payload)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// handleInbound routes click messages to their listeners and everything else
// to the command handler.
func (s *Surface) handleInbound(raw []byte) {
	var env streaming.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Debug("Non-envelope message received", "raw", string(raw))
		return
	}

	switch env.Type {
	case streaming.TypeMarkerClick:
		var p streaming.ClickPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Debug("Malformed marker click", "error", err)
			return
		}
		s.mu.Lock()
		fn := s.clicks[p.ID]
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
	case streaming.TypeMapClick:
		var p streaming.LatLng
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Debug("Malformed map click", "error", err)
			return
		}
		s.mu.Lock()
		fns := make([]func(mapsurface.LatLng), 0, len(s.mapClicks))
		for _, fn := range s.mapClicks {
			fns = append(fns, fn)
		}
		s.mu.Unlock()
		for _, fn := range fns {
			fn(mapsurface.LatLng{Lat: p.Lat, Lng: p.Lng})
		}
	default:
		s.mu.Lock()
		fn := s.commands
		s.mu.Unlock()
		if fn != nil {
			fn(env)
		}
	}
}
