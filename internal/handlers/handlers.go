// Package handlers turns front end commands into geofence operations.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/fleetlink/internal/dispatcher"
	"github.com/OCAP2/fleetlink/internal/geofence"
	"github.com/OCAP2/fleetlink/pkg/core"
	"github.com/OCAP2/fleetlink/pkg/streaming"
)

// DefaultTimeout bounds every remote call a command makes.
const DefaultTimeout = 30 * time.Second

// Geofence is the subset of geofence.Manager the commands drive.
type Geofence interface {
	ListResources(ctx context.Context) ([]core.Resource, error)
	SelectResource(ctx context.Context, id int64) error
	Refresh(ctx context.Context) error
	CreateZone(ctx context.Context, d geofence.Draft) (core.Zone, error)
	SetDraftMode(t core.ZoneType)
	SetDraftRadius(meters float64)
	ClearDraft()
	Draft() geofence.Draft
}

// Dependencies holds all dependencies needed by handlers.
type Dependencies struct {
	Geofence Geofence
	Logger   *slog.Logger
	Timeout  time.Duration
}

// Service provides handler methods for front end commands.
type Service struct {
	deps Dependencies
	ctx  context.Context
}

// NewService creates a Service. ctx is the parent of every command's context;
// cancelling it aborts in-flight remote calls.
func NewService(ctx context.Context, deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultTimeout
	}
	return &Service{deps: deps, ctx: ctx}
}

// Register wires every command into d. Resource switches run concurrently so
// a newer selection supersedes a slow one instead of waiting behind it;
// refreshes run on a queue. Neither stalls the front end connection.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	d.Register(streaming.TypeListResources, s.ListResources, dispatcher.Logged())
	d.Register(streaming.TypeSelectResource, s.SelectResource, dispatcher.Concurrent(8), dispatcher.Logged())
	d.Register(streaming.TypeRefresh, s.Refresh, dispatcher.Buffered(4), dispatcher.Logged())
	d.Register(streaming.TypeCreateZone, s.CreateZone, dispatcher.Logged())
	d.Register(streaming.TypeSetDraftMode, s.SetDraftMode)
	d.Register(streaming.TypeSetDraftRadius, s.SetDraftRadius)
	d.Register(streaming.TypeClearDraft, s.ClearDraft)
}

func (s *Service) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.deps.Timeout)
}

// ListResources returns the resources visible to the session.
func (s *Service) ListResources(dispatcher.Event) (any, error) {
	ctx, cancel := s.withTimeout()
	defer cancel()
	return s.deps.Geofence.ListResources(ctx)
}

// SelectResource switches the zone overlay to another resource.
func (s *Service) SelectResource(e dispatcher.Event) (any, error) {
	var p streaming.SelectResourcePayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	if p.ResourceID <= 0 {
		return nil, fmt.Errorf("invalid resource id %d", p.ResourceID)
	}

	ctx, cancel := s.withTimeout()
	defer cancel()
	err := s.deps.Geofence.SelectResource(ctx, p.ResourceID)
	if errors.Is(err, geofence.ErrStaleSelection) {
		s.deps.Logger.Debug("Resource selection superseded", "resourceId", p.ResourceID)
		return nil, nil
	}
	return nil, err
}

// Refresh reloads the zones of the current resource.
func (s *Service) Refresh(dispatcher.Event) (any, error) {
	ctx, cancel := s.withTimeout()
	defer cancel()
	err := s.deps.Geofence.Refresh(ctx)
	if errors.Is(err, geofence.ErrStaleSelection) {
		return nil, nil
	}
	return nil, err
}

// CreateZone names the current draft and submits it.
func (s *Service) CreateZone(e dispatcher.Event) (any, error) {
	var p streaming.CreateZonePayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}

	d := s.deps.Geofence.Draft()
	d.Name = p.Name
	if p.Color != 0 {
		d.Color = p.Color
	}

	ctx, cancel := s.withTimeout()
	defer cancel()
	return s.deps.Geofence.CreateZone(ctx, d)
}

// SetDraftMode starts a new draft.
func (s *Service) SetDraftMode(e dispatcher.Event) (any, error) {
	var p streaming.DraftModePayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	t := core.ZoneType(p.Type)
	switch t {
	case core.ZonePolyline, core.ZonePolygon, core.ZoneCircle:
	default:
		return nil, fmt.Errorf("unsupported zone type %d", p.Type)
	}
	s.deps.Geofence.SetDraftMode(t)
	return nil, nil
}

// SetDraftRadius resizes a circle draft.
func (s *Service) SetDraftRadius(e dispatcher.Event) (any, error) {
	var p streaming.DraftRadiusPayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	if p.Radius <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %v", p.Radius)
	}
	s.deps.Geofence.SetDraftRadius(p.Radius)
	return nil, nil
}

// ClearDraft discards the current draft.
func (s *Service) ClearDraft(dispatcher.Event) (any, error) {
	s.deps.Geofence.ClearDraft()
	return nil, nil
}

// Result converts a dispatch outcome into the reply sent to the front end.
func Result(e dispatcher.Event, result any, err error) streaming.ResultPayload {
	p := streaming.ResultPayload{Command: e.Command, OK: err == nil}
	if err != nil {
		p.Error = err.Error()
		return p
	}
	if result != "queued" {
		p.Data = result
	}
	return p
}
