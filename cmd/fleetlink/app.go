package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/fleetlink/internal/dispatcher"
	"github.com/OCAP2/fleetlink/internal/geofence"
	"github.com/OCAP2/fleetlink/internal/handlers"
	"github.com/OCAP2/fleetlink/internal/loader"
	"github.com/OCAP2/fleetlink/internal/mapsurface"
	"github.com/OCAP2/fleetlink/internal/mapsync"
	"github.com/OCAP2/fleetlink/internal/sdk"
	"github.com/OCAP2/fleetlink/internal/session"
	"github.com/OCAP2/fleetlink/internal/units"
	"github.com/OCAP2/fleetlink/internal/zonecache"
	"github.com/OCAP2/fleetlink/pkg/core"
)

// AppOptions holds everything the daemon core is built from.
type AppOptions struct {
	SDK           sdk.Config
	ScriptURL     string
	LoadTimeout   time.Duration
	Token         string
	SyncFlags     uint64
	SyncInterval  time.Duration
	DefaultRadius float64
	ResourceID    int64
	Cache         zonecache.Store
	Surface       mapsurface.Surface
	Logger        *slog.Logger
	Component     func(name string) *slog.Logger
}

// App ties the session, unit sync and geofence overlay to one map surface.
type App struct {
	opts       AppOptions
	logger     *slog.Logger
	client     *sdk.Client
	session    *session.Manager
	units      *units.Registry
	engine     *mapsync.Engine
	geofence   *geofence.Manager
	dispatcher *dispatcher.Dispatcher
}

// NewApp wires the components. ctx bounds every command the front end sends.
func NewApp(ctx context.Context, opts AppOptions) (*App, error) {
	if opts.Surface == nil {
		return nil, errors.New("no map surface configured")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Component == nil {
		base := opts.Logger
		opts.Component = func(name string) *slog.Logger { return base.With("component", name) }
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 10 * time.Second
	}

	a := &App{opts: opts, logger: opts.Logger}

	a.client = sdk.New(opts.SDK)
	l := loader.New(a.client, opts.ScriptURL, opts.LoadTimeout, opts.Component("loader"))
	a.session = session.New(l, a.client, opts.SDK.BaseURL, opts.Component("session"))
	a.units = units.New(a.session, a.client, opts.SyncFlags, opts.Component("units"))

	engine, err := mapsync.New(opts.Surface, a.unitSelected, opts.Component("mapsync"))
	if err != nil {
		return nil, fmt.Errorf("creating map sync engine: %w", err)
	}
	a.engine = engine

	gfOpts := []geofence.Option{
		geofence.WithLogger(opts.Component("geofence")),
		geofence.WithDefaultRadius(opts.DefaultRadius),
	}
	if opts.Cache != nil {
		gfOpts = append(gfOpts, geofence.WithCache(opts.Cache))
	}
	a.geofence = geofence.New(a.session, a.client, opts.Surface, gfOpts...)

	d, err := dispatcher.New(opts.Component("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	a.dispatcher = d
	handlers.NewService(ctx, handlers.Dependencies{
		Geofence: a.geofence,
		Logger:   opts.Component("handlers"),
		Timeout:  opts.SDK.Timeout,
	}).Register(d)

	a.session.OnChange(a.sessionChanged)
	return a, nil
}

// Dispatcher routes front end commands.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Session returns the session manager.
func (a *App) Session() *session.Manager {
	return a.session
}

// StateName implements logging.SessionSource.
func (a *App) StateName() string {
	return a.session.State().String()
}

// UserName implements logging.SessionSource.
func (a *App) UserName() string {
	if u := a.session.CurrentUser(); u != nil {
		return u.Name
	}
	return ""
}

// Engine returns the unit marker engine.
func (a *App) Engine() *mapsync.Engine {
	return a.engine
}

// Geofence returns the zone overlay manager.
func (a *App) Geofence() *geofence.Manager {
	return a.geofence
}

// Start logs in with the configured token and selects the configured
// resource. Without a token the daemon waits for the front end.
func (a *App) Start(ctx context.Context) error {
	if a.opts.Token == "" {
		a.logger.Warn("No SDK token configured, not logging in")
		return nil
	}
	if _, err := a.session.Login(ctx, a.opts.Token); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if a.opts.ResourceID > 0 {
		if err := a.geofence.SelectResource(ctx, a.opts.ResourceID); err != nil {
			a.logger.Error("Failed to select resource", "resourceId", a.opts.ResourceID, "error", err)
		}
	}
	return nil
}

// Poll loads the unit snapshot once and reconciles the markers with it.
func (a *App) Poll(ctx context.Context) (mapsync.SyncStats, error) {
	list, err := a.units.Load(ctx)
	if err != nil {
		return mapsync.SyncStats{}, err
	}
	stats := a.engine.Sync(list)
	if stats.Changed() {
		a.logger.Debug("Markers synced",
			"created", stats.Created,
			"moved", stats.Moved,
			"removed", stats.Removed,
			"duration", stats.Duration,
		)
	}
	return stats, nil
}

// Run polls every SyncInterval until ctx is done.
func (a *App) Run(ctx context.Context) {
	ticker := time.NewTicker(a.opts.SyncInterval)
	defer ticker.Stop()

	for {
		if a.session.Authenticated() {
			if _, err := a.Poll(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("Unit poll failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close removes the overlay and ends the remote session.
func (a *App) Close(ctx context.Context) {
	a.geofence.Dispose()
	a.engine.Dispose()
	res, err := a.session.Logout(ctx)
	if err != nil {
		a.logger.Warn("Logout on shutdown failed", "error", err)
		return
	}
	a.logger.Info("Session closed", "performed", res.Performed, "message", res.Message)
}

func (a *App) unitSelected(id int64) {
	u := a.units.Unit(id)
	if u == nil {
		return
	}
	attrs := []any{"unitId", u.ID, "name", u.Name}
	if u.HasPosition() {
		attrs = append(attrs, "lat", u.Position.Lat, "lng", u.Position.Lng)
		if zones := a.geofence.ZonesContaining(u.Position.Lat, u.Position.Lng); len(zones) > 0 {
			names := make([]string, len(zones))
			for i, z := range zones {
				names[i] = z.Name
			}
			attrs = append(attrs, "zones", names)
		}
	}
	a.logger.Info("Unit selected", attrs...)
}

func (a *App) sessionChanged(state core.SessionState) {
	a.logger.Info("Session state changed", "state", state.String())
	if state == core.SessionIdle {
		a.engine.Sync(nil)
	}
}
