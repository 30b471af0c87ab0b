package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/fleetlink/internal/dispatcher"
	"github.com/OCAP2/fleetlink/internal/mapsurface"
	"github.com/OCAP2/fleetlink/internal/mapsurface/memory"
	"github.com/OCAP2/fleetlink/internal/sdk"
	"github.com/OCAP2/fleetlink/internal/sdk/sdktest"
	"github.com/OCAP2/fleetlink/internal/zonecache"
	"github.com/OCAP2/fleetlink/pkg/core"
	"github.com/OCAP2/fleetlink/pkg/streaming"
)

func newTestApp(t *testing.T, token string, resource int64) (*App, *sdktest.Server, *memory.Surface) {
	t.Helper()
	srv := sdktest.New()
	t.Cleanup(srv.Close)
	srv.AddToken("VALIDTOKEN", 1, "ops")

	surface := memory.New()
	app, err := NewApp(context.Background(), AppOptions{
		SDK:          sdk.Config{BaseURL: srv.URL, Timeout: time.Second},
		ScriptURL:    srv.ScriptURL(),
		LoadTimeout:  time.Second,
		Token:        token,
		SyncInterval: 10 * time.Millisecond,
		ResourceID:   resource,
		Cache:        zonecache.NewMemory(time.Minute),
		Surface:      surface,
	})
	require.NoError(t, err)
	return app, srv, surface
}

func TestNewApp_RequiresSurface(t *testing.T) {
	_, err := NewApp(context.Background(), AppOptions{})
	assert.Error(t, err)
}

func TestStart_WithoutToken(t *testing.T) {
	app, srv, _ := newTestApp(t, "", 0)

	require.NoError(t, app.Start(context.Background()))
	assert.False(t, app.Session().Authenticated())
	assert.Zero(t, srv.Calls("token/login"))
}

func TestStart_BadToken(t *testing.T) {
	app, srv, _ := newTestApp(t, "WRONG", 0)
	srv.RejectToken("WRONG", 4)

	err := app.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, core.SessionError, app.Session().State())
}

func TestStart_SelectsConfiguredResource(t *testing.T) {
	app, srv, surface := newTestApp(t, "VALIDTOKEN", 10)
	srv.SetZones(10, map[string]any{"id": 1, "n": "Yard", "t": 3, "w": 200,
		"p": []any{map[string]any{"x": 28.0, "y": -26.2, "r": 200}}})

	require.NoError(t, app.Start(context.Background()))
	assert.Equal(t, int64(10), app.Geofence().Selected())
	require.Len(t, surface.Shapes(), 1)
	assert.Equal(t, memory.KindCircle, surface.Shapes()[0].Kind)
}

func TestPollDrawsMarkers(t *testing.T) {
	app, srv, surface := newTestApp(t, "VALIDTOKEN", 0)
	srv.SetUnits(
		map[string]any{"id": 1, "nm": "Truck 1", "uri": "/img/1.png",
			"pos": map[string]any{"x": 28.0, "y": -26.2, "t": 1700000000}},
		map[string]any{"id": 2, "nm": "Parked"},
	)
	require.NoError(t, app.Start(context.Background()))

	stats, err := app.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	markers := surface.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, mapsurface.LatLng{Lat: -26.2, Lng: 28}, markers[0].At)

	srv.SetUnits(map[string]any{"id": 1, "nm": "Truck 1", "uri": "/img/1.png",
		"pos": map[string]any{"x": 28.1, "y": -26.3, "t": 1700000060}})
	stats, err = app.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Moved)
	assert.Equal(t, mapsurface.LatLng{Lat: -26.3, Lng: 28.1}, surface.Markers()[0].At)
}

func TestPollRequiresSession(t *testing.T) {
	app, _, _ := newTestApp(t, "", 0)
	_, err := app.Poll(context.Background())
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	app, srv, surface := newTestApp(t, "VALIDTOKEN", 0)
	srv.SetUnits(map[string]any{"id": 1, "pos": map[string]any{"x": 1.0, "y": 1.0, "t": 1}})
	require.NoError(t, app.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(surface.Markers()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCommandsCreateZoneFromMapClick(t *testing.T) {
	app, srv, surface := newTestApp(t, "VALIDTOKEN", 10)
	require.NoError(t, app.Start(context.Background()))

	surface.ClickMap(mapsurface.LatLng{Lat: -26.2, Lng: 28})

	payload, err := json.Marshal(streaming.CreateZonePayload{Name: "Gate"})
	require.NoError(t, err)
	_, err = app.Dispatcher().Dispatch(dispatcherEvent(streaming.TypeCreateZone, payload))
	require.NoError(t, err)

	require.Len(t, srv.CreatedZones(), 1)
	assert.Equal(t, "Gate", srv.CreatedZones()[0]["n"])
	assert.Len(t, app.Geofence().Zones(), 1)
}

func TestCloseClearsOverlayAndLogsOut(t *testing.T) {
	app, srv, surface := newTestApp(t, "VALIDTOKEN", 0)
	srv.SetUnits(map[string]any{"id": 1, "pos": map[string]any{"x": 1.0, "y": 1.0, "t": 1}})
	require.NoError(t, app.Start(context.Background()))
	_, err := app.Poll(context.Background())
	require.NoError(t, err)

	app.Close(context.Background())

	assert.Empty(t, surface.Markers())
	assert.Equal(t, core.SessionIdle, app.Session().State())
	assert.Equal(t, 0, surface.MapClickListeners())
}

func dispatcherEvent(command string, payload []byte) dispatcher.Event {
	return dispatcher.Event{Command: command, Payload: payload, Timestamp: time.Now()}
}
