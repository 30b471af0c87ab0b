package geofence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/fleetlink/internal/loader"
	"github.com/OCAP2/fleetlink/internal/mapsurface/memory"
	"github.com/OCAP2/fleetlink/internal/sdk"
	"github.com/OCAP2/fleetlink/internal/sdk/sdktest"
	"github.com/OCAP2/fleetlink/internal/session"
	"github.com/OCAP2/fleetlink/pkg/core"
)

const (
	resourceA int64 = 10
	resourceB int64 = 20
)

type fixture struct {
	srv     *sdktest.Server
	client  *sdk.Client
	sess    *session.Manager
	surface *memory.Surface
}

func setup(t *testing.T) *fixture {
	t.Helper()
	srv := sdktest.New()
	t.Cleanup(srv.Close)
	srv.AddToken("VALIDTOKEN", 1, "ops")

	client := sdk.New(sdk.Config{BaseURL: srv.URL})
	sess := session.New(loader.New(client, srv.ScriptURL(), time.Second, nil), client, srv.URL, nil)
	_, err := sess.Login(context.Background(), "VALIDTOKEN")
	require.NoError(t, err)

	return &fixture{srv: srv, client: client, sess: sess, surface: memory.New()}
}

func circleZone(id int64, name string) map[string]any {
	return map[string]any{"id": id, "n": name, "t": 3, "w": 100, "c": 0xff00ff00,
		"p": []any{map[string]any{"x": 28.0, "y": -26.2, "r": 100}}}
}

func polygonZone(id int64, name string) map[string]any {
	return map[string]any{"id": id, "n": name, "t": 2,
		"p": []any{
			map[string]any{"x": 28.0, "y": -26.0},
			map[string]any{"x": 28.1, "y": -26.0},
			map[string]any{"x": 28.1, "y": -26.1},
		}}
}

func zoneNames(zones []core.Zone) []string {
	var out []string
	for _, z := range zones {
		out = append(out, z.Name)
	}
	return out
}

type mapCache struct {
	mu          sync.Mutex
	zones       map[int64][]core.Zone
	invalidated []int64
}

func newMapCache() *mapCache {
	return &mapCache{zones: make(map[int64][]core.Zone)}
}

func (c *mapCache) Get(_ context.Context, id int64) ([]core.Zone, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.zones[id]
	return z, ok, nil
}

func (c *mapCache) Put(_ context.Context, id int64, zones []core.Zone) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones[id] = zones
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.zones, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func TestListResources(t *testing.T) {
	f := setup(t)
	f.srv.SetResources(
		map[string]any{"id": resourceA, "nm": "Depot"},
		map[string]any{"id": resourceB, "nm": "Mines"},
	)
	m := New(f.sess, f.client, f.surface)

	got, err := m.ListResources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []core.Resource{{ID: resourceA, Name: "Depot"}, {ID: resourceB, Name: "Mines"}}, got)
}

func TestListResources_CodeError(t *testing.T) {
	f := setup(t)
	f.srv.FailService("core/update_data_flags", 7)
	m := New(f.sess, f.client, f.surface)

	_, err := m.ListResources(context.Background())
	var zerr *ZoneError
	require.ErrorAs(t, err, &zerr)
	assert.Equal(t, 7, zerr.Code)
	assert.Equal(t, "Access denied", zerr.Message)
}

func TestRequiresSession(t *testing.T) {
	srv := sdktest.New()
	defer srv.Close()
	client := sdk.New(sdk.Config{BaseURL: srv.URL})
	sess := session.New(loader.New(client, srv.ScriptURL(), time.Second, nil), client, srv.URL, nil)
	m := New(sess, client, memory.New())

	_, err := m.ListResources(context.Background())
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
	assert.ErrorIs(t, m.SelectResource(context.Background(), resourceA), session.ErrNotAuthenticated)
}

func TestSelectResource_RendersByType(t *testing.T) {
	f := setup(t)
	f.srv.SetZones(resourceA,
		circleZone(1, "Yard"),
		polygonZone(2, "Block"),
		map[string]any{"id": 3, "n": "Route", "t": 1,
			"p": []any{map[string]any{"x": 28.0, "y": -26.0}, map[string]any{"x": 28.2, "y": -26.2}}},
		map[string]any{"id": 4, "n": "Odd", "t": 9, "p": []any{map[string]any{"x": 1, "y": 1}}},
		map[string]any{"id": 5, "n": "Empty", "t": 2, "p": []any{}},
	)
	m := New(f.sess, f.client, f.surface)

	require.NoError(t, m.SelectResource(context.Background(), resourceA))
	assert.Len(t, m.Zones(), 5)

	shapes := f.surface.Shapes()
	require.Len(t, shapes, 3)
	assert.Equal(t, memory.KindCircle, shapes[0].Kind)
	assert.Equal(t, 100.0, shapes[0].Radius)
	assert.Equal(t, -26.2, shapes[0].Points[0].Lat)
	assert.Equal(t, "#00ff00", shapes[0].Style.Color)
	assert.Equal(t, memory.KindPolygon, shapes[1].Kind)
	assert.Len(t, shapes[1].Points, 3)
	assert.Equal(t, memory.KindPolyline, shapes[2].Kind)
}

func TestSelectResource_ClearsOverlayOnSwitch(t *testing.T) {
	f := setup(t)
	f.srv.SetZones(resourceA, circleZone(1, "A1"), circleZone(2, "A2"))
	f.srv.SetZones(resourceB, polygonZone(3, "B1"))
	m := New(f.sess, f.client, f.surface)

	require.NoError(t, m.SelectResource(context.Background(), resourceA))
	require.Len(t, f.surface.Shapes(), 2)

	require.NoError(t, m.SelectResource(context.Background(), resourceB))
	assert.Equal(t, []string{"B1"}, zoneNames(m.Zones()))
	shapes := f.surface.Shapes()
	require.Len(t, shapes, 1)
	assert.Equal(t, memory.KindPolygon, shapes[0].Kind)
}

func TestSelectResource_SlowFetchForPreviousResourceIsDiscarded(t *testing.T) {
	f := setup(t)
	f.srv.SetZones(resourceA, circleZone(1, "A1"))
	f.srv.SetZones(resourceB, polygonZone(2, "B1"))
	f.srv.DelayZones(resourceA, 200*time.Millisecond)
	m := New(f.sess, f.client, f.surface)

	var updates [][]string
	var mu sync.Mutex
	m.OnZones(func(z []core.Zone) {
		mu.Lock()
		updates = append(updates, zoneNames(z))
		mu.Unlock()
	})

	errA := make(chan error, 1)
	go func() { errA <- m.SelectResource(context.Background(), resourceA) }()

	require.Eventually(t, func() bool { return f.srv.Calls("resource/get_zone_data") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.SelectResource(context.Background(), resourceB))

	assert.ErrorIs(t, <-errA, ErrStaleSelection)
	assert.Equal(t, resourceB, m.Selected())
	assert.Equal(t, []string{"B1"}, zoneNames(m.Zones()))

	shapes := f.surface.Shapes()
	require.Len(t, shapes, 1)
	assert.Equal(t, "B1", shapes[0].Style.Label)

	mu.Lock()
	defer mu.Unlock()
	for _, u := range updates {
		assert.NotContains(t, u, "A1")
	}
}

func TestSelectResource_ZoneErrorResolved(t *testing.T) {
	f := setup(t)
	f.srv.FailService("resource/get_zone_data", 7)
	m := New(f.sess, f.client, f.surface)

	err := m.SelectResource(context.Background(), resourceA)
	var zerr *ZoneError
	require.ErrorAs(t, err, &zerr)
	assert.Equal(t, 7, zerr.Code)
	assert.Equal(t, "Access denied", zerr.Message)
	assert.Empty(t, m.Zones())
}

func TestSelectResource_ReadsThroughCache(t *testing.T) {
	f := setup(t)
	f.srv.SetZones(resourceA, circleZone(1, "A1"))
	f.srv.SetZones(resourceB, polygonZone(2, "B1"))
	cache := newMapCache()
	m := New(f.sess, f.client, f.surface, WithCache(cache))
	ctx := context.Background()

	require.NoError(t, m.SelectResource(ctx, resourceA))
	require.NoError(t, m.SelectResource(ctx, resourceA))
	assert.Equal(t, 1, f.srv.Calls("resource/get_zone_data"))

	require.NoError(t, m.SelectResource(ctx, resourceB))
	assert.Equal(t, []int64{resourceA}, cache.invalidated)

	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, 3, f.srv.Calls("resource/get_zone_data"))
	assert.Equal(t, []string{"B1"}, zoneNames(m.Zones()))
}

func TestCreateZone_CirclePayload(t *testing.T) {
	f := setup(t)
	m := New(f.sess, f.client, f.surface)
	ctx := context.Background()
	require.NoError(t, m.SelectResource(ctx, resourceA))

	z, err := m.CreateZone(ctx, Draft{
		Name:   "Yard",
		Type:   core.ZoneCircle,
		Points: []core.ZonePoint{{X: 28.0, Y: -26.2}},
		Radius: 500,
	})
	require.NoError(t, err)

	created := f.srv.CreatedZones()
	require.Len(t, created, 1)
	p := created[0]
	assert.Equal(t, "Yard", p["n"])
	assert.Equal(t, float64(core.ZoneCircle), p["t"])
	assert.Equal(t, 500.0, p["w"])
	assert.Equal(t, float64(resourceA), p["itemId"])
	assert.Equal(t, []any{map[string]any{"x": 28.0, "y": -26.2, "r": 500.0}}, p["p"])

	assert.Equal(t, "Yard", z.Name)
	assert.Equal(t, core.ZoneCircle, z.Type)
	assert.Equal(t, resourceA, z.ResourceID)
	assert.NotZero(t, z.ID)
	assert.Equal(t, []string{"Yard"}, zoneNames(m.Zones()))
	assert.Len(t, f.surface.Shapes(), 1)
}

func TestCreateZone_DuringPendingSelectionOfSameResource(t *testing.T) {
	f := setup(t)
	f.srv.SetZones(resourceA, circleZone(1, "A1"))
	cache := newMapCache()
	m := New(f.sess, f.client, f.surface, WithCache(cache))
	ctx := context.Background()
	require.NoError(t, m.SelectResource(ctx, resourceA))

	// a refresh whose zone fetch predates the new zone
	f.srv.DelayZones(resourceA, 200*time.Millisecond)
	errRefresh := make(chan error, 1)
	go func() { errRefresh <- m.Refresh(ctx) }()
	require.Eventually(t, func() bool { return f.srv.Calls("resource/get_zone_data") == 2 }, time.Second, 5*time.Millisecond)

	z, err := m.CreateZone(ctx, Draft{
		Name:   "Gate",
		Type:   core.ZoneCircle,
		Points: []core.ZonePoint{{X: 28.0, Y: -26.2}},
		Radius: 300,
	})
	require.NoError(t, err)

	assert.Empty(t, m.Zones(), "overlay waits for the pending selection")
	_, cachedDuringLoad, _ := cache.Get(ctx, resourceA)
	assert.False(t, cachedDuringLoad)

	require.NoError(t, <-errRefresh)
	assert.Equal(t, []string{"A1", "Gate"}, zoneNames(m.Zones()))
	assert.Len(t, f.surface.Shapes(), 2)

	cached, ok, _ := cache.Get(ctx, resourceA)
	require.True(t, ok)
	assert.Equal(t, []string{"A1", "Gate"}, zoneNames(cached))
	assert.Equal(t, z.ID, cached[1].ID)
}

func TestCreateZone_FromMapClick(t *testing.T) {
	f := setup(t)
	m := New(f.sess, f.client, f.surface, WithDefaultRadius(250))
	ctx := context.Background()
	require.NoError(t, m.SelectResource(ctx, resourceA))

	f.surface.ClickMap(mapsurfaceLatLng(-26.2, 28.0))
	d := m.Draft()
	assert.Equal(t, core.ZoneCircle, d.Type)
	assert.Equal(t, 250.0, d.Radius)
	require.Len(t, f.surface.Shapes(), 1, "draft preview")

	m.SetDraftRadius(400)
	d = m.Draft()
	d.Name = "Gate"
	_, err := m.CreateZone(ctx, d)
	require.NoError(t, err)

	assert.Equal(t, 400.0, f.srv.CreatedZones()[0]["w"])
	assert.Empty(t, m.Draft().Points)
	shapes := f.surface.Shapes()
	require.Len(t, shapes, 1)
	assert.Equal(t, "Gate", shapes[0].Style.Label)
}

func TestCreateZone_Validation(t *testing.T) {
	f := setup(t)
	m := New(f.sess, f.client, f.surface)
	ctx := context.Background()
	circle := Draft{Name: "Yard", Type: core.ZoneCircle, Points: []core.ZonePoint{{X: 28, Y: -26.2}}, Radius: 500}

	_, err := m.CreateZone(ctx, circle)
	assert.ErrorIs(t, err, ErrNoResource)

	require.NoError(t, m.SelectResource(ctx, resourceA))

	_, err = m.CreateZone(ctx, Draft{Name: "Yard"})
	assert.ErrorIs(t, err, ErrNoDraft)

	_, err = m.CreateZone(ctx, Draft{Name: "Yard", Type: core.ZonePolygon, Points: circle.Points})
	assert.ErrorIs(t, err, ErrNoDraft)

	blank := circle
	blank.Name = "   "
	_, err = m.CreateZone(ctx, blank)
	assert.ErrorIs(t, err, ErrEmptyName)

	assert.Empty(t, f.srv.CreatedZones())
}

func TestCreateZone_CodeErrorResolved(t *testing.T) {
	f := setup(t)
	f.srv.FailService("resource/update_zone", 7)
	m := New(f.sess, f.client, f.surface)
	ctx := context.Background()
	require.NoError(t, m.SelectResource(ctx, resourceA))

	_, err := m.CreateZone(ctx, Draft{Name: "Yard", Type: core.ZoneCircle, Points: []core.ZonePoint{{X: 28, Y: -26.2}}, Radius: 500})
	var zerr *ZoneError
	require.ErrorAs(t, err, &zerr)
	assert.Equal(t, 7, zerr.Code)
	assert.Equal(t, "Access denied", zerr.Message)
	assert.Empty(t, m.Zones())
}

func TestPolygonDraft(t *testing.T) {
	f := setup(t)
	m := New(f.sess, f.client, f.surface)
	ctx := context.Background()
	require.NoError(t, m.SelectResource(ctx, resourceA))

	m.SetDraftMode(core.ZonePolygon)
	f.surface.ClickMap(mapsurfaceLatLng(-26.0, 28.0))
	f.surface.ClickMap(mapsurfaceLatLng(-26.0, 28.1))
	m.AddDraftVertex(-26.1, 28.1)

	d := m.Draft()
	require.Len(t, d.Points, 3)
	assert.Equal(t, core.ZonePoint{X: 28.1, Y: -26.1}, d.Points[2])

	d.Name = "Block"
	z, err := m.CreateZone(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, core.ZonePolygon, z.Type)
	assert.Len(t, z.Points, 3)

	assert.Equal(t, []core.Zone{z}, m.ZonesContaining(-26.05, 28.08))
	assert.Empty(t, m.ZonesContaining(-27, 28))
}

func TestClearDraft(t *testing.T) {
	f := setup(t)
	m := New(f.sess, f.client, f.surface)

	m.HandleMapClick(-26.2, 28.0)
	require.Len(t, f.surface.Shapes(), 1)

	m.ClearDraft()
	assert.Empty(t, f.surface.Shapes())
	assert.Empty(t, m.Draft().Points)
}

func TestDispose(t *testing.T) {
	f := setup(t)
	f.srv.SetZones(resourceA, circleZone(1, "A1"), polygonZone(2, "A2"))
	m := New(f.sess, f.client, f.surface)
	require.NoError(t, m.SelectResource(context.Background(), resourceA))
	m.HandleMapClick(-26.2, 28.0)
	require.Equal(t, 1, f.surface.MapClickListeners())

	m.Dispose()

	assert.Empty(t, f.surface.Shapes())
	assert.Empty(t, m.Zones())
	assert.Zero(t, m.Selected())
	assert.Equal(t, 0, f.surface.MapClickListeners())
}
