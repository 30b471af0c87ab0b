package units

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/fleetlink/internal/loader"
	"github.com/OCAP2/fleetlink/internal/sdk"
	"github.com/OCAP2/fleetlink/internal/sdk/sdktest"
	"github.com/OCAP2/fleetlink/internal/session"
)

func loggedIn(t *testing.T, srv *sdktest.Server) (*session.Manager, *sdk.Client) {
	t.Helper()
	srv.AddToken("VALIDTOKEN", 1, "ops")
	client := sdk.New(sdk.Config{BaseURL: srv.URL})
	sess := session.New(loader.New(client, srv.ScriptURL(), time.Second, nil), client, srv.URL, nil)
	_, err := sess.Login(context.Background(), "VALIDTOKEN")
	require.NoError(t, err)
	return sess, client
}

func TestDefaultFlags(t *testing.T) {
	assert.NotZero(t, DefaultFlags&FlagBase)
	assert.NotZero(t, DefaultFlags&FlagSensors)
	assert.NotZero(t, DefaultFlags&FlagLastMessage)
	assert.NotZero(t, DefaultFlags&FlagLastPosition)

	r := New(nil, nil, 0, nil)
	assert.Equal(t, DefaultFlags, r.Flags())
}

func TestLoad_RequiresSession(t *testing.T) {
	srv := sdktest.New()
	defer srv.Close()
	client := sdk.New(sdk.Config{BaseURL: srv.URL})
	sess := session.New(loader.New(client, srv.ScriptURL(), time.Second, nil), client, srv.URL, nil)

	r := New(sess, client, 0, nil)
	_, err := r.Load(context.Background())
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
	assert.Equal(t, 0, srv.Calls("core/update_data_flags"))
}

func TestLoad_MapsUnits(t *testing.T) {
	srv := sdktest.New()
	defer srv.Close()
	srv.SetUnits(
		map[string]any{"id": 1, "nm": "Truck 1", "uid": "A1", "uri": "/img/1.png",
			"pos": map[string]any{"x": 28.0, "y": -26.2, "s": 40, "c": 90, "t": 1700000000}},
		map[string]any{"id": 2, "nm": "Truck 2", "uid": "A2"},
	)
	sess, client := loggedIn(t, srv)

	r := New(sess, client, 0, nil)
	units, err := r.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, 1, srv.Calls("core/update_data_flags"))

	u1 := r.Unit(1)
	require.NotNil(t, u1)
	assert.Equal(t, "Truck 1", u1.Name)
	require.NotNil(t, u1.Position)
	assert.Equal(t, -26.2, u1.Position.Lat)
	assert.Equal(t, srv.URL+"/img/1.png?b=32", u1.IconURL)

	u2 := r.Unit(2)
	require.NotNil(t, u2)
	assert.Nil(t, u2.Position)

	assert.Nil(t, r.Unit(404))
	assert.False(t, r.LoadedAt().IsZero())
}

func TestLoad_SnapshotReplacedWholesale(t *testing.T) {
	srv := sdktest.New()
	defer srv.Close()
	srv.SetUnits(map[string]any{"id": 1}, map[string]any{"id": 2})
	sess, client := loggedIn(t, srv)

	r := New(sess, client, 0, nil)
	_, err := r.Load(context.Background())
	require.NoError(t, err)

	srv.SetUnits(map[string]any{"id": 2, "nm": "renamed"})
	units, err := r.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Nil(t, r.Unit(1))
	assert.Equal(t, "renamed", r.Unit(2).Name)
}

func TestLoad_CodeError(t *testing.T) {
	srv := sdktest.New()
	defer srv.Close()
	sess, client := loggedIn(t, srv)
	srv.FailService("core/update_data_flags", 7)

	r := New(sess, client, 0, nil)
	_, err := r.Load(context.Background())

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, 7, loadErr.Code)
	assert.Equal(t, "Access denied", loadErr.Message)
}

func TestUnit_ReturnsCopy(t *testing.T) {
	srv := sdktest.New()
	defer srv.Close()
	srv.SetUnits(map[string]any{"id": 1, "nm": "orig"})
	sess, client := loggedIn(t, srv)

	r := New(sess, client, 0, nil)
	_, err := r.Load(context.Background())
	require.NoError(t, err)

	u := r.Unit(1)
	u.Name = "mutated"
	assert.Equal(t, "orig", r.Unit(1).Name)
}
