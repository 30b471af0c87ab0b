package influx

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(Config{Enabled: false, Bucket: "fleetlink"}, zerolog.Nop(), "")
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
}

func TestConfigURL(t *testing.T) {
	c := Config{Protocol: "https", Host: "influx.local", Port: "8086"}
	assert.Equal(t, "https://influx.local:8086", c.URL())
}

func TestUnreachableServerWritesBackup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	host, port, _ := strings.Cut(strings.TrimPrefix(srv.URL, "http://"), ":")
	backup := filepath.Join(t.TempDir(), "influx_backup.log.gz")

	m := NewManager(Config{
		Enabled:  true,
		Protocol: "http",
		Host:     host,
		Port:     port,
		Org:      "fleetlink",
		Bucket:   "fleetlink",
	}, zerolog.Nop(), backup)

	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.IsValid)

	p := influxdb2_write.NewPoint("fleetlink_status",
		map[string]string{"session": "authenticated"},
		map[string]any{"units": 3},
		time.Unix(0, 42),
	)
	require.NoError(t, m.WritePoint(context.Background(), m.Bucket(), p))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(data), "fleetlink_status,session=authenticated units=3i 42"), string(data))
}

func TestWritePoint_NoWriter(t *testing.T) {
	m := NewManager(Config{Bucket: "fleetlink"}, zerolog.Nop(), "")
	err := m.WritePoint(context.Background(), "fleetlink", influxdb2_write.NewPointWithMeasurement("x"))
	assert.Error(t, err)
}
