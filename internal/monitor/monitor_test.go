package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/fleetlink/internal/mapsync"
	"github.com/OCAP2/fleetlink/pkg/core"
)

type fakeSession struct{}

func (fakeSession) State() core.SessionState { return core.SessionAuthenticated }
func (fakeSession) CurrentUser() *core.User  { return &core.User{ID: 1, Name: "dispatch"} }

type fakeMarkers struct{}

func (fakeMarkers) Markers() []core.Marker { return make([]core.Marker, 3) }
func (fakeMarkers) LastStats() mapsync.SyncStats {
	return mapsync.SyncStats{Created: 1, Moved: 2, Stale: 1, Duration: 1500 * time.Microsecond}
}

type fakeZones struct{}

func (fakeZones) Selected() int64     { return 42 }
func (fakeZones) Zones() []core.Zone { return make([]core.Zone, 2) }

type recordingWriter struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
	bucket string
}

func (w *recordingWriter) WritePoint(_ context.Context, bucket string, p *influxdb2_write.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bucket = bucket
	w.points = append(w.points, p)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.points)
}

func TestGetStatus(t *testing.T) {
	s := NewService(Dependencies{Session: fakeSession{}, Markers: fakeMarkers{}, Zones: fakeZones{}})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	st := s.GetStatus()
	assert.Equal(t, Status{
		Time:             fixed,
		Session:          "authenticated",
		User:             "dispatch",
		Markers:          3,
		SelectedResource: 42,
		Zones:            2,
		LastSync:         SyncInfo{Created: 1, Moved: 2, Stale: 1, DurationMs: 1.5},
	}, st)
}

func TestGetStatus_NoSources(t *testing.T) {
	st := NewService(Dependencies{}).GetStatus()
	assert.Equal(t, "idle", st.Session)
	assert.Zero(t, st.Markers)
}

func TestRecordWritesFileAndPoint(t *testing.T) {
	w := &recordingWriter{}
	path := filepath.Join(t.TempDir(), "status.json")
	s := NewService(Dependencies{
		Session:    fakeSession{},
		Markers:    fakeMarkers{},
		Zones:      fakeZones{},
		Points:     w,
		Bucket:     "fleetlink",
		StatusFile: path,
	})

	s.Record(context.Background())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, 3, st.Markers)
	assert.Equal(t, int64(42), st.SelectedResource)

	require.Equal(t, 1, w.count())
	assert.Equal(t, "fleetlink", w.bucket)
	assert.Equal(t, Measurement, w.points[0].Name())
}

func TestPoint(t *testing.T) {
	p := Point(Status{Time: time.Unix(0, 7), Session: "error", Markers: 4})
	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	assert.Contains(t, line, "fleetlink_status,session=error ")
	assert.Contains(t, line, "markers=4i")
}

func TestStartStop(t *testing.T) {
	w := &recordingWriter{}
	s := NewService(Dependencies{Points: w, Interval: 5 * time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return w.count() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	n := w.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, w.count())

	s.Stop()
}

func TestStopsWithContext(t *testing.T) {
	s := NewService(Dependencies{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	cancel()
	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 5*time.Millisecond)
}
