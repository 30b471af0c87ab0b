// Package monitor periodically records the daemon's status.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/OCAP2/fleetlink/internal/mapsync"
	"github.com/OCAP2/fleetlink/pkg/core"
)

// Measurement is the InfluxDB measurement status points are written to.
const Measurement = "fleetlink_status"

// Session reports authentication state.
type Session interface {
	State() core.SessionState
	CurrentUser() *core.User
}

// Markers reports the unit overlay.
type Markers interface {
	Markers() []core.Marker
	LastStats() mapsync.SyncStats
}

// Zones reports the zone overlay.
type Zones interface {
	Selected() int64
	Zones() []core.Zone
}

// PointWriter stores status points.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger     *slog.Logger
	Session    Session
	Markers    Markers
	Zones      Zones
	Points     PointWriter
	Bucket     string
	StatusFile string
	Interval   time.Duration
}

// Status is one snapshot of the daemon.
type Status struct {
	Time             time.Time `json:"time"`
	Session          string    `json:"session"`
	User             string    `json:"user,omitempty"`
	Markers          int       `json:"markers"`
	SelectedResource int64     `json:"selectedResource"`
	Zones            int       `json:"zones"`
	LastSync         SyncInfo  `json:"lastSync"`
}

// SyncInfo is the outcome of the last map sync.
type SyncInfo struct {
	Created    int     `json:"created"`
	Moved      int     `json:"moved"`
	Removed    int     `json:"removed"`
	Skipped    int     `json:"skipped"`
	Stale      int     `json:"stale"`
	DurationMs float64 `json:"durationMs"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
	now       func() time.Time
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Minute
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus collects the current status.
func (s *Service) GetStatus() Status {
	st := Status{Time: s.now(), Session: core.SessionIdle.String()}

	if s.deps.Session != nil {
		st.Session = s.deps.Session.State().String()
		if u := s.deps.Session.CurrentUser(); u != nil {
			st.User = u.Name
		}
	}
	if s.deps.Markers != nil {
		st.Markers = len(s.deps.Markers.Markers())
		last := s.deps.Markers.LastStats()
		st.LastSync = SyncInfo{
			Created:    last.Created,
			Moved:      last.Moved,
			Removed:    last.Removed,
			Skipped:    last.Skipped,
			Stale:      last.Stale,
			DurationMs: float64(last.Duration.Microseconds()) / 1000,
		}
	}
	if s.deps.Zones != nil {
		st.SelectedResource = s.deps.Zones.Selected()
		st.Zones = len(s.deps.Zones.Zones())
	}
	return st
}

// Point converts a status to an InfluxDB point.
func Point(st Status) *influxdb2_write.Point {
	return influxdb2_write.NewPoint(Measurement,
		map[string]string{"session": st.Session},
		map[string]any{
			"markers":          st.Markers,
			"zones":            st.Zones,
			"selectedResource": st.SelectedResource,
			"syncCreated":      st.LastSync.Created,
			"syncMoved":        st.LastSync.Moved,
			"syncRemoved":      st.LastSync.Removed,
			"syncSkipped":      st.LastSync.Skipped,
			"syncStale":        st.LastSync.Stale,
			"syncDurationMs":   st.LastSync.DurationMs,
		},
		st.Time,
	)
}

// Record takes one snapshot and writes it to every configured output.
func (s *Service) Record(ctx context.Context) Status {
	st := s.GetStatus()
	logger := s.deps.Logger

	logger.Debug("Status",
		"session", st.Session,
		"markers", st.Markers,
		"zones", st.Zones,
		"selectedResource", st.SelectedResource,
		"syncDurationMs", st.LastSync.DurationMs,
	)

	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, st); err != nil {
			logger.Error("Error writing status file", "error", err)
		}
	}

	if s.deps.Points != nil {
		if err := s.deps.Points.WritePoint(ctx, s.deps.Bucket, Point(st)); err != nil {
			logger.Error("Error writing status point", "error", err)
		}
	}
	return st
}

func writeStatusFile(path string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Start starts the status monitor goroutine
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		s.deps.Logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Record(ctx)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
