package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		desc    string
		logsDir string
		name    string
		want    string
	}{
		{
			desc:    "basic path",
			logsDir: "logs",
			name:    "fleetlink",
			want:    filepath.Join("logs", "fleetlink.20260212_213836.log"),
		},
		{
			desc:    "relative path with dot",
			logsDir: "./logs",
			name:    "fleetlink",
			want:    filepath.Join(".", "logs", "fleetlink.20260212_213836.log"),
		},
		{
			desc:    "absolute path",
			logsDir: filepath.Join("/var", "log", "fleetlink"),
			name:    "fleetlink",
			want:    filepath.Join("/var", "log", "fleetlink", "fleetlink.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.name, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContextHandler_InjectsAttrs(t *testing.T) {
	var buf bytes.Buffer
	user := "ops"
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Level: "info", Context: func() []slog.Attr {
		return []slog.Attr{slog.String("user", user)}
	}})

	m.Logger().Info("first")
	user = "admin"
	m.Component("mapsync").Info("second")

	out := buf.String()
	assert.Contains(t, out, "msg=first user=ops")
	assert.Contains(t, out, "component=mapsync user=admin")
}

func TestNewZerolog(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "WARN", "zonecache")

	log.Info().Msg("hidden")
	log.Warn().Int("zones", 3).Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "zonecache", entry["component"])
	assert.Equal(t, float64(3), entry["zones"])
}

func TestNewZerolog_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "", "influx")
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

type fakeSession struct{ state, user string }

func (s fakeSession) StateName() string { return s.state }
func (s fakeSession) UserName() string  { return s.user }

func TestSessionContext(t *testing.T) {
	var src SessionSource
	provider := SessionContext(func() SessionSource { return src })

	assert.Nil(t, provider())

	src = fakeSession{state: "idle"}
	assert.Equal(t, []slog.Attr{slog.String("session", "idle")}, provider())

	src = fakeSession{state: "authenticated", user: "ops"}
	assert.Equal(t, []slog.Attr{
		slog.String("session", "authenticated"),
		slog.String("user", "ops"),
	}, provider())
}
