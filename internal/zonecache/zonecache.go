// Package zonecache keeps the zones of recently selected resources so that
// reselecting a resource does not refetch them. It is a cache, not a history
// store: entries are replaced wholesale and dropped on invalidation.
package zonecache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/OCAP2/fleetlink/pkg/core"
)

// Store is a zone cache keyed by resource id.
type Store interface {
	// Get returns the cached zones of a resource. ok is false on a miss or
	// an expired entry.
	Get(ctx context.Context, resourceID int64) (zones []core.Zone, ok bool, err error)
	// Put replaces the cached zones of a resource.
	Put(ctx context.Context, resourceID int64, zones []core.Zone) error
	// Invalidate drops a resource's entry.
	Invalidate(ctx context.Context, resourceID int64) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend  string // memory, sqlite or postgres
	TTL      time.Duration
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

// SQLiteConfig configures the sqlite backend. An empty Path uses a shared
// in-memory database.
type SQLiteConfig struct {
	Path string
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSLMode  string
}

// New creates the configured backend.
func New(cfg Config, log zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "sqlite":
		db, err := OpenSQLite(cfg.SQLite.Path, log)
		if err != nil {
			return nil, fmt.Errorf("open sqlite zone cache: %w", err)
		}
		return NewGorm(db, cfg.TTL, log)
	case "postgres":
		db, err := OpenPostgres(cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("open postgres zone cache: %w", err)
		}
		return NewGorm(db, cfg.TTL, log)
	default:
		return nil, fmt.Errorf("unknown zone cache backend: %s", cfg.Backend)
	}
}

func expired(cachedAt time.Time, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(cachedAt) > ttl
}

func cloneZones(zones []core.Zone) []core.Zone {
	out := make([]core.Zone, len(zones))
	for i, z := range zones {
		z.Points = append([]core.ZonePoint(nil), z.Points...)
		out[i] = z
	}
	return out
}
