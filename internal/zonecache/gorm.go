package zonecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/OCAP2/fleetlink/internal/geo"
	"github.com/OCAP2/fleetlink/pkg/core"
)

// ResourceEntry marks a resource as cached, including resources with no zones.
type ResourceEntry struct {
	ResourceID int64     `gorm:"primaryKey;autoIncrement:false"`
	CachedAt   time.Time `gorm:"index"`
}

func (ResourceEntry) TableName() string { return "zone_cache_resources" }

// ZoneEntry is one cached zone. Points keeps the zone as received; Shape is
// its EPSG:3857 WKB geometry, empty when the zone has none.
type ZoneEntry struct {
	ID         uint  `gorm:"primaryKey"`
	ResourceID int64 `gorm:"index:idx_zone_cache_resource"`
	Ordinal    int
	ZoneID     int64
	Name       string `gorm:"size:255"`
	Type       int
	Width      float64
	Color      int64
	Points     datatypes.JSON
	Shape      []byte
}

func (ZoneEntry) TableName() string { return "zone_cache_zones" }

// Gorm is a Store backed by a SQL database.
type Gorm struct {
	db  *gorm.DB
	ttl time.Duration
	log zerolog.Logger
	now func() time.Time
}

// NewGorm migrates the cache tables and returns the store.
func NewGorm(db *gorm.DB, ttl time.Duration, log zerolog.Logger) (*Gorm, error) {
	if err := db.AutoMigrate(&ResourceEntry{}, &ZoneEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate zone cache schema: %w", err)
	}
	return &Gorm{db: db, ttl: ttl, log: log, now: time.Now}, nil
}

func (g *Gorm) Get(ctx context.Context, resourceID int64) ([]core.Zone, bool, error) {
	var res ResourceEntry
	err := g.db.WithContext(ctx).First(&res, "resource_id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached resource %d: %w", resourceID, err)
	}
	if expired(res.CachedAt, g.ttl, g.now()) {
		return nil, false, nil
	}

	var rows []ZoneEntry
	if err := g.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("ordinal").
		Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("read cached zones of %d: %w", resourceID, err)
	}

	zones := make([]core.Zone, 0, len(rows))
	for _, r := range rows {
		var points []core.ZonePoint
		if len(r.Points) > 0 {
			if err := json.Unmarshal(r.Points, &points); err != nil {
				return nil, false, fmt.Errorf("decode points of zone %d: %w", r.ZoneID, err)
			}
		}
		zones = append(zones, core.Zone{
			ID:         r.ZoneID,
			Name:       r.Name,
			Type:       core.ZoneType(r.Type),
			Width:      r.Width,
			Color:      uint32(r.Color),
			Points:     points,
			ResourceID: resourceID,
		})
	}
	return zones, true, nil
}

func (g *Gorm) Put(ctx context.Context, resourceID int64, zones []core.Zone) error {
	rows := make([]ZoneEntry, 0, len(zones))
	for i, z := range zones {
		points, err := json.Marshal(z.Points)
		if err != nil {
			return fmt.Errorf("encode points of zone %d: %w", z.ID, err)
		}
		shape, err := geo.WKB(z)
		if err != nil {
			g.log.Debug().Err(err).Int64("zoneId", z.ID).Msg("Caching zone without shape")
			shape = nil
		}
		rows = append(rows, ZoneEntry{
			ResourceID: resourceID,
			Ordinal:    i,
			ZoneID:     z.ID,
			Name:       z.Name,
			Type:       int(z.Type),
			Width:      z.Width,
			Color:      int64(z.Color),
			Points:     datatypes.JSON(points),
			Shape:      shape,
		})
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", resourceID).Delete(&ZoneEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Save(&ResourceEntry{ResourceID: resourceID, CachedAt: g.now()}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("cache zones of %d: %w", resourceID, err)
	}

	g.log.Debug().Int64("resourceId", resourceID).Int("zones", len(rows)).Msg("Cached zones")
	return nil
}

func (g *Gorm) Invalidate(ctx context.Context, resourceID int64) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", resourceID).Delete(&ZoneEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("resource_id = ?", resourceID).Delete(&ResourceEntry{}).Error
	})
	if err != nil {
		return fmt.Errorf("invalidate zones of %d: %w", resourceID, err)
	}
	return nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
