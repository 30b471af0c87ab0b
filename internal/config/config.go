// Package config loads fleetlink.cfg.json through viper and exposes typed,
// validated views of it.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "fleetlink.cfg.json"

// SDKConfig holds remote API settings.
type SDKConfig struct {
	BaseURL           string        `mapstructure:"baseUrl" validate:"required,url"`
	ScriptURL         string        `mapstructure:"scriptUrl" validate:"required,url"`
	Token             string        `mapstructure:"token"`
	LoadTimeout       time.Duration `mapstructure:"loadTimeout" validate:"gt=0"`
	RequestTimeout    time.Duration `mapstructure:"requestTimeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requestsPerSecond" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
}

// SyncConfig holds unit polling settings.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Flags    uint64        `mapstructure:"flags"`
}

// GeofenceConfig holds zone drawing settings.
type GeofenceConfig struct {
	DefaultRadius float64 `mapstructure:"defaultRadius" validate:"gt=0"`
	ResourceID    int64   `mapstructure:"resourceId" validate:"gte=0"`
}

// PostgresConfig holds zone cache database settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslMode"`
}

// ZoneCacheConfig holds zone cache settings.
type ZoneCacheConfig struct {
	Backend    string         `mapstructure:"backend" validate:"oneof=memory sqlite postgres"`
	TTL        time.Duration  `mapstructure:"ttl" validate:"gte=0"`
	SQLitePath string         `mapstructure:"sqlitePath"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// SurfaceConfig selects where markers and zones are drawn.
type SurfaceConfig struct {
	Type   string `mapstructure:"type" validate:"oneof=memory websocket"`
	URL    string `mapstructure:"url" validate:"required_if=Type websocket,omitempty,url"`
	Secret string `mapstructure:"secret"`
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     string `mapstructure:"port"`
	Protocol string `mapstructure:"protocol" validate:"oneof=http https"`
	Token    string `mapstructure:"token"`
	Org      string `mapstructure:"org"`
	Bucket   string `mapstructure:"bucket" validate:"required_if=Enabled true"`
}

// GraylogConfig holds GELF output settings.
type GraylogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ServiceName  string        `mapstructure:"serviceName"`
	BatchTimeout time.Duration `mapstructure:"batchTimeout" validate:"gte=0"`
	Endpoint     string        `mapstructure:"endpoint"`
	Insecure     bool          `mapstructure:"insecure"`
}

// MonitorConfig holds status reporting settings.
type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("sdk.baseUrl", "https://hst-api.wialon.com")
	viper.SetDefault("sdk.scriptUrl", "https://hst-api.wialon.com/wialon/js/wialon.js")
	viper.SetDefault("sdk.token", "")
	viper.SetDefault("sdk.loadTimeout", "15s")
	viper.SetDefault("sdk.requestTimeout", "30s")
	viper.SetDefault("sdk.requestsPerSecond", 10)
	viper.SetDefault("sdk.burst", 5)

	viper.SetDefault("sync.interval", "10s")
	viper.SetDefault("sync.flags", 0)

	viper.SetDefault("geofence.defaultRadius", 500)
	viper.SetDefault("geofence.resourceId", 0)

	viper.SetDefault("zoneCache.backend", "memory")
	viper.SetDefault("zoneCache.ttl", "5m")
	viper.SetDefault("zoneCache.sqlitePath", "")
	viper.SetDefault("zoneCache.postgres.host", "localhost")
	viper.SetDefault("zoneCache.postgres.port", 5432)
	viper.SetDefault("zoneCache.postgres.username", "postgres")
	viper.SetDefault("zoneCache.postgres.password", "postgres")
	viper.SetDefault("zoneCache.postgres.database", "fleetlink")
	viper.SetDefault("zoneCache.postgres.sslMode", "disable")

	viper.SetDefault("surface.type", "memory")
	viper.SetDefault("surface.url", "")
	viper.SetDefault("surface.secret", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "fleetlink")
	viper.SetDefault("influx.bucket", "fleetlink")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "fleetlink")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.interval", "1m")
}

// Load reads configuration from JSON file and sets default values, then
// validates it. configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return Validate()
}

// Validate checks every typed section.
func Validate() error {
	v := validator.New()
	sections := []struct {
		name string
		cfg  any
	}{
		{"sdk", GetSDKConfig()},
		{"sync", GetSyncConfig()},
		{"geofence", GetGeofenceConfig()},
		{"zoneCache", GetZoneCacheConfig()},
		{"surface", GetSurfaceConfig()},
		{"influx", GetInfluxConfig()},
		{"graylog", GetGraylogConfig()},
		{"otel", GetOTelConfig()},
		{"monitor", GetMonitorConfig()},
	}
	for _, s := range sections {
		if err := v.Struct(s.cfg); err != nil {
			return fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetSDKConfig returns remote API settings.
func GetSDKConfig() SDKConfig {
	return SDKConfig{
		BaseURL:           viper.GetString("sdk.baseUrl"),
		ScriptURL:         viper.GetString("sdk.scriptUrl"),
		Token:             viper.GetString("sdk.token"),
		LoadTimeout:       viper.GetDuration("sdk.loadTimeout"),
		RequestTimeout:    viper.GetDuration("sdk.requestTimeout"),
		RequestsPerSecond: viper.GetFloat64("sdk.requestsPerSecond"),
		Burst:             viper.GetInt("sdk.burst"),
	}
}

// GetSyncConfig returns unit polling settings.
func GetSyncConfig() SyncConfig {
	return SyncConfig{
		Interval: viper.GetDuration("sync.interval"),
		Flags:    viper.GetUint64("sync.flags"),
	}
}

// GetGeofenceConfig returns zone drawing settings.
func GetGeofenceConfig() GeofenceConfig {
	return GeofenceConfig{
		DefaultRadius: viper.GetFloat64("geofence.defaultRadius"),
		ResourceID:    viper.GetInt64("geofence.resourceId"),
	}
}

// GetZoneCacheConfig returns zone cache settings.
func GetZoneCacheConfig() ZoneCacheConfig {
	return ZoneCacheConfig{
		Backend:    viper.GetString("zoneCache.backend"),
		TTL:        viper.GetDuration("zoneCache.ttl"),
		SQLitePath: viper.GetString("zoneCache.sqlitePath"),
		Postgres: PostgresConfig{
			Host:     viper.GetString("zoneCache.postgres.host"),
			Port:     viper.GetInt("zoneCache.postgres.port"),
			Username: viper.GetString("zoneCache.postgres.username"),
			Password: viper.GetString("zoneCache.postgres.password"),
			Database: viper.GetString("zoneCache.postgres.database"),
			SSLMode:  viper.GetString("zoneCache.postgres.sslMode"),
		},
	}
}

// GetSurfaceConfig returns map surface settings.
func GetSurfaceConfig() SurfaceConfig {
	return SurfaceConfig{
		Type:   viper.GetString("surface.type"),
		URL:    viper.GetString("surface.url"),
		Secret: viper.GetString("surface.secret"),
	}
}

// GetInfluxConfig returns InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns GELF output settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetMonitorConfig returns status reporting settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: viper.GetDuration("monitor.interval"),
	}
}
