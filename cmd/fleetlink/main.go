// Command fleetlink keeps a map in step with a fleet tracking account: it
// polls unit positions, draws them as markers and manages geofence zones.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/OCAP2/fleetlink/internal/config"
	"github.com/OCAP2/fleetlink/internal/dispatcher"
	"github.com/OCAP2/fleetlink/internal/handlers"
	"github.com/OCAP2/fleetlink/internal/influx"
	"github.com/OCAP2/fleetlink/internal/logging"
	"github.com/OCAP2/fleetlink/internal/mapsurface"
	"github.com/OCAP2/fleetlink/internal/mapsurface/memory"
	"github.com/OCAP2/fleetlink/internal/mapsurface/websocket"
	"github.com/OCAP2/fleetlink/internal/monitor"
	intOtel "github.com/OCAP2/fleetlink/internal/otel"
	"github.com/OCAP2/fleetlink/internal/sdk"
	"github.com/OCAP2/fleetlink/internal/zonecache"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configDir := pflag.StringP("config", "c", ".", "directory containing "+config.FileName)
	token := pflag.String("token", "", "SDK token, overrides sdk.token")
	resource := pflag.Int64("resource", 0, "resource whose zones are shown at start, overrides geofence.resourceId")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("fleetlink %s (%s)\n", Version, BuildDate)
		return
	}

	if err := run(*configDir, *token, *resource); err != nil {
		fmt.Fprintf(os.Stderr, "fleetlink: %v\n", err)
		os.Exit(1)
	}
}

func run(configDir, token string, resource int64) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slogManager := logging.NewSlogManager()
	slogManager.Setup(logging.Options{Level: "info"})
	logger := slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
		if verr := config.Validate(); verr != nil {
			return verr
		}
	} else {
		logger.Info("Loaded config", "dir", configDir)
	}
	if token != "" {
		viper.Set("sdk.token", token)
	}
	if resource > 0 {
		viper.Set("geofence.resourceId", resource)
	}

	logLevel := viper.GetString("logLevel")
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	started := time.Now()
	logFilePath := logging.LogFilePath(logsDir, "fleetlink", started)
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logOut := io.MultiWriter(os.Stdout, logFile)

	// OTel log pipeline
	var otelProvider *intOtel.Provider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		otelProvider, err = intOtel.New(ctx, intOtel.Config{
			Enabled:        true,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: Version,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      logFile,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}
	var otelLogProvider *sdklog.LoggerProvider
	if otelProvider != nil {
		otelLogProvider = otelProvider.LoggerProvider()
	}

	// Graylog
	var gelfWriter logging.GelfWriter
	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := gelf.NewWriter(gl.Address)
		if err != nil {
			logger.Error("Failed to connect to Graylog", "address", gl.Address, "error", err)
		} else {
			w.Facility = logging.ServiceName
			gelfWriter = w
			defer w.Close()
		}
	}

	var app *App
	slogManager.Setup(logging.Options{
		File:     logOut,
		Level:    logLevel,
		Provider: otelLogProvider,
		Gelf:     gelfWriter,
		Context: logging.SessionContext(func() logging.SessionSource {
			if app == nil {
				return nil
			}
			return app
		}),
	})
	logger = slogManager.Logger()
	logger.Info("Starting fleetlink", "version", Version, "buildDate", BuildDate, "logFile", logFilePath)

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := slogManager.Flush(flushCtx); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs: %v\n", err)
		}
		if err := otelProvider.Shutdown(flushCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutting down OTel: %v\n", err)
		}
	}()

	// zone cache
	cacheCfg := config.GetZoneCacheConfig()
	cache, err := zonecache.New(zonecache.Config{
		Backend: cacheCfg.Backend,
		TTL:     cacheCfg.TTL,
		SQLite:  zonecache.SQLiteConfig{Path: cacheCfg.SQLitePath},
		Postgres: zonecache.PostgresConfig{
			Host:     cacheCfg.Postgres.Host,
			Port:     cacheCfg.Postgres.Port,
			Username: cacheCfg.Postgres.Username,
			Password: cacheCfg.Postgres.Password,
			Database: cacheCfg.Postgres.Database,
			SSLMode:  cacheCfg.Postgres.SSLMode,
		},
	}, logging.NewZerolog(logOut, logLevel, "zonecache"))
	if err != nil {
		return fmt.Errorf("opening zone cache: %w", err)
	}
	defer cache.Close()

	// map surface
	surface, closeSurface, err := openSurface(config.GetSurfaceConfig(), slogManager.Component("surface"))
	if err != nil {
		return err
	}
	defer closeSurface()

	sdkCfg := config.GetSDKConfig()
	syncCfg := config.GetSyncConfig()
	gfCfg := config.GetGeofenceConfig()
	app, err = NewApp(ctx, AppOptions{
		SDK: sdk.Config{
			BaseURL:           sdkCfg.BaseURL,
			RequestsPerSecond: sdkCfg.RequestsPerSecond,
			Burst:             sdkCfg.Burst,
			Timeout:           sdkCfg.RequestTimeout,
		},
		ScriptURL:     sdkCfg.ScriptURL,
		LoadTimeout:   sdkCfg.LoadTimeout,
		Token:         sdkCfg.Token,
		SyncFlags:     syncCfg.Flags,
		SyncInterval:  syncCfg.Interval,
		DefaultRadius: gfCfg.DefaultRadius,
		ResourceID:    gfCfg.ResourceID,
		Cache:         cache,
		Surface:       surface,
		Logger:        logger,
		Component:     slogManager.Component,
	})
	if err != nil {
		return err
	}

	if ws, ok := surface.(*websocket.Surface); ok {
		d := app.Dispatcher()
		d.OnResult(func(e dispatcher.Event, result any, err error) {
			ws.SendResult(handlers.Result(e, result, err))
		})
		ws.OnCommand(d.DispatchEnvelope)
	}

	// metrics
	influxManager := openInflux(ctx, config.GetInfluxConfig(), logsDir, logging.NewZerolog(logOut, logLevel, "influx"))
	monDeps := monitor.Dependencies{
		Logger:     slogManager.Component("monitor"),
		Session:    app.Session(),
		Markers:    app.Engine(),
		Zones:      app.Geofence(),
		StatusFile: filepath.Join(logsDir, "status.json"),
		Interval:   config.GetMonitorConfig().Interval,
	}
	if influxManager != nil {
		defer influxManager.Close()
		monDeps.Points = influxManager
		monDeps.Bucket = influxManager.Bucket()
	}
	mon := monitor.NewService(monDeps)
	if err := mon.Start(ctx); err != nil {
		logger.Error("Failed to start status monitor", "error", err)
	}
	defer mon.Stop()

	if err := app.Start(ctx); err != nil {
		logger.Error("Startup failed", "error", err)
	}

	app.Run(ctx)
	logger.Info("Shutting down")

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.Close(closeCtx)
	return nil
}

func openSurface(cfg config.SurfaceConfig, logger *slog.Logger) (mapsurface.Surface, func(), error) {
	switch cfg.Type {
	case "websocket":
		s := websocket.New(websocket.Config{URL: cfg.URL, Secret: cfg.Secret}, logger)
		if err := s.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connecting map surface: %w", err)
		}
		logger.Info("Connected to map front end", "url", cfg.URL)
		return s, func() { _ = s.Close() }, nil
	default:
		logger.Info("Using in-memory map surface")
		return memory.New(), func() {}, nil
	}
}

func openInflux(ctx context.Context, cfg config.InfluxConfig, logsDir string, log zerolog.Logger) *influx.Manager {
	m := influx.NewManager(influx.Config{
		Enabled:  cfg.Enabled,
		Protocol: cfg.Protocol,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Token:    cfg.Token,
		Org:      cfg.Org,
		Bucket:   cfg.Bucket,
	}, log, filepath.Join(logsDir, "influx_backup.log.gz"))

	if err := m.Connect(ctx); err != nil {
		if !errors.Is(err, influx.ErrDisabled) {
			log.Error().Err(err).Msg("InfluxDB unavailable, status points disabled")
		}
		return nil
	}
	return m
}
