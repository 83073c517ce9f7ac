// HTD Core - Bluetooth thermometer health monitoring service
//
// This is the main entry point for the HTD Core application. HTD Core
// pairs with a BLE thermometer, imports its stored history, polls live
// temperature readings and serves both over a local REST/WebSocket API,
// with optional MQTT and InfluxDB telemetry mirrors.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/takniatech/htd-core/migrations"

	"github.com/takniatech/htd-core/internal/api"
	"github.com/takniatech/htd-core/internal/infrastructure/config"
	"github.com/takniatech/htd-core/internal/infrastructure/database"
	"github.com/takniatech/htd-core/internal/infrastructure/influxdb"
	"github.com/takniatech/htd-core/internal/infrastructure/logging"
	"github.com/takniatech/htd-core/internal/infrastructure/mqtt"
	"github.com/takniatech/htd-core/internal/peripheral/ble"
	"github.com/takniatech/htd-core/internal/reading"
	"github.com/takniatech/htd-core/internal/session"
	"github.com/takniatech/htd-core/internal/settings"
	"github.com/takniatech/htd-core/internal/user"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting HTD Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Core domain wiring: reading registry and settings store
	registry := reading.NewRegistry(reading.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	store := settings.NewStore(db.DB)
	users := user.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker (optional telemetry mirror)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		registry.AddSink(mqtt.NewReadingSink(mqttClient))
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional time-series mirror)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		registry.AddSink(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the device session (optional, needs a vendor codec binding)
	var sessionMgr *session.Manager
	if cfg.Bluetooth.Enabled {
		sessionMgr, err = startSession(ctx, cfg, registry, store, mqttClient, log)
		if err != nil {
			return fmt.Errorf("starting device session: %w", err)
		}
		if sessionMgr != nil {
			defer func() {
				log.Info("stopping device session")
				sessionMgr.Close()
			}()
		}
	} else {
		log.Info("bluetooth disabled")
	}

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Users:    users,
		Readings: registry,
		Settings: store,
		Session:  sessionMgr,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Restore the previous session: logged-in user and, if a device was
	// paired before, a reconnect attempt.
	if sessionMgr != nil {
		restoreSession(ctx, sessionMgr, store, log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("HTD Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HTDCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HTDCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startSession wires the BLE adapter and session manager. A missing
// vendor codec is not fatal: the service runs with storage and API only.
func startSession(
	ctx context.Context,
	cfg *config.Config,
	registry *reading.Registry,
	store *settings.Store,
	mqttClient *mqtt.Client,
	log *logging.Logger,
) (*session.Manager, error) {
	codec := ble.DefaultCodec()
	if codec == nil {
		log.Warn("bluetooth enabled but no vendor codec is linked in; device support disabled")
		return nil, nil
	}

	adapter, err := ble.New(codec, ble.Config{
		DataMarker:     cfg.Bluetooth.DataMarker,
		ConnectTimeout: cfg.Bluetooth.ConnectDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating BLE adapter: %w", err)
	}
	adapter.SetLogger(log)

	mgr := session.NewManager(adapter, registry, store, session.Config{
		PollInterval: cfg.Bluetooth.PollInterval(),
		DedupEpsilon: cfg.Bluetooth.DedupEpsilon,
		ScanTimeout:  cfg.Bluetooth.ScanDuration(),
	})
	mgr.SetLogger(log)
	if mqttClient != nil {
		mgr.AddStatusSink(mqtt.NewStatusSink(mqttClient))
	}

	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting session manager: %w", err)
	}
	log.Info("device session started",
		"poll_interval", cfg.Bluetooth.PollInterval(),
		"scan_timeout", cfg.Bluetooth.ScanDuration(),
	)
	return mgr, nil
}

// restoreSession reapplies the persisted login and device pairing.
// Failures here degrade to a fresh session rather than aborting startup.
func restoreSession(ctx context.Context, mgr *session.Manager, store *settings.Store, log *logging.Logger) {
	if userID, err := store.UserID(ctx); err == nil {
		mgr.SetCurrentUser(userID)
		log.Info("restored logged-in user", "user_id", userID)
	}

	if err := mgr.ReconnectLast(ctx); err != nil {
		log.Warn("reconnecting to last device", "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional clients may be nil when their feature is disabled.
func healthCheck(
	ctx context.Context,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	apiServer *api.Server,
) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
