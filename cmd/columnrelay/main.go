// Column Relay - Session Broker for Distillation Column Controllers
//
// This is the main entry point for the Column Relay application.
// The relay bridges NAT-bound ESP32 column controllers and supervisory
// clients over WebSocket, with:
//   - Presence tracking and a REST presence API
//   - A durable per-device command queue for offline controllers
//   - Heartbeat supervision of every connection
//   - Optional MQTT and InfluxDB mirrors for ops tooling
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spiritcontrol/column-relay/internal/api"
	"github.com/spiritcontrol/column-relay/internal/infrastructure/config"
	"github.com/spiritcontrol/column-relay/internal/infrastructure/database"
	"github.com/spiritcontrol/column-relay/internal/infrastructure/influxdb"
	"github.com/spiritcontrol/column-relay/internal/infrastructure/logging"
	"github.com/spiritcontrol/column-relay/internal/infrastructure/mqtt"
	"github.com/spiritcontrol/column-relay/internal/queue"
	"github.com/spiritcontrol/column-relay/internal/relay"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
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
	log.Info("starting Column Relay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
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

	// Open the queue database. Storage trouble must not keep the fleet
	// unreachable: on failure the relay runs with an in-memory queue and
	// queued commands simply stop surviving restarts.
	var repo queue.Repository
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		log.Warn("queue database unavailable, running with in-memory queue", "error", err)
	} else {
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		sqlRepo, repoErr := queue.NewSQLiteRepository(db.DB)
		if repoErr != nil {
			return fmt.Errorf("preparing command queue schema: %w", repoErr)
		}
		repo = sqlRepo
	}

	// Command queue store (restores persisted backlogs on startup)
	store := queue.NewStore(cfg.Queue.PerDeviceCap, repo)
	store.SetLogger(log)
	store.Load(ctx)

	// Connection registry
	registry := relay.NewRegistry()
	registry.SetLogger(log)

	// Optional mirrors feed relay events to ops tooling
	var observers relay.MultiObserver

	// MQTT ops mirror (optional)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		mirror := newMQTTMirror(mqttClient, log)
		defer mirror.Close()
		observers = append(observers, mirror)
	} else {
		log.Info("MQTT mirror disabled")
	}

	// InfluxDB telemetry recorder (optional)
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

		observers = append(observers, newTelemetryRecorder(influxClient, log))
	} else {
		log.Info("telemetry recorder disabled")
	}

	var observer relay.Observer = relay.NopObserver{}
	if len(observers) > 0 {
		observer = observers
	}

	// Relay server (REST API + WebSocket endpoints)
	server, err := api.New(api.Deps{
		Config:   cfg.Relay,
		WS:       cfg.WebSocket,
		Auth:     cfg.Auth,
		Queue:    cfg.Queue,
		Logger:   log,
		Registry: registry,
		Store:    store,
		Observer: observer,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating relay server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting relay server: %w", err)
	}
	defer func() {
		log.Info("stopping relay server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing relay server", "error", closeErr)
		}
	}()

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"addr", fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port),
	)

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Relay server (drains HTTP, closes relay connections)
	// 2. InfluxDB (if enabled)
	// 3. MQTT mirror and client (if enabled)
	// 4. Database

	log.Info("Column Relay stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses COLUMNRELAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("COLUMNRELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
// Any of the clients may be nil when the component is disabled or degraded.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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

	return nil
}
