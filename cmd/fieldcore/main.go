// Fieldcore - HVAC Fleet Telemetry Backbone
//
// This is the main entry point for the Fieldcore service. Fieldcore
// ingests heartbeats and point readings from field gateways, keeps the
// full measurement history in time-partitioned, compressed storage, and
// serves the read views dashboards poll.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ventra-io/fieldcore/migrations"

	"github.com/ventra-io/fieldcore/internal/api"
	"github.com/ventra-io/fieldcore/internal/audit"
	"github.com/ventra-io/fieldcore/internal/catalog"
	"github.com/ventra-io/fieldcore/internal/devstate"
	"github.com/ventra-io/fieldcore/internal/infrastructure/config"
	"github.com/ventra-io/fieldcore/internal/infrastructure/database"
	"github.com/ventra-io/fieldcore/internal/infrastructure/logging"
	"github.com/ventra-io/fieldcore/internal/infrastructure/mqtt"
	"github.com/ventra-io/fieldcore/internal/ingest"
	"github.com/ventra-io/fieldcore/internal/maintenance"
	"github.com/ventra-io/fieldcore/internal/mlog"
	"github.com/ventra-io/fieldcore/internal/views"
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
	log.Info("starting Fieldcore",
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

	// Open database
	db, err := database.Open(database.Config{
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Core components
	catalogRepo := catalog.NewSQLiteRepository(db.DB)
	stateStore := devstate.NewStore(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	measurementLog, err := mlog.New(db.DB, cfg.Log, log)
	if err != nil {
		return fmt.Errorf("creating measurement log: %w", err)
	}
	defer measurementLog.Close()
	log.Info("measurement log ready",
		"chunk_window_hours", cfg.Log.ChunkWindowHours,
		"site_buckets", cfg.Log.SiteBuckets,
		"retention_hours", cfg.Log.RetentionHours,
	)

	viewSvc := views.NewService(db.DB, measurementLog, cfg.Views, log)
	ingestSvc := ingest.NewService(catalogRepo, stateStore, measurementLog, log)

	// Maintenance cycles (compression, retention, view refresh)
	scheduler, err := maintenance.NewScheduler(cfg.Maintenance, cfg.Views, measurementLog, viewSvc, log)
	if err != nil {
		return fmt.Errorf("creating maintenance scheduler: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Connect to MQTT broker (optional ingestion transport)
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

		subscriber := ingest.NewSubscriber(ingestSvc, mqttClient, log)
		if subErr := subscriber.Start(); subErr != nil {
			return fmt.Errorf("starting MQTT subscriber: %w", subErr)
		}
		log.Info("MQTT ingestion subscribed")
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Catalog: catalogRepo,
		States:  stateStore,
		Ingest:  ingestSvc,
		Log:     measurementLog,
		Views:   viewSvc,
		Audit:   auditRepo,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server listening", "host", cfg.API.Host, "port", cfg.API.Port)

	// Prime the latest view so the first dashboard poll after a restart
	// is not empty.
	if refreshErr := viewSvc.RefreshLatest(ctx); refreshErr != nil {
		log.Warn("initial view refresh failed", "error", refreshErr)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, server, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. MQTT (if enabled)
	// 3. Maintenance scheduler
	// 4. Measurement log codec
	// 5. Database

	log.Info("Fieldcore stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FIELDCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FIELDCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, server *api.Server, mqttClient *mqtt.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := server.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	return nil
}
