// tempmon collects temperature readings from a fleet of ESP8266 sensor nodes.
//
// Nodes are found by UDP broadcast, polled over HTTP for their buffered
// samples, and every reading is compacted into a relational time series.
// Readings and node changes are optionally mirrored to MQTT, InfluxDB and a
// WebSocket stream, and a read-only status API serves the collected state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/tempmon-core/migrations"

	"github.com/nerrad567/tempmon-core/internal/api"
	"github.com/nerrad567/tempmon-core/internal/audit"
	"github.com/nerrad567/tempmon-core/internal/bridges/esp"
	"github.com/nerrad567/tempmon-core/internal/configwatch"
	"github.com/nerrad567/tempmon-core/internal/device"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/database"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/logging"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tempmon-core/internal/monitor"
	"github.com/nerrad567/tempmon-core/internal/netcheck"
	"github.com/nerrad567/tempmon-core/internal/reading"
	"github.com/nerrad567/tempmon-core/internal/retrieval"
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
	flags := pflag.NewFlagSet("tempmon", pflag.ExitOnError)
	configFlag := flags.StringP("config", "c", "", "configuration file (default $TEMPMON_CONFIG or "+defaultConfigPath+")")
	showVersion := flags.Bool("version", false, "print version information and exit")
	//nolint:errcheck // ExitOnError exits on parse failure
	flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("tempmon %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file, also watched for changes
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Linear wiring of every component
	log := logging.Default()
	log.Info("starting tempmon",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err = logging.Open(cfg.Logging, version, cfg.Dev.DebugMode)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer log.Close() //nolint:errcheck // Best-effort on exit
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Relational store: the only component whose failure is fatal.
	db, err := database.Open(database.Config{
		Driver:      cfg.Database.Driver,
		Path:        cfg.Database.Path,
		DSN:         cfg.Database.DSN,
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "driver", db.Dialect())

	// Decision engine over the time series.
	readings := reading.NewSQLRepository(db)
	engine := reading.NewEngine(readings, monitor.Thresholds(cfg.Monitor))
	engine.SetLogger(log)

	// Node transport and discovery.
	espClient := esp.NewClient(esp.ClientConfig{
		Timeout: cfg.Monitor.Fetch.Timeout,
		Port:    cfg.Monitor.Fetch.DevicePort,
	})
	discoverer := esp.NewDiscoverer(esp.DiscoveryConfig{
		BroadcastAddress: cfg.Monitor.Discovery.BroadcastAddress,
		Port:             cfg.Monitor.Discovery.Port,
		ListenPort:       cfg.Monitor.Discovery.ListenPort,
		Window:           cfg.Monitor.Discovery.Window,
	})
	discoverer.SetLogger(log)

	registry := device.NewRegistry(discoverer, espClient)
	registry.SetLogger(log)
	registry.SetResetOnFailure(cfg.Dev.ResetBoardAfterFail)

	events := audit.NewSQLRepository(db)
	registry.AddSink(audit.NewRecorder(events, log))

	pipeline := retrieval.New(espClient, registry, engine, monitor.PipelineConfig(cfg.Monitor))
	pipeline.SetLogger(log)

	checker := netcheck.New(netcheck.Config{
		Host:    cfg.Monitor.Reachability.Host,
		Port:    cfg.Monitor.Reachability.Port,
		Timeout: cfg.Monitor.Reachability.Timeout,
	})
	checker.SetLogger(log)

	watcher, err := configwatch.New(configPath, cfg)
	if err != nil {
		return fmt.Errorf("watching config: %w", err)
	}
	watcher.SetLogger(log)

	// Live WebSocket stream.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	engine.AddSink(hub)
	registry.AddSink(hub)

	// Optional MQTT telemetry. The collector keeps running without a broker.
	var (
		mqttClient *mqtt.Client
		health     *esp.HealthReporter
	)
	if cfg.MQTT.Enabled {
		mqttClient, health = startTelemetry(ctx, cfg, engine, registry, espClient, log)
		if mqttClient != nil {
			defer func() {
				health.Stop()
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Optional InfluxDB mirror of the raw series.
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			log.Warn("InfluxDB unavailable, mirror disabled", "url", cfg.InfluxDB.URL, "error", influxErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			engine.AddSink(monitor.Mirror(influxClient))
			log.Info("InfluxDB mirror enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	deps := monitor.Deps{
		Checker:  checker,
		Registry: registry,
		Poller:   pipeline,
		Engine:   engine,
		Config:   watcher,
	}
	if health != nil {
		deps.Health = health
	}
	svc := monitor.New(deps)
	svc.SetLogger(log)

	if mqttClient != nil {
		if subErr := mqttClient.SubscribeDiscoverCommand(svc.TriggerDiscovery); subErr != nil {
			log.Warn("discover command unavailable", "error", subErr)
		}
	}

	// Read-only status API.
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:       cfg.API,
			WS:           cfg.WebSocket,
			Logger:       log,
			Registry:     registry,
			Readings:     readings,
			Events:       events,
			Reachability: checker,
			DB:           db,
			Hub:          hub,
			Version:      version,
		}
		if mqttClient != nil {
			apiDeps.MQTT = mqttClient
		}
		server, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := db.HealthCheck(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("database health check: %w", err)
	}

	log.Info("initialisation complete")
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	log.Info("tempmon stopped")
	return nil
}

// startTelemetry connects to the broker and wires the MQTT fan-out and
// bridge health reporting. It returns nil values when the broker is unreachable.
func startTelemetry(
	ctx context.Context,
	cfg *config.Config,
	engine *reading.Engine,
	registry *device.Registry,
	espClient *esp.Client,
	log *logging.Logger,
) (*mqtt.Client, *esp.HealthReporter) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, telemetry disabled",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"error", err,
		)
		return nil, nil
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	telemetry := monitor.NewTelemetry(client, client.Topics(), monitor.DefaultTelemetryBuffer)
	telemetry.SetLogger(log)
	engine.AddSink(telemetry)
	registry.AddSink(telemetry)
	go telemetry.Run(ctx)

	health := esp.NewHealthReporter(esp.HealthReporterConfig{
		BridgeID:  cfg.MQTT.Broker.ClientID,
		Version:   version,
		Topic:     client.Topics().BridgeHealth(),
		Publisher: client,
		Stats:     espClient,
	})
	health.SetLogger(log)
	health.Start(ctx)

	return client, health
}

// getConfigPath returns the configuration file path: the flag value if set,
// then TEMPMON_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("TEMPMON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
