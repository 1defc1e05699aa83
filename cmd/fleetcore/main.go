// Fleet Core - IoT Fleet Management MQTT Core
//
// This is the main entry point for the Fleet Core daemon. Fleet Core
// provisions and supervises a fleet of MQTT-connected devices:
//   - Device discovery and functionality assignment
//   - Request/response correlation over a Redis-backed pending store
//   - Telemetry and hardware status persistence (SQLite, optional
//     InfluxDB mirror)
//   - A read-model REST API with a WebSocket event bridge
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/amin2ace/fleet-core/migrations"

	"github.com/amin2ace/fleet-core/internal/api"
	"github.com/amin2ace/fleet-core/internal/device"
	"github.com/amin2ace/fleet-core/internal/engine"
	"github.com/amin2ace/fleet-core/internal/infrastructure/config"
	"github.com/amin2ace/fleet-core/internal/infrastructure/database"
	"github.com/amin2ace/fleet-core/internal/infrastructure/influxdb"
	"github.com/amin2ace/fleet-core/internal/infrastructure/logging"
	"github.com/amin2ace/fleet-core/internal/infrastructure/mqtt"
	"github.com/amin2ace/fleet-core/internal/pending"
	"github.com/amin2ace/fleet-core/internal/publisher"
	"github.com/amin2ace/fleet-core/internal/response"
	"github.com/amin2ace/fleet-core/internal/router"
	"github.com/amin2ace/fleet-core/internal/topics"
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

// inboundQoS is the QoS level for device response subscriptions.
const inboundQoS = 1

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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit // Linear wiring sequence; extraction would obscure the defer chain
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Fleet Core",
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise repositories
	devices := device.NewRepository(db)
	telemetry := device.NewTelemetryRepository(db)
	hardware := device.NewHardwareStatusRepository(db)
	registry := topics.NewRegistry(db, cfg.MQTT.Broker.URL(), cfg.Requests.TopicPrefix)

	// Connect to the pending-request store
	store, err := pending.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to pending store: %w", err)
	}
	defer func() {
		log.Info("closing pending store")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing pending store", "error", closeErr)
		}
	}()
	log.Info("pending store connected", "addr", cfg.Redis.Addr)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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
		"broker", cfg.MQTT.Broker.URL(),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional telemetry mirror)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the inbound pipeline: router -> validator -> engine
	subscriber := &topicSubscriber{client: mqttClient}
	core := engine.New(engine.Config{
		Devices:     devices,
		Telemetry:   telemetry,
		Hardware:    hardware,
		Registry:    registry,
		Store:       store,
		Subscriber:  subscriber,
		Logger:      log,
		TopicPrefix: cfg.Requests.TopicPrefix,
	})
	validator := response.NewValidator(store, log)
	inbound := router.New(func(ctx context.Context, kind router.Kind, topic string, payload []byte) error {
		validated, err := validator.Validate(ctx, kind, payload)
		if err != nil {
			// Validation failures are logged by the validator; the
			// message is dropped, not retried.
			return nil
		}
		if applyErr := core.Apply(ctx, validated); applyErr != nil {
			log.Warn("response not applied",
				"kind", string(kind),
				"topic", topic,
				"error", applyErr,
			)
			return nil
		}
		if influxClient != nil {
			mirrorTelemetry(influxClient, validated)
		}
		return nil
	}, log)
	subscriber.inbound = inbound

	// Subscribe the discovery topic plus every provisioned device topic.
	// Topic rows are deactivated when the broker connection drops and
	// re-asserted from the device records when it comes back.
	if err := subscribeAll(ctx, mqttClient, devices, registry, inbound, cfg.Requests.TopicPrefix, log); err != nil {
		return fmt.Errorf("subscribing topics: %w", err)
	}
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, re-asserting subscriptions")
		if err := subscribeAll(context.Background(), mqttClient, devices, registry, inbound, cfg.Requests.TopicPrefix, log); err != nil {
			log.Error("re-asserting subscriptions failed", "error", err)
		}
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected, deactivating topic subscriptions", "error", err)
		if deactivateErr := registry.DeactivateAll(context.Background()); deactivateErr != nil {
			log.Error("deactivating topics failed", "error", deactivateErr)
		}
	})

	// Mirror domain events to the time-series store and feed the
	// WebSocket bridge from a single fan-out goroutine.
	apiEvents := make(chan engine.Event, 64)
	go fanOutEvents(ctx, core.Events(), apiEvents, influxClient, log)

	// Request publisher
	pub := publisher.New(publisher.Config{
		Store:       store,
		Broker:      mqttClient,
		Logger:      log,
		TopicPrefix: cfg.Requests.TopicPrefix,
		DefaultTTL:  cfg.Requests.GetDefaultTTL(),
		UpgradeTTL:  cfg.Requests.GetUpgradeTTL(),
	})

	// Start the API server
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Devices:   devices,
		Topics:    registry,
		Telemetry: telemetry,
		Hardware:  hardware,
		Publisher: pub,
		Pending:   store,
		Broker:    mqttClient,
		Events:    apiEvents,
		Version:   version,
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

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, store, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Pending store
	// 5. Database

	log.Info("Fleet Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// subscribeAll asserts the broker subscriptions Fleet Core needs: the
// shared discovery topic, then every registered topic of every known
// device. Successfully asserted topics are marked subscribed in the
// registry; failures are marked unsubscribed and retried on the next
// reconnect pass.
func subscribeAll(ctx context.Context, client *mqtt.Client, devices *device.Repository, registry *topics.Registry, inbound *router.Router, prefix string, log *logging.Logger) error {
	handler := func(topic string, payload []byte) error {
		return inbound.Handle(context.Background(), topic, payload)
	}

	// New devices announce themselves on the wildcard discovery topic.
	discovery := prefix + "/+/" + string(topics.UseCaseDiscovery)
	if err := client.Subscribe(discovery, inboundQoS, handler); err != nil {
		return fmt.Errorf("subscribing discovery topic: %w", err)
	}
	log.Info("subscribed discovery topic", "topic", discovery)

	known, err := devices.List(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	asserted := 0
	for _, d := range known {
		deviceTopics, topicsErr := registry.AllForDevice(ctx, d.DeviceID)
		if topicsErr != nil {
			return fmt.Errorf("loading topics for %s: %w", d.DeviceID, topicsErr)
		}
		for _, t := range deviceTopics {
			subscribed := true
			if subErr := client.Subscribe(t.Name, inboundQoS, handler); subErr != nil {
				log.Warn("topic subscription failed", "topic", t.Name, "error", subErr)
				subscribed = false
			} else {
				asserted++
			}
			if markErr := registry.MarkSubscribed(ctx, t.ID, subscribed); markErr != nil {
				log.Error("updating topic subscription flag failed", "topic", t.Name, "error", markErr)
			}
		}
	}
	log.Info("registry subscriptions asserted", "devices", len(known), "topics", asserted)
	return nil
}

// fanOutEvents forwards engine events to the API bridge and mirrors
// telemetry and connection-state events into InfluxDB when enabled.
func fanOutEvents(ctx context.Context, in <-chan engine.Event, out chan<- engine.Event, influx *influxdb.Client, log *logging.Logger) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}

			if influx != nil {
				mirrorEvent(influx, ev)
			}

			select {
			case out <- ev:
			default:
				log.Warn("API event buffer full, dropping event", "type", string(ev.Type))
			}
		}
	}
}

// mirrorEvent writes the connection-state view of a domain event.
// Telemetry readings are mirrored from the pipeline, where the decoded
// payload is still available.
func mirrorEvent(influx *influxdb.Client, ev engine.Event) {
	switch ev.Type {
	case engine.EventHeartbeat, engine.EventDeviceDiscovered:
		influx.WriteConnectionState(ev.DeviceID, "online")
	case engine.EventDeviceError:
		influx.WriteConnectionState(ev.DeviceID, "error")
	}
}

// mirrorTelemetry writes successfully applied telemetry readings to the
// time-series store.
func mirrorTelemetry(influx *influxdb.Client, v *response.Validated) {
	body, ok := v.Body.(*response.Telemetry)
	if !ok {
		return
	}
	for _, reading := range body.Readings {
		at, err := time.Parse(time.RFC3339, reading.RecordedAt)
		if err != nil {
			at = time.Now()
		}
		influx.WriteTelemetry(v.DeviceID, reading.Metric, reading.Value, at)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - store: Pending-request store to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, store *pending.Store, influxClient *influxdb.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := store.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("pending store: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// topicSubscriber adapts the infrastructure MQTT client to the engine's
// TopicSubscriber interface. The engine asserts subscriptions for newly
// provisioned device topics; the message handler is installed lazily by
// the shared inbound router.
type topicSubscriber struct {
	client  *mqtt.Client
	inbound *router.Router
}

// SubscribeTopic implements engine.TopicSubscriber.
func (s *topicSubscriber) SubscribeTopic(topic string) error {
	return s.client.Subscribe(topic, inboundQoS, func(t string, payload []byte) error {
		return s.inbound.Handle(context.Background(), t, payload)
	})
}
