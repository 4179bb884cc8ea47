// Gray Logic Dispatch - action dispatch core for building automation.
//
// The daemon loads hardware drivers (PHIs) and the logical drivers (LPIs)
// bound to each item, runs prioritised per-item or per-group action queues,
// keeps item state current from polling and hardware events, and reports
// outcomes over MQTT, InfluxDB and Prometheus.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/buslock"
	"github.com/nerrad567/gray-logic-dispatch/internal/dispatch"
	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
	"github.com/nerrad567/gray-logic-dispatch/internal/driver/knx"
	"github.com/nerrad567/gray-logic-dispatch/internal/driver/lpi"
	"github.com/nerrad567/gray-logic-dispatch/internal/driver/sim"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-dispatch/internal/item"
	"github.com/nerrad567/gray-logic-dispatch/internal/queue"
	"github.com/nerrad567/gray-logic-dispatch/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called above
	}
}

// serve wires the daemon together and blocks until ctx is cancelled.
// Deferred cleanups run in reverse order: metrics, core (which closes the
// drivers), InfluxDB, MQTT, database.
func serve(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Gray Logic Dispatch", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	items, err := loadItems(ctx, cfg, db, log)
	if err != nil {
		return err
	}

	var (
		m        *metrics.Metrics
		observer queue.Observer
	)
	locks := buslock.New(cfg.Drivers.BusTimeout)
	locks.SetLogger(log.Component("buslock"))
	for _, b := range cfg.Buses {
		locks.Configure(b.ID, b.Timeout)
	}
	if cfg.Metrics.Enabled {
		m = metrics.New()
		locks.SetObserver(m)
		observer = m
	}

	drivers := newDriverRegistry(locks, log)
	if loadErr := drivers.LoadAll(ctx, phiSpecs(cfg), lpiSpecs(items.ListItems())); loadErr != nil {
		// Failed instances are skipped; their items reject actions.
		log.Warn("some drivers failed to load", "error", loadErr)
	}

	deps := dispatch.Deps{
		Items:    items,
		Drivers:  drivers,
		Observer: observer,
		Logger:   log.Component("dispatch"),
	}

	mqttClient := connectMQTT(cfg, log)
	if mqttClient != nil {
		deps.Publisher = mqttClient
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient := connectInfluxDB(cfg, log)
	if influxClient != nil {
		deps.Telemetry = influxClient
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	core, err := dispatch.New(dispatchConfig(cfg), deps)
	if err != nil {
		drivers.Close() //nolint:errcheck // startup failure path
		return fmt.Errorf("creating dispatch core: %w", err)
	}
	if err := core.Start(ctx); err != nil {
		drivers.Close() //nolint:errcheck // startup failure path
		return fmt.Errorf("starting dispatch core: %w", err)
	}
	defer func() {
		if stopErr := core.Stop(); stopErr != nil {
			log.Error("error stopping dispatch core", "error", stopErr)
		}
	}()

	if m != nil {
		srv, err := startMetrics(cfg, m, core, mqttClient, log)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := srv.Shutdown(shutdownCtx); stopErr != nil {
				log.Error("error stopping metrics server", "error", stopErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("health check degraded", "error", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"items", items.Count(),
		"phis", len(drivers.PHIIDs()),
		"queues", core.QueueCount(),
	)
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns GRAYDISPATCH_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYDISPATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadItems seeds configured items into the database and loads the cache.
func loadItems(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (*item.Registry, error) {
	registry := item.NewRegistry(item.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("items"))

	if err := registry.RefreshCache(ctx); err != nil {
		return nil, fmt.Errorf("loading item registry: %w", err)
	}
	created, err := registry.Seed(ctx, seedItems(cfg.Items))
	if err != nil {
		// Invalid entries are skipped; the rest are usable.
		log.Warn("some configured items were not seeded", "error", err)
	}
	log.Info("item registry initialised", "items", registry.Count(), "created", created)
	return registry, nil
}

func seedItems(in []config.ItemConfig) []item.Item {
	out := make([]item.Item, 0, len(in))
	for _, ic := range in {
		out = append(out, item.Item{
			ID:      ic.ID,
			Name:    ic.Name,
			Group:   ic.Group,
			LPIType: ic.LPI,
			PHIID:   ic.PHI,
			Config:  ic.Config,
		})
	}
	return out
}

func newDriverRegistry(locks *buslock.Registry, log *logging.Logger) *driver.Registry {
	r := driver.NewRegistry(locks)
	r.SetLogger(log.Component("driver"))
	sim.Register(r)
	knx.Register(r)
	lpi.Register(r)
	return r
}

func phiSpecs(cfg *config.Config) []driver.PHISpec {
	specs := make([]driver.PHISpec, 0, len(cfg.Drivers.PHI))
	for _, p := range cfg.Drivers.PHI {
		specs = append(specs, driver.PHISpec{ID: p.ID, Type: p.Type, Bus: p.Bus, Config: p.Config})
	}
	return specs
}

func lpiSpecs(items []item.Item) []driver.LPISpec {
	specs := make([]driver.LPISpec, 0, len(items))
	for i := range items {
		specs = append(specs, items[i].LPISpec())
	}
	return specs
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Routing:      dispatch.Routing(cfg.Queue.Routing),
		DefaultQueue: cfg.Queue.DefaultQueue,
		Queue: queue.Config{
			DefaultPriority: cfg.Queue.DefaultPriority,
			HistorySize:     cfg.Queue.HistorySize,
			Preemption:      queue.Preemption(cfg.Queue.Preemption),
		},
		PollInterval:    cfg.Poll.Interval,
		PollConcurrency: cfg.Poll.Concurrency,
		StateTimeout:    cfg.Poll.StateTimeout,
		EventBuffer:     cfg.Poll.EventBuffer,
		QoS:             byte(cfg.MQTT.QoS),
	}
}

// connectMQTT returns nil when MQTT is disabled or unreachable. Dispatch
// keeps running without notifications.
func connectMQTT(cfg *config.Config, log *logging.Logger) *mqtt.Client {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil
	}
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, notifications disabled", "error", err)
		return nil
	}
	mqttLog := log.Component("mqtt")
	client.SetLogger(mqttLog)
	client.SetOnConnect(func() { mqttLog.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { mqttLog.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client
}

// connectInfluxDB returns nil when InfluxDB is disabled or unreachable.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		return nil
	case err != nil:
		log.Warn("InfluxDB unavailable, telemetry disabled", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)
	return client
}

type gauge struct {
	name, help string
	fn         func() float64
}

func startMetrics(cfg *config.Config, m *metrics.Metrics, core *dispatch.Core, mqttClient *mqtt.Client, log *logging.Logger) (*metrics.Server, error) {
	gauges := []gauge{
		{"queues", "Action queues created.", func() float64 { return float64(core.QueueCount()) }},
		{"dropped_events_total", "PHI events and refreshes dropped on a full buffer.", func() float64 {
			return float64(core.Stats().DroppedEvents)
		}},
	}
	if mqttClient != nil {
		gauges = append(gauges,
			gauge{"mqtt_dropped_notifications_total", "Notifications dropped on a full MQTT outbox.", func() float64 {
				return float64(mqttClient.Stats().Dropped)
			}},
			gauge{"mqtt_failed_notifications_total", "Notifications the broker did not accept.", func() float64 {
				return float64(mqttClient.Stats().Failed)
			}},
		)
	}
	for _, g := range gauges {
		if err := m.GaugeFunc(g.name, g.help, g.fn); err != nil {
			return nil, fmt.Errorf("registering metric %s: %w", g.name, err)
		}
	}

	srv := metrics.NewServer(cfg.Metrics, m)
	srv.SetLogger(log.Component("metrics"))
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}

// healthCheck verifies the connected backends. Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error
	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	return errors.Join(errs...)
}
