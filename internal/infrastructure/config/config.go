package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Dispatch.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Queue    QueueConfig    `yaml:"queue"`
	Poll     PollConfig     `yaml:"poll"`
	Buses    []BusConfig    `yaml:"buses"`
	Drivers  DriversConfig  `yaml:"drivers"`
	Items    []ItemConfig   `yaml:"items"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// QueueConfig contains action queue settings.
type QueueConfig struct {
	// Routing is "item" (one queue per item) or "group" (one per item group).
	Routing         string `yaml:"routing"`
	DefaultQueue    string `yaml:"default_queue"`
	DefaultPriority int    `yaml:"default_priority"`
	HistorySize     int    `yaml:"history_size"`
	// Preemption is "queue" or "preempt".
	Preemption string `yaml:"preemption"`
}

// PollConfig contains state poller settings.
type PollConfig struct {
	// Interval of zero disables polling.
	Interval     time.Duration `yaml:"interval"`
	Concurrency  int           `yaml:"concurrency"`
	StateTimeout time.Duration `yaml:"state_timeout"`
	EventBuffer  int           `yaml:"event_buffer"`
}

// BusConfig sets the lock acquisition timeout of one shared bus.
type BusConfig struct {
	ID      string        `yaml:"id"`
	Timeout time.Duration `yaml:"timeout"`
}

// DriversConfig lists the physical interfaces to load.
type DriversConfig struct {
	// BusTimeout is the lock timeout for buses not listed under buses.
	BusTimeout time.Duration `yaml:"bus_timeout"`
	PHI        []PHIConfig   `yaml:"phi"`
}

// PHIConfig describes one PHI instance.
type PHIConfig struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Bus    string         `yaml:"bus"`
	Config map[string]any `yaml:"config"`
}

// ItemConfig describes one item and its LPI binding. Items are seeded
// into the item registry at startup.
type ItemConfig struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Group  string         `yaml:"group"`
	LPI    string         `yaml:"lpi"`
	PHI    string         `yaml:"phi"`
	Config map[string]any `yaml:"config"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYDISPATCH_SECTION_KEY
// For example: GRAYDISPATCH_DATABASE_PATH, GRAYDISPATCH_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/graydispatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graydispatch",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
			Path:   "/metrics",
		},
		Queue: QueueConfig{
			Routing:         "item",
			DefaultQueue:    "default",
			DefaultPriority: 100,
			HistorySize:     100,
			Preemption:      "queue",
		},
		Poll: PollConfig{
			Interval:     30 * time.Second,
			Concurrency:  4,
			StateTimeout: 5 * time.Second,
			EventBuffer:  256,
		},
		Drivers: DriversConfig{
			BusTimeout: 500 * time.Millisecond,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYDISPATCH_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}
	if v := os.Getenv("GRAYDISPATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYDISPATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYDISPATCH_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYDISPATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYDISPATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYDISPATCH_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("GRAYDISPATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYDISPATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GRAYDISPATCH_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	errs = append(errs, c.validateQueue()...)
	errs = append(errs, c.validateDrivers()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateQueue() []string {
	var errs []string
	switch c.Queue.Routing {
	case "item", "group":
	default:
		errs = append(errs, fmt.Sprintf("queue.routing %q must be item or group", c.Queue.Routing))
	}
	switch c.Queue.Preemption {
	case "queue", "preempt":
	default:
		errs = append(errs, fmt.Sprintf("queue.preemption %q must be queue or preempt", c.Queue.Preemption))
	}
	if c.Queue.DefaultPriority < 0 {
		errs = append(errs, "queue.default_priority must not be negative")
	}
	if c.Queue.HistorySize < 0 {
		errs = append(errs, "queue.history_size must not be negative")
	}
	if c.Poll.Interval < 0 || c.Poll.StateTimeout < 0 {
		errs = append(errs, "poll durations must not be negative")
	}
	return errs
}

func (c *Config) validateDrivers() []string {
	var errs []string

	buses := make(map[string]bool, len(c.Buses))
	for i, b := range c.Buses {
		switch {
		case b.ID == "":
			errs = append(errs, fmt.Sprintf("buses[%d].id is required", i))
		case buses[b.ID]:
			errs = append(errs, fmt.Sprintf("buses[%d].id %q is duplicated", i, b.ID))
		}
		if b.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("buses[%d].timeout must not be negative", i))
		}
		buses[b.ID] = true
	}

	phis := make(map[string]bool, len(c.Drivers.PHI))
	for i, p := range c.Drivers.PHI {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Sprintf("drivers.phi[%d].id is required", i))
		case phis[p.ID]:
			errs = append(errs, fmt.Sprintf("drivers.phi[%d].id %q is duplicated", i, p.ID))
		}
		if p.Type == "" {
			errs = append(errs, fmt.Sprintf("drivers.phi[%d].type is required", i))
		}
		phis[p.ID] = true
	}

	items := make(map[string]bool, len(c.Items))
	for i, it := range c.Items {
		switch {
		case it.ID == "":
			errs = append(errs, fmt.Sprintf("items[%d].id is required", i))
		case items[it.ID]:
			errs = append(errs, fmt.Sprintf("items[%d].id %q is duplicated", i, it.ID))
		}
		if it.LPI == "" {
			errs = append(errs, fmt.Sprintf("items[%d].lpi is required", i))
		}
		if !phis[it.PHI] {
			errs = append(errs, fmt.Sprintf("items[%d].phi %q is not a configured phi", i, it.PHI))
		}
		items[it.ID] = true
	}
	return errs
}

// BusTimeout returns the lock timeout configured for a bus.
func (c *Config) BusTimeout(busID string) time.Duration {
	for _, b := range c.Buses {
		if b.ID == busID && b.Timeout > 0 {
			return b.Timeout
		}
	}
	return c.Drivers.BusTimeout
}
