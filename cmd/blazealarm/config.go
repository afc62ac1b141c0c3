package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazealarm/internal/logger"
	"github.com/good-yellow-bee/blazealarm/internal/storage"
)

// Config represents the engine configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Source   SourceConfig   `yaml:"source"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Admin    AdminConfig    `yaml:"admin"`
	Verbose  bool           `yaml:"-"` // set via CLI flag
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json or console (default: json)
}

// StoreConfig selects the state store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres (default: sqlite)
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// SourceConfig selects the event source.
type SourceConfig struct {
	Kind  string            `yaml:"kind"` // redis, mqtt or memory (default: memory)
	Redis RedisSourceConfig `yaml:"redis"`
	MQTT  MQTTSourceConfig  `yaml:"mqtt"`
}

// RedisSourceConfig contains Redis Streams settings.
type RedisSourceConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`   // stream key prefix (default: blazealarm:)
	Group    string `yaml:"group"`    // consumer group (default: blazealarm)
	Consumer string `yaml:"consumer"` // consumer name (default: hostname)
	MaxLen   int64  `yaml:"max_len"`  // approximate stream length, 0 keeps everything
}

// MQTTSourceConfig contains MQTT broker settings.
type MQTTSourceConfig struct {
	Broker   string        `yaml:"broker"` // tcp://host:1883
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Prefix   string        `yaml:"prefix"` // topic prefix (default: blazealarm/events/)
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"` // token wait timeout (default: 10s)
}

// DispatchConfig contains rule table and dispatcher settings.
type DispatchConfig struct {
	RulesFile          string        `yaml:"rules_file"`          // empty uses the embedded table
	WatchRules         bool          `yaml:"watch_rules"`         // reload rules_file on change
	ObjectsTopic       string        `yaml:"objects_topic"`       // default: objects
	NotificationsTopic string        `yaml:"notifications_topic"` // default: notifications
	InitialBackoff     time.Duration `yaml:"initial_backoff"`     // default: 1s
	MaxBackoff         time.Duration `yaml:"max_backoff"`         // default: 30s
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`    // default: 10s
}

// DeliveryConfig contains notification delivery settings.
type DeliveryConfig struct {
	AppName       string        `yaml:"app_name"`        // delivery path of in-app receipts
	TwilioBaseURL string        `yaml:"twilio_base_url"` // default: https://api.twilio.com
	TwilioTimeout time.Duration `yaml:"twilio_timeout"`  // default: 30s
	RatePerSecond float64       `yaml:"rate_per_second"` // per configuration, 0 disables throttling
	Burst         int           `yaml:"burst"`           // default: 10
}

// ArchiveConfig contains the optional receipt archive.
type ArchiveConfig struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ClickHouseConfig contains ClickHouse connection and batching settings.
type ClickHouseConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addresses     []string      `yaml:"addresses"`
	Database      string        `yaml:"database"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Compression   bool          `yaml:"compression"`
	RetentionDays int           `yaml:"retention_days"` // default: 90
	BatchSize     int           `yaml:"batch_size"`     // default: 500
	FlushInterval time.Duration `yaml:"flush_interval"` // default: 5s
}

// MetricsConfig contains the Prometheus listener.
type MetricsConfig struct {
	Address string `yaml:"address"` // default: :9090
}

// AdminConfig contains the admin API listener.
type AdminConfig struct {
	Address string `yaml:"address"` // default: :8081
}

// LoadConfig loads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = string(storage.DialectSQLite)
	}
	if c.Store.DSN == "" && c.Store.Driver == string(storage.DialectSQLite) {
		c.Store.DSN = "./data/blazealarm.db"
	}

	if c.Source.Kind == "" {
		c.Source.Kind = "memory"
	}
	if c.Source.Redis.Prefix == "" {
		c.Source.Redis.Prefix = "blazealarm:"
	}
	if c.Source.Redis.Consumer == "" {
		c.Source.Redis.Consumer = hostname()
	}
	if c.Source.MQTT.Prefix == "" {
		c.Source.MQTT.Prefix = "blazealarm/events/"
	}
	if c.Source.MQTT.ClientID == "" {
		c.Source.MQTT.ClientID = "blazealarm-" + hostname()
	}
	if c.Source.MQTT.Timeout <= 0 {
		c.Source.MQTT.Timeout = 10 * time.Second
	}

	if c.Dispatch.ObjectsTopic == "" {
		c.Dispatch.ObjectsTopic = "objects"
	}
	if c.Dispatch.NotificationsTopic == "" {
		c.Dispatch.NotificationsTopic = "notifications"
	}
	if c.Dispatch.InitialBackoff <= 0 {
		c.Dispatch.InitialBackoff = time.Second
	}
	if c.Dispatch.MaxBackoff <= 0 {
		c.Dispatch.MaxBackoff = 30 * time.Second
	}
	if c.Dispatch.ShutdownTimeout <= 0 {
		c.Dispatch.ShutdownTimeout = 10 * time.Second
	}

	if c.Delivery.AppName == "" {
		c.Delivery.AppName = "BlazeAlarm"
	}
	if c.Delivery.TwilioBaseURL == "" {
		c.Delivery.TwilioBaseURL = "https://api.twilio.com"
	}
	if c.Delivery.TwilioTimeout <= 0 {
		c.Delivery.TwilioTimeout = 30 * time.Second
	}
	if c.Delivery.Burst <= 0 {
		c.Delivery.Burst = 10
	}

	ch := &c.Archive.ClickHouse
	if ch.Database == "" {
		ch.Database = "blazealarm"
	}
	if ch.RetentionDays <= 0 {
		ch.RetentionDays = 90
	}
	if ch.BatchSize <= 0 {
		ch.BatchSize = 500
	}
	if ch.FlushInterval <= 0 {
		ch.FlushInterval = 5 * time.Second
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Admin.Address == "" {
		c.Admin.Address = ":8081"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format %q is not one of json, console", c.Log.Format)
	}

	if _, err := storage.ParseDialect(c.Store.Driver); err != nil {
		return fmt.Errorf("store.driver: %w", err)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}

	switch c.Source.Kind {
	case "memory":
	case "redis":
		if c.Source.Redis.Address == "" {
			return fmt.Errorf("source.redis.address is required when source.kind is redis")
		}
	case "mqtt":
		if c.Source.MQTT.Broker == "" {
			return fmt.Errorf("source.mqtt.broker is required when source.kind is mqtt")
		}
		if c.Source.MQTT.QoS > 2 {
			return fmt.Errorf("source.mqtt.qos must be 0, 1 or 2")
		}
	default:
		return fmt.Errorf("source.kind %q is not one of memory, redis, mqtt", c.Source.Kind)
	}

	if c.Dispatch.WatchRules && c.Dispatch.RulesFile == "" {
		return fmt.Errorf("dispatch.rules_file is required when dispatch.watch_rules is set")
	}
	if c.Dispatch.ObjectsTopic == c.Dispatch.NotificationsTopic {
		return fmt.Errorf("dispatch.objects_topic and dispatch.notifications_topic must differ")
	}
	if c.Dispatch.MaxBackoff < c.Dispatch.InitialBackoff {
		return fmt.Errorf("dispatch.max_backoff must not be below dispatch.initial_backoff")
	}

	if c.Delivery.RatePerSecond < 0 {
		return fmt.Errorf("delivery.rate_per_second must not be negative")
	}

	if c.Archive.ClickHouse.Enabled && len(c.Archive.ClickHouse.Addresses) == 0 {
		return fmt.Errorf("archive.clickhouse.addresses is required when the archive is enabled")
	}

	if c.Metrics.Address == c.Admin.Address {
		return fmt.Errorf("metrics.address and admin.address must differ")
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "engine"
	}
	return h
}
