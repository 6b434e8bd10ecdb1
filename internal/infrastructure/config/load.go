package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix starts every override variable.
const envPrefix = "TEMPMON_"

// Load builds a Config from defaults, then the YAML file at path, then any
// TEMPMON_* variables, and validates the result. Keys missing from the file
// keep their defaults.
//
// Parameters:
//   - path: YAML file to read
//
// Returns:
//   - *Config: A fresh, validated value; never a partially applied one
//   - error: Read or parse failure, or one wrapping ErrInvalid
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if bad := applyEnvOverrides(cfg, os.LookupEnv); len(bad) > 0 {
		return nil, fmt.Errorf("%w: cannot parse %s", ErrInvalid, strings.Join(bad, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration. Each call returns a new value.
func Default() *Config {
	cfg := &Config{}

	cfg.Database = DatabaseConfig{Driver: "sqlite", Path: "./data/tempmon.db", WALMode: true, BusyTimeout: 5}

	cfg.MQTT.Broker = MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "tempmon-core"}
	cfg.MQTT.QoS = 1
	cfg.MQTT.TopicPrefix = "tempmon"
	cfg.MQTT.Reconnect = MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60}

	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080
	cfg.API.Timeouts = APITimeoutConfig{Read: 30, Write: 30, Idle: 60}

	cfg.WebSocket = WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	cfg.InfluxDB = InfluxDBConfig{BatchSize: 100, FlushInterval: 10}

	cfg.Logging = LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stdout",
		File:   FileLoggingConfig{Path: "./data/app.log", Level: "error"},
	}

	cfg.Monitor = MonitorConfig{
		PollIntervalMS:        10000,
		MeasurementIntervalMS: 1000,
		MaxTempDifference:     0.5,
		MaxTimeDifference:     3600,
		DeviceTempDifference:  0.2,
		ReloadInterval:        5 * time.Second,
		Workers:               8,
		Reachability:          ReachabilityConfig{Host: "192.168.0.1", Port: 80, Timeout: 2 * time.Second},
		Discovery: DiscoveryConfig{
			BroadcastAddress: "192.168.0.255",
			Port:             4210,
			ListenPort:       4210,
			Window:           2 * time.Second,
			StartupRounds:    5,
			RefreshRounds:    10,
			RefreshInterval:  time.Minute,
		},
		Fetch: FetchConfig{
			Limit:        100,
			MaxAttempts:  3,
			Timeout:      5 * time.Second,
			Slack:        10 * time.Second,
			MaxPages:     1000,
			RetryBackoff: 500 * time.Millisecond,
			DevicePort:   80,
		},
	}
	return cfg
}

// override binds one environment variable (without envPrefix) to a field.
// set reports false when the value cannot be parsed; the field is then left
// as it was.
type override struct {
	name string
	set  func(c *Config, v string) bool
}

func str(field func(*Config) *string) func(*Config, string) bool {
	return func(c *Config, v string) bool {
		*field(c) = v
		return true
	}
}

func integer(field func(*Config) *int) func(*Config, string) bool {
	return func(c *Config, v string) bool {
		n, err := strconv.Atoi(v)
		if err != nil {
			return false
		}
		*field(c) = n
		return true
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) bool {
	return func(c *Config, v string) bool {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false
		}
		*field(c) = b
		return true
	}
}

var overrides = []override{
	{"DATABASE_DRIVER", str(func(c *Config) *string { return &c.Database.Driver })},
	{"DATABASE_PATH", str(func(c *Config) *string { return &c.Database.Path })},
	{"DATABASE_DSN", str(func(c *Config) *string { return &c.Database.DSN })},

	{"MQTT_ENABLED", boolean(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"MQTT_HOST", str(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"MQTT_PORT", integer(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"MQTT_USERNAME", str(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"MQTT_PASSWORD", str(func(c *Config) *string { return &c.MQTT.Auth.Password })},

	{"API_HOST", str(func(c *Config) *string { return &c.API.Host })},
	{"API_PORT", integer(func(c *Config) *int { return &c.API.Port })},

	{"INFLUXDB_ENABLED", boolean(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"INFLUXDB_URL", str(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"INFLUXDB_TOKEN", str(func(c *Config) *string { return &c.InfluxDB.Token })},

	{"LOGGING_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},

	{"MONITOR_POLL_INTERVAL_MS", integer(func(c *Config) *int { return &c.Monitor.PollIntervalMS })},
	{"MONITOR_REACHABILITY_HOST", str(func(c *Config) *string { return &c.Monitor.Reachability.Host })},
	{"MONITOR_DISCOVERY_BROADCAST_ADDRESS", str(func(c *Config) *string { return &c.Monitor.Discovery.BroadcastAddress })},

	{"DEV_DEBUG_MODE", boolean(func(c *Config) *bool { return &c.Dev.DebugMode })},
	{"DEV_RESET_BOARD_AFTER_FAIL", boolean(func(c *Config) *bool { return &c.Dev.ResetBoardAfterFail })},
}

// applyEnvOverrides copies every set, non-empty override variable into cfg
// and returns the names it could not parse.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) []string {
	var rejected []string
	for _, o := range overrides {
		v, ok := lookup(envPrefix + o.name)
		if !ok || v == "" {
			continue
		}
		if !o.set(cfg, v) {
			rejected = append(rejected, envPrefix+o.name)
		}
	}
	return rejected
}
