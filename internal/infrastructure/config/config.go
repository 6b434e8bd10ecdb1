package config

import "time"

// Config is everything tempmon reads from its YAML file. See Load for the
// precedence of defaults, file values and TEMPMON_* variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dev       DevConfig       `yaml:"dev"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// DatabaseConfig contains relational store settings.
type DatabaseConfig struct {
	// Driver selects the dialect: "sqlite" (default) or "postgres".
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	DSN         string `yaml:"dsn"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig configures the optional event bridge. Delays are in seconds.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig configures the read-only status API.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds HTTP server timeouts in whole seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists origins allowed to call the API. Empty means same-origin only.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig sizes the live stream. Intervals are in seconds.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig configures the optional time-series mirror.
// FlushInterval is in seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects the console handler. Format is "json" or "text".
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains the persistent log sink settings.
// Only records at Level or above reach the file.
type FileLoggingConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DevConfig holds operator switches carried over from the device firmware tooling.
type DevConfig struct {
	// DebugMode forces debug-level console logging.
	DebugMode bool `yaml:"debug_mode"`

	// ResetBoardAfterFail asks an unreachable node to restart via /exit
	// instead of dropping it from the registry.
	ResetBoardAfterFail bool `yaml:"reset_board_after_fail"`
}

// MonitorConfig drives acquisition. It is the part of the file the
// hot-reload watcher applies while running.
type MonitorConfig struct {
	// PollIntervalMS is how often devices are polled for new readings.
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// MeasurementIntervalMS is pushed to every node via /setinterval.
	MeasurementIntervalMS int `yaml:"measurement_interval_ms"`

	// MaxTempDifference is the compaction threshold in degrees.
	MaxTempDifference float64 `yaml:"max_temp_difference"`

	// MaxTimeDifference is the compaction horizon in seconds.
	MaxTimeDifference int `yaml:"max_time_difference"`

	// DeviceTempDifference is pushed to every node via /setTempDiff.
	DeviceTempDifference float64 `yaml:"device_temp_difference"`

	// ReloadInterval is how often the config file mtime is checked.
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// Workers bounds how many devices are polled concurrently.
	Workers int `yaml:"workers"`

	Reachability ReachabilityConfig `yaml:"reachability"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Fetch        FetchConfig        `yaml:"fetch"`
}

// ReachabilityConfig names the reference host used to gate network activity.
type ReachabilityConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// DiscoveryConfig controls the DISCOVER broadcast and the answer window.
type DiscoveryConfig struct {
	BroadcastAddress string        `yaml:"broadcast_address"`
	Port             int           `yaml:"port"`
	ListenPort       int           `yaml:"listen_port"`
	Window           time.Duration `yaml:"window"`
	StartupRounds    int           `yaml:"startup_rounds"`
	RefreshRounds    int           `yaml:"refresh_rounds"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
}

// FetchConfig tunes paging against a node's /temp endpoint.
type FetchConfig struct {
	Limit        int           `yaml:"limit"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Timeout      time.Duration `yaml:"timeout"`
	Slack        time.Duration `yaml:"slack"`
	MaxPages     int           `yaml:"max_pages"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	DevicePort   int           `yaml:"device_port"`
}

// ReadTimeout converts Read to a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return seconds(t.Read) }

// WriteTimeout converts Write to a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }

// IdleTimeout converts Idle to a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return seconds(t.Idle) }

// PollInterval returns the device poll cadence.
func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMS) * time.Millisecond
}

// TimeHorizon returns the compaction horizon.
func (m MonitorConfig) TimeHorizon() time.Duration { return seconds(m.MaxTimeDifference) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
