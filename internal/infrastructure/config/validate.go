package config

import (
	"errors"
	"fmt"
)

// ErrInvalid wraps every validation failure returned by Validate and Load.
var ErrInvalid = errors.New("config: invalid configuration")

// Device-side parameter limits. Nodes answer 400 outside these ranges.
const (
	MinMeasurementIntervalMS = 1
	MaxMeasurementIntervalMS = 60000
	MaxDeviceTempDifference  = 2.0
)

// maxFetchLimit is the most records a node returns per /temp page.
const maxFetchLimit = 100

type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		p.addf(format, args...)
	}
}

func validPort(n int) bool { return n >= 1 && n <= 65535 }

// Validate reports every problem in c at once. The result wraps ErrInvalid
// and joins one error per field.
func (c *Config) Validate() error {
	var p problems

	switch c.Database.Driver {
	case "", "sqlite":
		p.check(c.Database.Path != "", "database.path is required")
	case "postgres":
		p.check(c.Database.DSN != "", "database.dsn is required for postgres")
	default:
		p.addf("database.driver %q is not supported", c.Database.Driver)
	}

	p.check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	if c.API.Enabled {
		p.check(validPort(c.API.Port), "api.port must be between 1 and 65535")
	}

	c.Monitor.validate(&p)

	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(p...))
}

func (m *MonitorConfig) validate(p *problems) {
	p.check(m.PollIntervalMS > 0, "monitor.poll_interval_ms must be positive")
	p.check(m.MeasurementIntervalMS >= MinMeasurementIntervalMS && m.MeasurementIntervalMS <= MaxMeasurementIntervalMS,
		"monitor.measurement_interval_ms must be between %d and %d", MinMeasurementIntervalMS, MaxMeasurementIntervalMS)
	p.check(m.DeviceTempDifference > 0 && m.DeviceTempDifference <= MaxDeviceTempDifference,
		"monitor.device_temp_difference must be in (0, %g]", MaxDeviceTempDifference)
	p.check(m.MaxTempDifference >= 0, "monitor.max_temp_difference must not be negative")
	p.check(m.MaxTimeDifference >= 0, "monitor.max_time_difference must not be negative")
	p.check(m.Workers >= 1, "monitor.workers must be at least 1")

	p.check(m.Reachability.Host != "", "monitor.reachability.host is required")
	p.check(m.Discovery.BroadcastAddress != "", "monitor.discovery.broadcast_address is required")
	p.check(validPort(m.Discovery.Port), "monitor.discovery.port must be between 1 and 65535")

	p.check(m.Fetch.Limit >= 1 && m.Fetch.Limit <= maxFetchLimit,
		"monitor.fetch.limit must be between 1 and %d", maxFetchLimit)
	p.check(m.Fetch.MaxAttempts >= 1, "monitor.fetch.max_attempts must be at least 1")
}
