package device

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/tempmon-core/internal/bridges/esp"
)

// State is the lifecycle state of a node.
type State string

// Node lifecycle states.
//
//	unknown --discover--> active --disconnect--> removed
//	active  --reset ok--> active
//
// A removed node only comes back through discovery.
const (
	StateUnknown State = "unknown"
	StateActive  State = "active"
	StateRemoved State = "removed"
)

// Device is a node reachable at an IPv4 address carrying one or more sensors.
type Device struct {
	Address      string    `json:"address"`
	SensorIDs    []int     `json:"sensor_ids"`
	State        State     `json:"state"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Sensor is one probe and the time of its newest observed reading.
// A zero LastRequestTime means the sensor has never been read.
type Sensor struct {
	ID              int       `json:"id"`
	Address         string    `json:"address"`
	LastRequestTime time.Time `json:"last_request_time"`
}

// Parameters are the measurement settings pushed to every node.
type Parameters struct {
	// MeasurementInterval is how often the node samples its probes.
	MeasurementInterval time.Duration

	// TempDifference is the change in °C the node needs before it stores a sample.
	TempDifference float64
}

// Node-accepted parameter ranges.
const (
	MinMeasurementInterval = time.Millisecond
	MaxMeasurementInterval = time.Minute
	MaxTempDifference      = 2.0
)

// Validate checks the parameters against the ranges a node accepts.
func (p Parameters) Validate() error {
	if p.MeasurementInterval < MinMeasurementInterval || p.MeasurementInterval > MaxMeasurementInterval {
		return fmt.Errorf("%w: measurement interval %v outside [%v, %v]",
			ErrInvalidParameters, p.MeasurementInterval, MinMeasurementInterval, MaxMeasurementInterval)
	}
	if p.TempDifference <= 0 || p.TempDifference > MaxTempDifference {
		return fmt.Errorf("%w: temperature difference %g outside (0, %g]",
			ErrInvalidParameters, p.TempDifference, MaxTempDifference)
	}
	return nil
}

// EventAction names a registry change.
type EventAction string

// Registry change actions.
const (
	ActionAdded     EventAction = "added"
	ActionRelocated EventAction = "relocated"
	ActionRemoved   EventAction = "removed"
	ActionReset     EventAction = "reset"
)

// Event describes one registry change. Events feed the audit trail,
// MQTT device status and the WebSocket stream.
type Event struct {
	Action    EventAction `json:"action"`
	Address   string      `json:"address"`
	SensorIDs []int       `json:"sensor_ids"`
	Details   string      `json:"details,omitempty"`
	At        time.Time   `json:"at"`
}

// EventSink receives registry events. Implementations must not block for long;
// they are called synchronously after the registry lock is released.
type EventSink interface {
	DeviceEvent(ctx context.Context, ev Event)
}

// Scanner finds nodes on the local network.
// *esp.Discoverer satisfies it.
type Scanner interface {
	Discover(ctx context.Context) ([]esp.Announcement, error)
}

// NodeClient is the subset of the node HTTP API the registry drives.
// *esp.Client satisfies it.
type NodeClient interface {
	Reset(ctx context.Context, address string) error
	SetInterval(ctx context.Context, address string, interval time.Duration) error
	SetTempDiff(ctx context.Context, address string, difference float64) error
}
