package reading

import (
	"context"
	"time"
)

// SentinelTemperature is reported by a node when the probe read failed.
const SentinelTemperature = -127.0

// DuplicateWindow is how close two identical temperatures for one sensor may
// be before the later one is treated as the same mention.
const DuplicateWindow = 5 * time.Second

// Reading is one sample as observed by the collector.
type Reading struct {
	SensorID    int       `json:"sensor_id"`
	Temperature float64   `json:"temperature"`
	ObservedAt  time.Time `json:"observed_at"`
}

// IsSentinel reports whether the reading carries the failed-sample marker.
func (r Reading) IsSentinel() bool {
	return r.Temperature == SentinelTemperature
}

// Record is a persisted row of the time series.
type Record struct {
	ID          int64     `json:"id"`
	Temperature float64   `json:"temperature"`
	Time        time.Time `json:"time"`
	SensorID    int       `json:"sensor_id"`
}

// SensorSummary describes one sensor's stored series.
type SensorSummary struct {
	SensorID   int       `json:"sensor_id"`
	Records    int64     `json:"records"`
	LastTemp   float64   `json:"last_temperature"`
	LastTime   time.Time `json:"last_time"`
	LastRecord int64     `json:"last_record_id"`
}

// Action is the engine's verdict for a reading.
type Action string

// Engine actions.
const (
	ActionInsert   Action = "insert"
	ActionCoalesce Action = "coalesce"
	ActionSkip     Action = "skip"
)

// Thresholds control compaction.
type Thresholds struct {
	// MaxTempDifference bounds what counts as an unchanged temperature.
	MaxTempDifference float64

	// MaxTimeDifference is how long a flat segment may grow before a new
	// row is started anyway.
	MaxTimeDifference time.Duration
}

// Outcome reports what the engine did with a reading.
type Outcome struct {
	Reading Reading `json:"reading"`
	Action  Action  `json:"action"`

	// Record is the inserted row, or the coalesced row with its new time.
	// Zero for skips.
	Record Record `json:"record"`
}

// Repository is the persistence boundary for the time series.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// LastTwo returns up to two most recent rows for a sensor, newest first.
	LastTwo(ctx context.Context, sensorID int) ([]Record, error)

	// InsertIfNotDuplicate stores the reading unless a row with the same
	// sensor and temperature exists within DuplicateWindow of its time.
	// The check and the insert are atomic.
	//
	// Returns:
	//   - Record: The new row (zero when a duplicate was found)
	//   - bool: true if a row was inserted
	//   - error: Persistence failure
	InsertIfNotDuplicate(ctx context.Context, r Reading) (Record, bool, error)

	// TouchLatest sets the newest row's time for a sensor and returns it.
	TouchLatest(ctx context.Context, sensorID int, t time.Time) (Record, error)

	// ListRecent returns the newest rows for a sensor, newest first.
	ListRecent(ctx context.Context, sensorID int, limit int) ([]Record, error)

	// ListSensors summarises every sensor with stored rows, ascending by id.
	ListSensors(ctx context.Context) ([]SensorSummary, error)
}

// Sink receives every outcome after the engine has finished with a reading.
// Sinks must not block; slow consumers should buffer or drop.
type Sink interface {
	ReadingProcessed(ctx context.Context, o Outcome)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, o Outcome)

// ReadingProcessed calls f(ctx, o).
func (f SinkFunc) ReadingProcessed(ctx context.Context, o Outcome) {
	f(ctx, o)
}
