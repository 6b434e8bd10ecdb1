package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tempmon-core/internal/device"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tempmon-core/internal/reading"
)

// DefaultTelemetryBuffer is the queue depth of a Telemetry.
const DefaultTelemetryBuffer = 256

// Publisher sends JSON messages. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
}

// ReadingMessage is published on {prefix}/reading/{sensor_id}.
type ReadingMessage struct {
	SensorID    int       `json:"sensor_id"`
	Temperature float64   `json:"temperature"`
	ObservedAt  time.Time `json:"observed_at"`
	Action      string    `json:"action"`
	RecordID    int64     `json:"record_id"`
}

// StatusMessage is published retained on {prefix}/device/{address}/status.
type StatusMessage struct {
	Address   string       `json:"address"`
	State     device.State `json:"state"`
	Action    string       `json:"action"`
	SensorIDs []int        `json:"sensor_ids"`
	Details   string       `json:"details,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type outbound struct {
	topic    string
	payload  any
	retained bool
}

// Telemetry publishes processed readings and node status changes.
//
// It implements reading.Sink and device.EventSink. Messages are queued and
// published by Run; when the queue is full or the broker is unreachable
// they are dropped and counted.
type Telemetry struct {
	pub     Publisher
	topics  mqtt.Topics
	queue   chan outbound
	dropped atomic.Uint64
	logger  Logger
}

// NewTelemetry creates a telemetry fan-out. A buffer of zero or less uses
// DefaultTelemetryBuffer.
func NewTelemetry(pub Publisher, topics mqtt.Topics, buffer int) *Telemetry {
	if buffer <= 0 {
		buffer = DefaultTelemetryBuffer
	}
	return &Telemetry{
		pub:    pub,
		topics: topics,
		queue:  make(chan outbound, buffer),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the fan-out.
func (t *Telemetry) SetLogger(logger Logger) {
	t.logger = logger
}

// ReadingProcessed queues inserted and coalesced readings. Duplicates are not published.
func (t *Telemetry) ReadingProcessed(_ context.Context, o reading.Outcome) {
	if o.Action == reading.ActionSkip {
		return
	}
	t.enqueue(outbound{
		topic: t.topics.Reading(o.Reading.SensorID),
		payload: ReadingMessage{
			SensorID:    o.Reading.SensorID,
			Temperature: o.Reading.Temperature,
			ObservedAt:  o.Reading.ObservedAt,
			Action:      string(o.Action),
			RecordID:    o.Record.ID,
		},
	})
}

// DeviceEvent queues a retained status message for the node.
func (t *Telemetry) DeviceEvent(_ context.Context, ev device.Event) {
	state := device.StateActive
	if ev.Action == device.ActionRemoved {
		state = device.StateRemoved
	}
	t.enqueue(outbound{
		topic: t.topics.DeviceStatus(ev.Address),
		payload: StatusMessage{
			Address:   ev.Address,
			State:     state,
			Action:    string(ev.Action),
			SensorIDs: ev.SensorIDs,
			Details:   ev.Details,
			Timestamp: ev.At,
		},
		retained: true,
	})
}

// Dropped returns how many messages were discarded.
func (t *Telemetry) Dropped() uint64 {
	return t.dropped.Load()
}

// Run publishes queued messages until ctx is cancelled.
func (t *Telemetry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			t.publish(msg)
		}
	}
}

func (t *Telemetry) enqueue(msg outbound) {
	select {
	case t.queue <- msg:
	default:
		if t.dropped.Add(1)%100 == 1 {
			t.logger.Warn("telemetry queue full, dropping messages", "dropped", t.dropped.Load())
		}
	}
}

func (t *Telemetry) publish(msg outbound) {
	if !t.pub.IsConnected() {
		t.dropped.Add(1)
		return
	}
	if err := t.pub.PublishJSON(msg.topic, msg.payload, msg.retained); err != nil {
		t.dropped.Add(1)
		t.logger.Warn("telemetry publish failed", "topic", msg.topic, "error", err)
	}
}

// ReadingWriter mirrors readings to a time-series store.
// *influxdb.Client satisfies it.
type ReadingWriter interface {
	WriteReading(sensorID int, temperature float64, action string, observedAt time.Time)
}

// Mirror returns a reading.Sink that forwards every outcome, duplicates
// included, to w.
func Mirror(w ReadingWriter) reading.Sink {
	return reading.SinkFunc(func(_ context.Context, o reading.Outcome) {
		w.WriteReading(o.Reading.SensorID, o.Reading.Temperature, string(o.Action), o.Reading.ObservedAt)
	})
}
