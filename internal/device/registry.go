package device

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/tempmon-core/internal/bridges/esp"
)

// Parameter push retry defaults.
const (
	defaultPushInitialInterval = 500 * time.Millisecond
	defaultPushMaxInterval     = 30 * time.Second
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// sensorEntry tracks which node a sensor lives on and when it was last read.
type sensorEntry struct {
	address     string
	lastRequest time.Time
}

// Registry is the single owner of the set of known nodes, their sensors and
// each sensor's last-request time.
//
// Devices enter the registry only through Discover and leave it only through
// Disconnect. Newly added devices are queued for a first-contact fetch which
// the caller drains with TakePending.
//
// All public methods are thread-safe. Network calls are made without holding
// the registry lock.
type Registry struct {
	scanner Scanner
	node    NodeClient

	mu      sync.Mutex
	devices map[string]*Device
	sensors map[int]*sensorEntry
	pending map[string]struct{}

	resetOnFailure atomic.Bool

	pushInitial time.Duration
	pushMax     time.Duration

	sinksMu sync.RWMutex
	sinks   []EventSink

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry that discovers nodes with scanner
// and drives them through node.
func NewRegistry(scanner Scanner, node NodeClient) *Registry {
	return &Registry{
		scanner:     scanner,
		node:        node,
		devices:     make(map[string]*Device),
		sensors:     make(map[int]*sensorEntry),
		pending:     make(map[string]struct{}),
		pushInitial: defaultPushInitialInterval,
		pushMax:     defaultPushMaxInterval,
		logger:      noopLogger{},
		now:         time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetResetOnFailure controls whether Disconnect asks the node to reset
// instead of forgetting it. Safe to call while the registry is in use.
func (r *Registry) SetResetOnFailure(enabled bool) {
	r.resetOnFailure.Store(enabled)
}

// SetPushBackoff sets the retry interval bounds for SetDeviceParameters.
func (r *Registry) SetPushBackoff(initial, maxInterval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if initial > 0 {
		r.pushInitial = initial
	}
	if maxInterval > 0 {
		r.pushMax = maxInterval
	}
}

// AddSink registers a consumer for registry events.
func (r *Registry) AddSink(s EventSink) {
	r.sinksMu.Lock()
	r.sinks = append(r.sinks, s)
	r.sinksMu.Unlock()
}

// Discover runs the given number of broadcast rounds and registers every
// announced (address, sensor) pair not already known.
//
// Re-announcing a known pair is a no-op. A sensor announced from a new
// address is moved there and keeps its last-request time.
//
// Parameters:
//   - ctx: Cancels listening between and during rounds
//   - rounds: Number of broadcast rounds; values below 1 run one round
//
// Returns:
//   - []string: Addresses of devices added by this call, sorted
//   - error: If the discovery socket could not be used
func (r *Registry) Discover(ctx context.Context, rounds int) ([]string, error) {
	if rounds < 1 {
		rounds = 1
	}

	var added []string
	for i := 0; i < rounds && ctx.Err() == nil; i++ {
		announcements, err := r.scanner.Discover(ctx)
		if err != nil {
			slices.Sort(added)
			return added, fmt.Errorf("discovery round %d: %w", i+1, err)
		}

		for _, ann := range announcements {
			isNew, events := r.register(ann)
			if isNew {
				added = append(added, ann.Address)
			}
			r.emit(ctx, events)
		}
	}

	slices.Sort(added)
	return added, nil
}

// register records one announcement. It reports whether the device itself is new.
func (r *Registry) register(ann esp.Announcement) (bool, []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	var events []Event

	dev, exists := r.devices[ann.Address]
	if !exists {
		dev = &Device{
			Address:      ann.Address,
			State:        StateActive,
			DiscoveredAt: now,
		}
		r.devices[ann.Address] = dev
		r.pending[ann.Address] = struct{}{}
	}

	var fresh []int
	for _, id := range ann.SensorIDs {
		entry, known := r.sensors[id]
		switch {
		case !known:
			r.sensors[id] = &sensorEntry{address: ann.Address}
			dev.SensorIDs = append(dev.SensorIDs, id)
			fresh = append(fresh, id)

		case entry.address != ann.Address:
			from := entry.address
			r.detachSensor(from, id)
			entry.address = ann.Address
			dev.SensorIDs = append(dev.SensorIDs, id)

			r.logger.Info("sensor relocated", "sensor_id", id, "from", from, "to", ann.Address)
			events = append(events, Event{
				Action:    ActionRelocated,
				Address:   ann.Address,
				SensorIDs: []int{id},
				Details:   "moved from " + from,
				At:        now,
			})
		}
	}
	slices.Sort(dev.SensorIDs)

	if len(fresh) > 0 {
		r.logger.Info("device added", "address", ann.Address, "sensor_ids", fresh)
		events = append(events, Event{
			Action:    ActionAdded,
			Address:   ann.Address,
			SensorIDs: fresh,
			At:        now,
		})
	}

	return !exists, events
}

// detachSensor removes id from the device at address, dropping the device
// when it has no sensors left. Caller must hold r.mu.
func (r *Registry) detachSensor(address string, id int) {
	dev, ok := r.devices[address]
	if !ok {
		return
	}
	dev.SensorIDs = slices.DeleteFunc(dev.SensorIDs, func(s int) bool { return s == id })
	if len(dev.SensorIDs) == 0 {
		delete(r.devices, address)
		delete(r.pending, address)
	}
}

// Disconnect handles a node that stopped answering.
//
// With reset-on-failure disabled the device, its sensors and their
// last-request times are forgotten. With it enabled the node is asked to
// restart; only an explicit success keeps it registered, anything else
// falls back to removal.
//
// Returns true when the device was reset and is still registered.
func (r *Registry) Disconnect(ctx context.Context, address string) bool {
	if r.resetOnFailure.Load() {
		err := r.node.Reset(ctx, address)
		if err == nil {
			r.logger.Info("device reset", "address", address)
			r.emit(ctx, []Event{{
				Action:    ActionReset,
				Address:   address,
				SensorIDs: r.sensorIDs(address),
				At:        r.now().UTC(),
			}})
			return true
		}
		r.logger.Warn("device reset failed, removing", "address", address, "error", err)
	}

	r.remove(ctx, address)
	return false
}

func (r *Registry) remove(ctx context.Context, address string) {
	r.mu.Lock()
	dev, ok := r.devices[address]
	if !ok {
		r.mu.Unlock()
		return
	}
	for _, id := range dev.SensorIDs {
		delete(r.sensors, id)
	}
	delete(r.devices, address)
	delete(r.pending, address)
	dev.State = StateRemoved
	r.mu.Unlock()

	r.logger.Info("device removed", "address", address, "sensor_ids", dev.SensorIDs)
	r.emit(ctx, []Event{{
		Action:    ActionRemoved,
		Address:   address,
		SensorIDs: dev.SensorIDs,
		At:        r.now().UTC(),
	}})
}

// SetDeviceParameters pushes the measurement interval and then the
// temperature difference to the node at address.
//
// Each push is retried with exponential backoff until the node acknowledges
// it. A 4xx answer means the node refused the value; that parameter is
// logged and abandoned.
//
// Returns:
//   - error: ErrInvalidParameters for out-of-range values, or the context
//     error if ctx ends before both pushes finish
func (r *Registry) SetDeviceParameters(ctx context.Context, address string, params Parameters) error {
	if err := params.Validate(); err != nil {
		return err
	}

	pushes := []struct {
		name string
		push func() error
	}{
		{"interval", func() error { return r.node.SetInterval(ctx, address, params.MeasurementInterval) }},
		{"temperature difference", func() error { return r.node.SetTempDiff(ctx, address, params.TempDifference) }},
	}

	for _, p := range pushes {
		if err := r.pushUntilAcknowledged(ctx, address, p.name, p.push); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) pushUntilAcknowledged(ctx context.Context, address, name string, push func() error) error {
	r.mu.Lock()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.pushInitial
	b.MaxInterval = r.pushMax
	r.mu.Unlock()
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := push()
		if errors.Is(err, esp.ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("parameter push failed, retrying",
			"address", address, "parameter", name, "attempt", attempt, "retry_in", wait, "error", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	switch {
	case err == nil:
		r.logger.Debug("parameter pushed", "address", address, "parameter", name, "attempts", attempt)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, esp.ErrRejected):
		r.logger.Error("parameter rejected by device", "address", address, "parameter", name, "error", err)
		return nil
	default:
		return err
	}
}

// TakePending returns the devices awaiting a first-contact fetch and clears
// the queue.
func (r *Registry) TakePending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.pending))
	for addr := range r.pending {
		out = append(out, addr)
	}
	clear(r.pending)
	slices.Sort(out)
	return out
}

// LastRequestTime returns the observation time of the newest reading seen
// for sensorID. The zero time means the sensor has never been read.
func (r *Registry) LastRequestTime(sensorID int) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sensors[sensorID]
	if !ok {
		return time.Time{}, ErrSensorNotFound
	}
	return entry.lastRequest, nil
}

// AdvanceLastRequestTime moves the sensor's last-request time forward to t.
// Earlier times and unknown sensors are ignored; it reports whether the
// time moved.
func (r *Registry) AdvanceLastRequestTime(sensorID int, t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sensors[sensorID]
	if !ok || !t.After(entry.lastRequest) {
		return false
	}
	entry.lastRequest = t
	return true
}

// EarliestRequestTime returns the oldest last-request time across the
// device's sensors. It returns the zero time if any sensor has never been
// read.
func (r *Registry) EarliestRequestTime(address string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[address]
	if !ok {
		return time.Time{}, ErrDeviceNotFound
	}

	var earliest time.Time
	for i, id := range dev.SensorIDs {
		t := r.sensors[id].lastRequest
		if t.IsZero() {
			return time.Time{}, nil
		}
		if i == 0 || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest, nil
}

// Device returns a copy of the device at address.
func (r *Registry) Device(address string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[address]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return copyDevice(dev), nil
}

// Has reports whether a device is registered at address.
func (r *Registry) Has(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[address]
	return ok
}

// Devices returns copies of all registered devices ordered by address.
func (r *Registry) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, copyDevice(d))
	}
	slices.SortFunc(out, func(a, b Device) int { return compareAddress(a.Address, b.Address) })
	return out
}

// Addresses returns the registered addresses ordered by address.
func (r *Registry) Addresses() []string {
	devices := r.Devices()
	out := make([]string, len(devices))
	for i, d := range devices {
		out[i] = d.Address
	}
	return out
}

// Sensors returns all registered sensors ordered by id.
func (r *Registry) Sensors() []Sensor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Sensor, 0, len(r.sensors))
	for id, e := range r.sensors {
		out = append(out, Sensor{ID: id, Address: e.address, LastRequestTime: e.lastRequest})
	}
	slices.SortFunc(out, func(a, b Sensor) int { return a.ID - b.ID })
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *Registry) sensorIDs(address string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[address]; ok {
		return slices.Clone(dev.SensorIDs)
	}
	return nil
}

func (r *Registry) emit(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	r.sinksMu.RLock()
	sinks := slices.Clone(r.sinks)
	r.sinksMu.RUnlock()

	for _, ev := range events {
		for _, s := range sinks {
			s.DeviceEvent(ctx, ev)
		}
	}
}

func copyDevice(d *Device) Device {
	c := *d
	c.SensorIDs = slices.Clone(d.SensorIDs)
	return c
}

// compareAddress orders IPv4 addresses numerically, falling back to text order.
func compareAddress(a, b string) int {
	pa, errA := netip.ParseAddr(a)
	pb, errB := netip.ParseAddr(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return pa.Compare(pb)
}
