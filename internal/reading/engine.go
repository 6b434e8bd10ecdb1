package reading

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that discards all output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine applies the compaction rules and writes through a Repository.
//
// Thread Safety:
//   - Process may be called concurrently. Calls for the same sensor are
//     serialised so the prior rows cannot change between read and write.
type Engine struct {
	repo   Repository
	logger Logger

	mu         sync.RWMutex
	thresholds Thresholds
	sinks      []Sink

	locksMu sync.Mutex
	locks   map[int]*sync.Mutex
}

// NewEngine creates an engine over repo with the given thresholds.
func NewEngine(repo Repository, th Thresholds) *Engine {
	return &Engine{
		repo:       repo,
		logger:     noopLogger{},
		thresholds: th,
		locks:      make(map[int]*sync.Mutex),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetThresholds replaces the compaction thresholds. Used on config reload.
func (e *Engine) SetThresholds(th Thresholds) {
	e.mu.Lock()
	e.thresholds = th
	e.mu.Unlock()
}

// Thresholds returns the active compaction thresholds.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// AddSink registers a consumer for processed readings.
func (e *Engine) AddSink(s Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// Process decides and persists one reading.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - r: A non-sentinel reading
//
// Returns:
//   - Outcome: The action taken and the affected row
//   - error: ErrSentinel, ErrInvalidReading, or an error wrapping ErrStore
func (e *Engine) Process(ctx context.Context, r Reading) (Outcome, error) {
	if r.IsSentinel() {
		return Outcome{}, ErrSentinel
	}
	if r.ObservedAt.IsZero() {
		return Outcome{}, fmt.Errorf("%w: sensor %d has no timestamp", ErrInvalidReading, r.SensorID)
	}

	unlock := e.lockSensor(r.SensorID)
	out, err := e.process(ctx, r)
	unlock()

	if err != nil {
		return Outcome{}, err
	}

	e.logger.Debug("reading processed",
		"sensor_id", r.SensorID,
		"temperature", r.Temperature,
		"action", string(out.Action),
	)
	e.notify(ctx, out)

	return out, nil
}

func (e *Engine) process(ctx context.Context, r Reading) (Outcome, error) {
	prior, err := e.repo.LastTwo(ctx, r.SensorID)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: loading prior rows: %w", ErrStore, err)
	}

	out := Outcome{Reading: r, Action: Decide(r, prior, e.Thresholds())}

	switch out.Action {
	case ActionCoalesce:
		rec, err := e.repo.TouchLatest(ctx, r.SensorID, r.ObservedAt)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: updating latest row: %w", ErrStore, err)
		}
		out.Record = rec

	default:
		rec, inserted, err := e.repo.InsertIfNotDuplicate(ctx, r)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: inserting row: %w", ErrStore, err)
		}
		if !inserted {
			out.Action = ActionSkip
			break
		}
		out.Record = rec
	}

	return out, nil
}

func (e *Engine) notify(ctx context.Context, out Outcome) {
	e.mu.RLock()
	sinks := e.sinks
	e.mu.RUnlock()

	for _, s := range sinks {
		s.ReadingProcessed(ctx, out)
	}
}

// lockSensor acquires the per-sensor critical section and returns its release.
func (e *Engine) lockSensor(sensorID int) func() {
	e.locksMu.Lock()
	l, ok := e.locks[sensorID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sensorID] = l
	}
	e.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}
