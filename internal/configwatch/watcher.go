package configwatch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
)

// Logger is the logging interface used by the Watcher.
type Logger interface {
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}

// ChangeFunc is called after a new snapshot has been published.
type ChangeFunc func(ctx context.Context, previous, current *config.Config)

// Watcher owns the active configuration snapshot.
type Watcher struct {
	path    string
	load    func(string) (*config.Config, error)
	current atomic.Pointer[config.Config]
	logger  Logger

	mu       sync.Mutex
	modTime  time.Time
	handlers []ChangeFunc
}

// New creates a watcher for path with initial as the active snapshot.
// initial is normally the result of config.Load(path) at startup.
func New(path string, initial *config.Config) (*Watcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	w := &Watcher{
		path:    path,
		load:    config.Load,
		logger:  noopLogger{},
		modTime: info.ModTime(),
	}
	w.current.Store(initial)
	return w, nil
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) {
	w.logger = logger
}

// Current returns the active snapshot.
func (w *Watcher) Current() *config.Config {
	return w.current.Load()
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	w.handlers = append(w.handlers, fn)
	w.mu.Unlock()
}

// Check reloads the file if its modification time changed.
//
// Returns:
//   - bool: true if a new snapshot was published
//   - error: If the file could not be read, parsed or validated
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("checking config file: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if info.ModTime().Equal(w.modTime) {
		return false, nil
	}

	next, err := w.load(w.path)
	if err != nil {
		return false, err
	}

	previous := w.current.Swap(next)
	w.modTime = info.ModTime()
	w.logger.Info("configuration reloaded", "path", w.path)

	for _, fn := range w.handlers {
		fn(ctx, previous, next)
	}
	return true, nil
}
