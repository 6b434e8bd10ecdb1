package audit

import (
	"context"
	"time"

	"github.com/nerrad567/tempmon-core/internal/device"
)

// recordTimeout bounds one event write so a slow store cannot stall the registry.
const recordTimeout = 5 * time.Second

// Logger is the logging interface used by the Recorder.
type Logger interface {
	Error(msg string, args ...any)
}

// Recorder persists registry events. It implements device.EventSink.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder writing to repo. Write failures are logged
// through logger and otherwise ignored.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// DeviceEvent stores ev as a device_events row.
func (r *Recorder) DeviceEvent(ctx context.Context, ev device.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	entry := &Entry{
		Action:    string(ev.Action),
		Address:   ev.Address,
		SensorIDs: ev.SensorIDs,
		Details:   ev.Details,
		CreatedAt: ev.At,
	}
	if err := r.repo.Create(ctx, entry); err != nil && r.logger != nil {
		r.logger.Error("recording device event failed", "action", ev.Action, "address", ev.Address, "error", err)
	}
}
