package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/tempmon-core/internal/configwatch"
	"github.com/nerrad567/tempmon-core/internal/device"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
	"github.com/nerrad567/tempmon-core/internal/reading"
	"github.com/nerrad567/tempmon-core/internal/retrieval"
)

// DefaultTick is the loop resolution.
const DefaultTick = time.Second

// Logger defines the logging interface used by the service.
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

// Reachability gates network activity. *netcheck.Checker satisfies it.
type Reachability interface {
	IsReachable(ctx context.Context) bool
	WaitUntilReachable(ctx context.Context) error
	SetTarget(host string, port int, timeout time.Duration)
}

// Registry is the part of the device registry the loop drives.
// *device.Registry satisfies it.
type Registry interface {
	Discover(ctx context.Context, rounds int) ([]string, error)
	TakePending() []string
	Addresses() []string
	Has(address string) bool
	Count() int
	SetDeviceParameters(ctx context.Context, address string, params device.Parameters) error
	SetResetOnFailure(enabled bool)
}

// Poller runs retrieval passes. *retrieval.Pipeline satisfies it.
type Poller interface {
	PollAll(ctx context.Context, addresses []string, initial bool) []*retrieval.Result
	SetConfig(cfg retrieval.Config)
}

// Tuner takes new compaction thresholds. *reading.Engine satisfies it.
type Tuner interface {
	SetThresholds(th reading.Thresholds)
}

// ConfigSource holds the live configuration. *configwatch.Watcher satisfies it.
type ConfigSource interface {
	Current() *config.Config
	Check(ctx context.Context) (bool, error)
	OnChange(fn configwatch.ChangeFunc)
}

// DeviceCounter is told the registry size after membership may have
// changed. *esp.HealthReporter satisfies it.
type DeviceCounter interface {
	SetDeviceCount(count int)
}

// Deps are the collaborators of a Service. Health is optional.
type Deps struct {
	Checker  Reachability
	Registry Registry
	Poller   Poller
	Engine   Tuner
	Config   ConfigSource
	Health   DeviceCounter
}

// Service is the supervising acquisition loop.
//
// Thread Safety:
//   - Run must be called once.
//   - TriggerDiscovery and ApplyConfig may be called from any goroutine.
type Service struct {
	deps   Deps
	logger Logger
	tick   time.Duration
	now    func() time.Time

	refresh chan struct{}

	pushMu sync.Mutex
	pushes map[string]*push
	pushWG sync.WaitGroup
}

// push is an in-flight parameter push to one node.
type push struct {
	cancel context.CancelFunc
}

// New creates a service and subscribes it to configuration changes.
func New(deps Deps) *Service {
	s := &Service{
		deps:    deps,
		logger:  noopLogger{},
		tick:    DefaultTick,
		now:     time.Now,
		refresh: make(chan struct{}, 1),
		pushes:  make(map[string]*push),
	}
	deps.Config.OnChange(s.ApplyConfig)
	return s
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// TriggerDiscovery requests a discovery refresh on the next loop iteration.
// Requests made while one is already queued are merged.
func (s *Service) TriggerDiscovery() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
//
// Startup waits for the reference host, discovers with the startup round
// count and reads every new node's full backlog. The loop then runs the
// poll, reload and refresh cadences from the live configuration.
//
// Returns:
//   - error: nil on cancellation; in-flight parameter pushes are cancelled
//     and waited for before returning
func (s *Service) Run(ctx context.Context) error {
	defer s.pushWG.Wait()

	s.logger.Info("waiting for network")
	if err := s.deps.Checker.WaitUntilReachable(ctx); err != nil {
		return nil //nolint:nilerr // Cancelled before startup finished
	}

	cfg := s.deps.Config.Current()
	s.refreshDevices(ctx, cfg.Monitor.Discovery.StartupRounds)
	s.logger.Info("monitor started",
		"devices", s.deps.Registry.Count(),
		"poll_interval", cfg.Monitor.PollInterval(),
	)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	start := s.now()
	lastPoll, lastReload, lastRefresh := start, start, start

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor stopping")
			return nil

		case <-s.refresh:
			s.logger.Info("discovery refresh requested")
			s.refreshDevices(ctx, s.deps.Config.Current().Monitor.Discovery.RefreshRounds)
			lastRefresh = s.now()

		case <-ticker.C:
			now := s.now()
			m := s.deps.Config.Current().Monitor

			if now.Sub(lastReload) >= m.ReloadInterval {
				lastReload = now
				s.checkConfig(ctx)
				m = s.deps.Config.Current().Monitor
			}
			if now.Sub(lastRefresh) >= m.Discovery.RefreshInterval {
				lastRefresh = now
				s.refreshDevices(ctx, m.Discovery.RefreshRounds)
			}
			if now.Sub(lastPoll) >= m.PollInterval() {
				lastPoll = now
				s.poll(ctx)
			}
		}
	}
}

// ApplyConfig re-tunes every component from cur and pushes the node
// parameters to every registered device. It is the configwatch change hook.
func (s *Service) ApplyConfig(ctx context.Context, _, cur *config.Config) {
	m := cur.Monitor

	s.deps.Engine.SetThresholds(Thresholds(m))
	s.deps.Poller.SetConfig(PipelineConfig(m))
	s.deps.Registry.SetResetOnFailure(cur.Dev.ResetBoardAfterFail)
	s.deps.Checker.SetTarget(m.Reachability.Host, m.Reachability.Port, m.Reachability.Timeout)

	params := Parameters(m)
	addrs := s.deps.Registry.Addresses()
	s.logger.Info("configuration applied",
		"devices", len(addrs),
		"measurement_interval", params.MeasurementInterval,
		"temp_difference", params.TempDifference,
	)
	for _, addr := range addrs {
		s.pushParameters(ctx, addr, params)
	}
}

// checkConfig reloads the file if it changed. A failed load keeps the
// previous snapshot and is retried on the next check.
func (s *Service) checkConfig(ctx context.Context) {
	if _, err := s.deps.Config.Check(ctx); err != nil {
		s.logger.Error("configuration reload failed, keeping previous", "error", err)
	}
}

// refreshDevices discovers nodes, gives every newly added node its first
// contact and updates the health device count.
func (s *Service) refreshDevices(ctx context.Context, rounds int) {
	added, err := s.deps.Registry.Discover(ctx, rounds)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("discovery failed", "error", err)
	}
	if len(added) > 0 {
		s.logger.Info("devices added", "addresses", added, "total", s.deps.Registry.Count())
	}

	s.firstContact(ctx)
	s.reportCount()
}

// firstContact reads the full backlog of every pending node, then pushes
// parameters to those that survived the read.
func (s *Service) firstContact(ctx context.Context) {
	pending := s.deps.Registry.TakePending()
	if len(pending) == 0 {
		return
	}

	s.deps.Poller.PollAll(ctx, pending, true)
	if ctx.Err() != nil {
		return
	}

	params := Parameters(s.deps.Config.Current().Monitor)
	for _, addr := range pending {
		if !s.deps.Registry.Has(addr) {
			continue
		}
		s.pushParameters(ctx, addr, params)
	}
}

// poll runs one incremental pass over every registered node.
func (s *Service) poll(ctx context.Context) {
	if !s.deps.Checker.IsReachable(ctx) {
		s.logger.Warn("network unreachable, poll postponed")
		if err := s.deps.Checker.WaitUntilReachable(ctx); err != nil {
			return
		}
	}

	addrs := s.deps.Registry.Addresses()
	if len(addrs) == 0 {
		s.logger.Debug("no devices to poll")
		return
	}

	results := s.deps.Poller.PollAll(ctx, addrs, false)

	var accepted, failed int
	for _, res := range results {
		if res == nil {
			failed++
			continue
		}
		accepted += res.Total()
		if res.Disconnected {
			failed++
		}
	}
	s.logger.Debug("poll complete", "devices", len(addrs), "accepted", accepted, "failed", failed)

	if failed > 0 {
		s.reportCount()
	}
}

// pushParameters starts a background push to address, cancelling any push
// to the same node that is still retrying.
func (s *Service) pushParameters(ctx context.Context, address string, params device.Parameters) {
	pctx, cancel := context.WithCancel(ctx)
	p := &push{cancel: cancel}

	s.pushMu.Lock()
	if prev, ok := s.pushes[address]; ok {
		prev.cancel()
	}
	s.pushes[address] = p
	s.pushMu.Unlock()

	s.pushWG.Add(1)
	go func() {
		defer s.pushWG.Done()
		defer cancel()

		err := s.deps.Registry.SetDeviceParameters(pctx, address, params)

		s.pushMu.Lock()
		if s.pushes[address] == p {
			delete(s.pushes, address)
		}
		s.pushMu.Unlock()

		switch {
		case err == nil:
			s.logger.Debug("parameters pushed", "address", address)
		case errors.Is(err, context.Canceled):
			s.logger.Debug("parameter push cancelled", "address", address)
		default:
			s.logger.Warn("parameter push failed", "address", address, "error", err)
		}
	}()
}

func (s *Service) reportCount() {
	if s.deps.Health != nil {
		s.deps.Health.SetDeviceCount(s.deps.Registry.Count())
	}
}
