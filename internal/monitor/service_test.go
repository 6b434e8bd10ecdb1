package monitor

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/tempmon-core/internal/bridges/esp"
	"github.com/nerrad567/tempmon-core/internal/configwatch"
	"github.com/nerrad567/tempmon-core/internal/device"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
	"github.com/nerrad567/tempmon-core/internal/netcheck"
	"github.com/nerrad567/tempmon-core/internal/reading"
	"github.com/nerrad567/tempmon-core/internal/retrieval"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeChecker struct {
	mu        sync.Mutex
	reachable bool
	waitOK    int // waits that succeed even while unreachable
	waits     int
	target    string
}

func (c *fakeChecker) IsReachable(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

func (c *fakeChecker) WaitUntilReachable(ctx context.Context) error {
	c.mu.Lock()
	c.waits++
	reachable := c.reachable || c.waits <= c.waitOK
	c.mu.Unlock()
	if reachable {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeChecker) SetTarget(host string, _ int, _ time.Duration) {
	c.mu.Lock()
	c.target = host
	c.mu.Unlock()
}

type pushCall struct {
	address string
	params  device.Parameters
}

type fakeRegistry struct {
	mu        sync.Mutex
	added     []string // returned by the next Discover, then cleared
	devices   []string
	removed   map[string]bool
	pending   []string
	rounds    []int
	pushes    []pushCall
	blockPush bool
	reset     bool
}

func (r *fakeRegistry) Discover(_ context.Context, rounds int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, rounds)
	added := r.added
	r.added = nil
	r.devices = append(r.devices, added...)
	r.pending = append(r.pending, added...)
	return added, nil
}

func (r *fakeRegistry) TakePending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pending
	r.pending = nil
	return p
}

func (r *fakeRegistry) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.devices)
}

func (r *fakeRegistry) Has(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.devices, address) && !r.removed[address]
}

func (r *fakeRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *fakeRegistry) SetDeviceParameters(ctx context.Context, address string, params device.Parameters) error {
	r.mu.Lock()
	r.pushes = append(r.pushes, pushCall{address: address, params: params})
	block := r.blockPush
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (r *fakeRegistry) SetResetOnFailure(enabled bool) {
	r.mu.Lock()
	r.reset = enabled
	r.mu.Unlock()
}

func (r *fakeRegistry) pushCalls() []pushCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pushes)
}

func (r *fakeRegistry) discoverRounds() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rounds)
}

type pollCall struct {
	addresses []string
	initial   bool
}

type fakePoller struct {
	mu    sync.Mutex
	calls []pollCall
	cfg   retrieval.Config
}

func (p *fakePoller) PollAll(_ context.Context, addresses []string, initial bool) []*retrieval.Result {
	p.mu.Lock()
	p.calls = append(p.calls, pollCall{addresses: slices.Clone(addresses), initial: initial})
	p.mu.Unlock()

	results := make([]*retrieval.Result, len(addresses))
	for i, addr := range addresses {
		results[i] = &retrieval.Result{Address: addr, Accepted: map[int]int{1: 1}}
	}
	return results
}

func (p *fakePoller) SetConfig(cfg retrieval.Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *fakePoller) pollCalls() []pollCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

type fakeTuner struct {
	mu sync.Mutex
	th reading.Thresholds
}

func (f *fakeTuner) SetThresholds(th reading.Thresholds) {
	f.mu.Lock()
	f.th = th
	f.mu.Unlock()
}

type fakeConfig struct {
	mu       sync.Mutex
	cfg      *config.Config
	checks   int
	checkErr error
	onChange configwatch.ChangeFunc
}

func (c *fakeConfig) Current() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *fakeConfig) Check(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++
	return false, c.checkErr
}

// levelLogger counts messages per level.
type levelLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *levelLogger) Debug(string, ...any) {}
func (l *levelLogger) Info(string, ...any)  {}
func (l *levelLogger) Warn(string, ...any)  {}

func (l *levelLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *levelLogger) errorCount(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.errors {
		if m == msg {
			n++
		}
	}
	return n
}

func (c *fakeConfig) OnChange(fn configwatch.ChangeFunc) {
	c.onChange = fn
}

type fakeHealth struct {
	mu    sync.Mutex
	count int
	calls int
}

func (h *fakeHealth) SetDeviceCount(n int) {
	h.mu.Lock()
	h.count = n
	h.calls++
	h.mu.Unlock()
}

type harness struct {
	checker  *fakeChecker
	registry *fakeRegistry
	poller   *fakePoller
	tuner    *fakeTuner
	config   *fakeConfig
	health   *fakeHealth
	service  *Service
}

// testMonitorConfig polls quickly and never reloads or refreshes on its own.
func testMonitorConfig() *config.Config {
	cfg := config.Default()
	cfg.Monitor.PollIntervalMS = 20
	cfg.Monitor.ReloadInterval = time.Hour
	cfg.Monitor.Discovery.RefreshInterval = time.Hour
	return cfg
}

func newHarness(cfg *config.Config) *harness {
	h := &harness{
		checker:  &fakeChecker{reachable: true},
		registry: &fakeRegistry{removed: make(map[string]bool)},
		poller:   &fakePoller{},
		tuner:    &fakeTuner{},
		config:   &fakeConfig{cfg: cfg},
		health:   &fakeHealth{},
	}
	h.service = New(Deps{
		Checker:  h.checker,
		Registry: h.registry,
		Poller:   h.poller,
		Engine:   h.tuner,
		Config:   h.config,
		Health:   h.health,
	})
	h.service.tick = 5 * time.Millisecond
	return h
}

// start runs the service in the background; the returned func cancels it
// and waits for Run to return.
func (h *harness) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.service.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run() did not return after cancel")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// =============================================================================
// Run Tests
// =============================================================================

func TestService_StartupAndPoll(t *testing.T) {
	cfg := testMonitorConfig()
	h := newHarness(cfg)
	h.registry.added = []string{"192.168.0.21", "192.168.0.22"}

	stop := h.start(t)
	waitFor(t, "two incremental polls", func() bool {
		n := 0
		for _, c := range h.poller.pollCalls() {
			if !c.initial {
				n++
			}
		}
		return n >= 2
	})
	stop()

	if got := h.registry.discoverRounds(); len(got) == 0 || got[0] != cfg.Monitor.Discovery.StartupRounds {
		t.Errorf("discover rounds = %v, want startup %d first", got, cfg.Monitor.Discovery.StartupRounds)
	}

	calls := h.poller.pollCalls()
	first := calls[0]
	if !first.initial || !cmp.Equal(first.addresses, []string{"192.168.0.21", "192.168.0.22"}) {
		t.Errorf("first poll = %+v, want initial pass over both nodes", first)
	}
	for _, c := range calls[1:] {
		if c.initial {
			t.Errorf("later poll %+v is initial", c)
		}
	}

	want := []pushCall{
		{address: "192.168.0.21", params: Parameters(cfg.Monitor)},
		{address: "192.168.0.22", params: Parameters(cfg.Monitor)},
	}
	got := h.registry.pushCalls()
	slices.SortFunc(got, func(a, b pushCall) int {
		if a.address < b.address {
			return -1
		}
		return 1
	})
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(pushCall{})); diff != "" {
		t.Errorf("parameter pushes mismatch (-want +got):\n%s", diff)
	}

	h.health.mu.Lock()
	defer h.health.mu.Unlock()
	if h.health.count != 2 {
		t.Errorf("health device count = %d, want 2", h.health.count)
	}
}

func TestService_FirstContactSkipsRemovedDevice(t *testing.T) {
	h := newHarness(testMonitorConfig())
	h.registry.added = []string{"192.168.0.21", "192.168.0.22"}
	h.registry.removed["192.168.0.22"] = true

	stop := h.start(t)
	waitFor(t, "first contact", func() bool { return len(h.poller.pollCalls()) >= 1 })
	waitFor(t, "parameter push", func() bool { return len(h.registry.pushCalls()) >= 1 })
	stop()

	for _, c := range h.registry.pushCalls() {
		if c.address == "192.168.0.22" {
			t.Error("parameters pushed to a node removed during first contact")
		}
	}
}

func TestService_TriggerDiscovery(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.Monitor.PollIntervalMS = 3600000
	h := newHarness(cfg)

	stop := h.start(t)
	waitFor(t, "startup discovery", func() bool { return len(h.registry.discoverRounds()) == 1 })

	h.registry.mu.Lock()
	h.registry.added = []string{"192.168.0.30"}
	h.registry.mu.Unlock()

	h.service.TriggerDiscovery()
	h.service.TriggerDiscovery() // merged with the first

	waitFor(t, "refresh first contact", func() bool {
		for _, c := range h.poller.pollCalls() {
			if c.initial && slices.Contains(c.addresses, "192.168.0.30") {
				return true
			}
		}
		return false
	})
	stop()

	rounds := h.registry.discoverRounds()
	want := []int{cfg.Monitor.Discovery.StartupRounds, cfg.Monitor.Discovery.RefreshRounds}
	if len(rounds) < 2 || !cmp.Equal(rounds[:2], want) {
		t.Errorf("discover rounds = %v, want prefix %v", rounds, want)
	}
}

func TestService_PeriodicRefreshAndReload(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.Monitor.PollIntervalMS = 3600000
	cfg.Monitor.ReloadInterval = 10 * time.Millisecond
	cfg.Monitor.Discovery.RefreshInterval = 15 * time.Millisecond
	h := newHarness(cfg)

	stop := h.start(t)
	waitFor(t, "periodic refresh", func() bool { return len(h.registry.discoverRounds()) >= 3 })
	waitFor(t, "config checks", func() bool {
		h.config.mu.Lock()
		defer h.config.mu.Unlock()
		return h.config.checks >= 2
	})
	stop()

	for _, r := range h.registry.discoverRounds()[1:] {
		if r != cfg.Monitor.Discovery.RefreshRounds {
			t.Errorf("refresh rounds = %d, want %d", r, cfg.Monitor.Discovery.RefreshRounds)
		}
	}
	if got := len(h.poller.pollCalls()); got != 0 {
		t.Errorf("polls = %d, want 0 with an hour-long interval and no new nodes", got)
	}
}

func TestService_FailedReloadLoggedAsError(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.Monitor.PollIntervalMS = 3600000
	cfg.Monitor.ReloadInterval = 10 * time.Millisecond
	h := newHarness(cfg)
	h.config.checkErr = errors.New("config: invalid configuration")
	logger := &levelLogger{}
	h.service.SetLogger(logger)

	stop := h.start(t)
	waitFor(t, "failed reload logged", func() bool {
		return logger.errorCount("configuration reload failed, keeping previous") >= 2
	})
	stop()

	if h.config.Current() != cfg {
		t.Error("active config replaced after a failed reload")
	}
}

func TestService_CancelledWhileWaitingForNetwork(t *testing.T) {
	h := newHarness(testMonitorConfig())
	h.checker.reachable = false

	stop := h.start(t)
	waitFor(t, "reachability wait", func() bool {
		h.checker.mu.Lock()
		defer h.checker.mu.Unlock()
		return h.checker.waits == 1
	})
	stop()

	if got := h.registry.discoverRounds(); len(got) != 0 {
		t.Errorf("discovery ran while offline: %v", got)
	}
}

func TestService_PollPostponedWhenUnreachable(t *testing.T) {
	h := newHarness(testMonitorConfig())
	h.registry.added = []string{"192.168.0.21"}
	h.checker.reachable = false
	h.checker.waitOK = 1

	stop := h.start(t)
	waitFor(t, "poll waiting on network", func() bool {
		h.checker.mu.Lock()
		defer h.checker.mu.Unlock()
		return h.checker.waits >= 2
	})
	stop()

	for _, c := range h.poller.pollCalls() {
		if !c.initial {
			t.Errorf("incremental poll %+v ran while unreachable", c)
		}
	}
}

// =============================================================================
// ApplyConfig Tests
// =============================================================================

func TestService_ApplyConfig(t *testing.T) {
	h := newHarness(testMonitorConfig())
	h.registry.devices = []string{"192.168.0.21", "192.168.0.22"}

	if h.config.onChange == nil {
		t.Fatal("New() did not register a config change hook")
	}

	cur := testMonitorConfig()
	cur.Monitor.MaxTempDifference = 0.25
	cur.Monitor.MaxTimeDifference = 120
	cur.Monitor.MeasurementIntervalMS = 5000
	cur.Monitor.DeviceTempDifference = 0.5
	cur.Monitor.Fetch.Limit = 50
	cur.Monitor.Workers = 2
	cur.Monitor.Reachability.Host = "10.0.0.1"
	cur.Dev.ResetBoardAfterFail = true

	h.config.onChange(context.Background(), h.config.cfg, cur)
	h.service.pushWG.Wait()

	if want := (reading.Thresholds{MaxTempDifference: 0.25, MaxTimeDifference: 2 * time.Minute}); h.tuner.th != want {
		t.Errorf("thresholds = %+v, want %+v", h.tuner.th, want)
	}
	if h.poller.cfg.Limit != 50 || h.poller.cfg.Workers != 2 {
		t.Errorf("pipeline config = %+v, want limit 50 workers 2", h.poller.cfg)
	}
	if !h.registry.reset {
		t.Error("reset-on-failure not applied")
	}
	if h.checker.target != "10.0.0.1" {
		t.Errorf("checker target = %q, want 10.0.0.1", h.checker.target)
	}

	wantParams := device.Parameters{MeasurementInterval: 5 * time.Second, TempDifference: 0.5}
	pushes := h.registry.pushCalls()
	if len(pushes) != 2 {
		t.Fatalf("pushes = %d, want 2", len(pushes))
	}
	for _, p := range pushes {
		if p.params != wantParams {
			t.Errorf("push to %s = %+v, want %+v", p.address, p.params, wantParams)
		}
	}
}

func TestService_PushSupersedesInFlight(t *testing.T) {
	h := newHarness(testMonitorConfig())
	h.registry.blockPush = true

	ctx := context.Background()
	h.service.pushParameters(ctx, "192.168.0.21", device.Parameters{MeasurementInterval: time.Second, TempDifference: 0.2})
	waitFor(t, "first push", func() bool { return len(h.registry.pushCalls()) == 1 })

	h.service.pushParameters(ctx, "192.168.0.21", device.Parameters{MeasurementInterval: 2 * time.Second, TempDifference: 0.2})
	waitFor(t, "second push", func() bool { return len(h.registry.pushCalls()) == 2 })

	h.service.pushMu.Lock()
	inflight := len(h.service.pushes)
	h.service.pushMu.Unlock()
	if inflight != 1 {
		t.Errorf("in-flight pushes = %d, want 1", inflight)
	}

	// Cancelling the survivor lets every goroutine finish.
	h.service.pushMu.Lock()
	for _, p := range h.service.pushes {
		p.cancel()
	}
	h.service.pushMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.service.pushWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push goroutines did not finish")
	}
}

func TestConversions(t *testing.T) {
	m := config.Default().Monitor

	if got := Thresholds(m); got.MaxTempDifference != m.MaxTempDifference || got.MaxTimeDifference != time.Hour {
		t.Errorf("Thresholds() = %+v", got)
	}
	if got := Parameters(m); got.MeasurementInterval != time.Second || got.TempDifference != m.DeviceTempDifference {
		t.Errorf("Parameters() = %+v", got)
	}
	if err := Parameters(m).Validate(); err != nil {
		t.Errorf("default parameters invalid: %v", err)
	}

	got := PipelineConfig(m)
	want := retrieval.Config{Limit: 100, MaxAttempts: 3, RetryBackoff: 500 * time.Millisecond, Slack: 10 * time.Second, MaxPages: 1000, Workers: 8}
	if got != want {
		t.Errorf("PipelineConfig() = %+v, want %+v", got, want)
	}
}

var (
	_ Reachability  = (*netcheck.Checker)(nil)
	_ Registry      = (*device.Registry)(nil)
	_ Poller        = (*retrieval.Pipeline)(nil)
	_ Tuner         = (*reading.Engine)(nil)
	_ ConfigSource  = (*configwatch.Watcher)(nil)
	_ DeviceCounter = (*esp.HealthReporter)(nil)
)
