package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tempmon-core/internal/bridges/esp"
	"github.com/nerrad567/tempmon-core/internal/reading"
)

// Defaults for Config fields left zero.
const (
	DefaultLimit        = 100
	DefaultMaxAttempts  = 3
	DefaultSlack        = 10 * time.Second
	DefaultMaxPages     = 1000
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultWorkers      = 8
)

// Fetcher reads one page of buffered records. *esp.Client satisfies it.
type Fetcher interface {
	FetchTemperatures(ctx context.Context, address string, q esp.TempQuery) (*esp.TempPage, error)
}

// Registry is the part of device.Registry the pipeline needs.
type Registry interface {
	LastRequestTime(sensorID int) (time.Time, error)
	AdvanceLastRequestTime(sensorID int, t time.Time) bool
	EarliestRequestTime(address string) (time.Time, error)
	Disconnect(ctx context.Context, address string) bool
}

// Processor persists one reading. *reading.Engine satisfies it.
type Processor interface {
	Process(ctx context.Context, r reading.Reading) (reading.Outcome, error)
}

// Logger defines the logging interface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config tunes requests and paging.
type Config struct {
	// Limit is the page size sent to nodes.
	Limit int

	// MaxAttempts bounds tries per request, including the first.
	MaxAttempts int

	// RetryBackoff is the first pause between attempts; it grows exponentially.
	RetryBackoff time.Duration

	// Slack widens the incremental window back in time.
	Slack time.Duration

	// MaxPages bounds one pass.
	MaxPages int

	// Workers bounds concurrent device passes in PollAll.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.Slack < 0 {
		c.Slack = 0
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// Pipeline runs device passes.
//
// Thread Safety:
//   - Passes for different devices may run concurrently.
//   - SetConfig may be called at any time; running passes keep the config
//     they started with.
type Pipeline struct {
	fetcher   Fetcher
	registry  Registry
	processor Processor
	logger    Logger
	now       func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// New creates a pipeline.
func New(fetcher Fetcher, registry Registry, processor Processor, cfg Config) *Pipeline {
	return &Pipeline{
		fetcher:   fetcher,
		registry:  registry,
		processor: processor,
		logger:    noopLogger{},
		now:       time.Now,
		cfg:       cfg.withDefaults(),
	}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// SetConfig replaces the request settings. Used on config reload.
func (p *Pipeline) SetConfig(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
}

func (p *Pipeline) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// FetchInitial reads a device's whole backlog. Used on first contact.
//
// Returns:
//   - *Result: What the pass did; never nil
//   - error: Only when ctx ended the pass
func (p *Pipeline) FetchInitial(ctx context.Context, address string) (*Result, error) {
	return p.pass(ctx, address, time.Time{})
}

// FetchIncremental reads what a device buffered since the oldest last-request
// time of its sensors, widened by the configured slack. Nodes can only select
// records older than a cursor, so the request carries none; records at or
// before the window start are dropped as stale. If any sensor has never been
// read there is no window.
//
// Returns:
//   - *Result: What the pass did
//   - error: device.ErrDeviceNotFound-style lookup errors, or ctx errors
func (p *Pipeline) FetchIncremental(ctx context.Context, address string) (*Result, error) {
	earliest, err := p.registry.EarliestRequestTime(address)
	if err != nil {
		return nil, fmt.Errorf("incremental window for %s: %w", address, err)
	}

	var since time.Time
	if !earliest.IsZero() {
		since = earliest.Add(-p.config().Slack)
	}
	return p.pass(ctx, address, since)
}

// PollAll runs a pass for every address, at most Workers at a time.
// Failures are per device; one device never stops another.
//
// Parameters:
//   - initial: Use FetchInitial instead of FetchIncremental
//
// Returns results in the order of addresses. A device whose pass could not
// start has a nil entry.
func (p *Pipeline) PollAll(ctx context.Context, addresses []string, initial bool) []*Result {
	results := make([]*Result, len(addresses))

	var g errgroup.Group
	g.SetLimit(p.config().Workers)

	for i, addr := range addresses {
		g.Go(func() error {
			var (
				res *Result
				err error
			)
			if initial {
				res, err = p.FetchInitial(ctx, addr)
			} else {
				res, err = p.FetchIncremental(ctx, addr)
			}
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("device pass skipped", "address", addr, "error", err)
			}
			results[i] = res
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // Passes never return errors
	return results
}

// pass fetches the newest page and then continuation pages. Records observed
// at or before since are stale.
func (p *Pipeline) pass(ctx context.Context, address string, since time.Time) (*Result, error) {
	cfg := p.config()
	res := newResult(address)
	cut := newCutoffs(p.registry, since)

	page, fetchedAt, err := p.fetchPage(ctx, cfg, address, 0)
	if err != nil {
		return res, p.handleFetchError(ctx, res, err)
	}
	if page.NoContent || len(page.Records) == 0 {
		res.NoContent = true
		p.logger.Debug("no new records", "address", address)
		return res, nil
	}

	p.ingest(ctx, res, page, fetchedAt, cut)

	if err := p.continuation(ctx, cfg, res, page, 0, cut); err != nil {
		return res, err
	}

	p.logSummary(res)
	return res, nil
}

// continuation follows remain > 0 with pages cursored at the age of the last
// record the node sent. It stops on remain == 0, an empty page, a cursor that
// did not move, MaxPages, or a failed request.
func (p *Pipeline) continuation(ctx context.Context, cfg Config, res *Result, page *esp.TempPage, cursor time.Duration, cut *cutoffs) error {
	for page.Remain > 0 {
		if res.Pages >= cfg.MaxPages {
			p.logger.Warn("page limit reached", "address", res.Address, "pages", res.Pages, "remain", page.Remain)
			return nil
		}

		next := page.Records[len(page.Records)-1].Age()
		if next == cursor {
			p.logger.Warn("continuation made no progress", "address", res.Address, "cursor_ms", next.Milliseconds(), "remain", page.Remain)
			return nil
		}
		cursor = next

		var (
			fetchedAt time.Time
			err       error
		)
		page, fetchedAt, err = p.fetchPage(ctx, cfg, res.Address, cursor)
		if err != nil {
			return p.handleFetchError(ctx, res, err)
		}
		if page.NoContent || len(page.Records) == 0 {
			res.Remain = 0
			return nil
		}

		p.ingest(ctx, res, page, fetchedAt, cut)
	}
	return nil
}

// fetchPage performs one request with bounded retries. The returned time is
// when the successful response arrived; record ages are relative to it.
func (p *Pipeline) fetchPage(ctx context.Context, cfg Config, address string, cursor time.Duration) (*esp.TempPage, time.Time, error) {
	q := esp.TempQuery{Limit: cfg.Limit, Cursor: cursor}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() (*esp.TempPage, error) {
		attempt++
		page, err := p.fetcher.FetchTemperatures(ctx, address, q)
		if errors.Is(err, esp.ErrProtocol) {
			return nil, backoff.Permanent(err)
		}
		return page, err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("fetch failed, retrying",
			"address", address, "attempt", attempt, "max_attempts", cfg.MaxAttempts, "retry_in", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)), ctx) //nolint:gosec // MaxAttempts >= 1
	page, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		if ctx.Err() != nil {
			return nil, time.Time{}, ctx.Err()
		}
		if errors.Is(err, esp.ErrProtocol) {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
	}
	return page, p.now(), nil
}

// handleFetchError applies the failure policy and returns the error the
// pass should report.
func (p *Pipeline) handleFetchError(ctx context.Context, res *Result, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()

	case errors.Is(err, esp.ErrProtocol):
		res.Aborted = true
		p.logger.Error("malformed response, skipping device this cycle", "address", res.Address, "error", err)
		p.logSummary(res)
		return nil

	default:
		p.logger.Error("max retries reached, disconnecting device", "address", res.Address, "error", err)
		res.Disconnected = true
		res.Reset = p.registry.Disconnect(ctx, res.Address)
		p.logSummary(res)
		return nil
	}
}

// ingest hands one page to the engine, oldest record first.
func (p *Pipeline) ingest(ctx context.Context, res *Result, page *esp.TempPage, fetchedAt time.Time, cut *cutoffs) {
	res.Pages++
	res.Remain = page.Remain

	records := slices.Clone(page.Records)
	slices.SortStableFunc(records, func(a, b esp.TempRecord) int {
		switch {
		case a.AgeMS > b.AgeMS:
			return -1
		case a.AgeMS < b.AgeMS:
			return 1
		}
		return 0
	})

	for _, rec := range records {
		observed := fetchedAt.Add(-rec.Age()).UTC()

		if !observed.After(cut.get(rec.SensorID)) {
			res.Stale++
			continue
		}
		p.registry.AdvanceLastRequestTime(rec.SensorID, observed)

		r := reading.Reading{SensorID: rec.SensorID, Temperature: rec.Temperature, ObservedAt: observed}
		if r.IsSentinel() {
			res.Sentinels++
			p.logger.Debug("sensor reported a failed sample", "address", res.Address, "sensor_id", rec.SensorID)
			continue
		}

		if _, err := p.processor.Process(ctx, r); err != nil {
			res.Failed++
			p.logger.Error("storing reading failed", "address", res.Address, "sensor_id", rec.SensorID, "error", err)
			continue
		}
		res.Accepted[rec.SensorID]++
	}
}

func (p *Pipeline) logSummary(res *Result) {
	summary := res.Summary()
	if summary == "" {
		return
	}
	p.logger.Info("read "+summary,
		"address", res.Address, "remaining", res.Remain, "pages", res.Pages)
}

// cutoffs snapshots each sensor's last-request time the first time the pass
// meets it, so records on later pages are judged against the same baseline.
// No cutoff is earlier than floor.
type cutoffs struct {
	registry Registry
	floor    time.Time
	seen     map[int]time.Time
}

func newCutoffs(registry Registry, floor time.Time) *cutoffs {
	return &cutoffs{registry: registry, floor: floor, seen: make(map[int]time.Time)}
}

func (c *cutoffs) get(sensorID int) time.Time {
	if t, ok := c.seen[sensorID]; ok {
		return t
	}
	// Unregistered sensors have no baseline.
	t, _ := c.registry.LastRequestTime(sensorID) //nolint:errcheck // Zero time on error
	if t.Before(c.floor) {
		t = c.floor
	}
	c.seen[sensorID] = t
	return t
}
