package netcheck

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// Defaults for Config fields left zero.
const (
	DefaultPort     = 80
	DefaultTimeout  = 2 * time.Second
	DefaultInterval = time.Second

	progressRun = 5
)

// Logger is the logging interface used by the Checker.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Config configures a Checker.
type Config struct {
	// Host is the LAN host to connect to.
	Host string

	// Port defaults to 80.
	Port int

	// Timeout bounds one connect attempt.
	Timeout time.Duration

	// Interval is the pause between attempts in WaitUntilReachable.
	Interval time.Duration

	// Progress receives the wait indicator. Defaults to stdout.
	Progress io.Writer
}

// Checker probes LAN reachability.
type Checker struct {
	mu       sync.RWMutex
	address  string
	timeout  time.Duration
	interval time.Duration
	progress io.Writer
	logger   Logger
}

// New creates a Checker for cfg.Host.
func New(cfg Config) *Checker {
	c := &Checker{
		interval: cfg.Interval,
		progress: cfg.Progress,
		logger:   noopLogger{},
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.progress == nil {
		c.progress = os.Stdout
	}
	c.SetTarget(cfg.Host, cfg.Port, cfg.Timeout)
	return c
}

// SetLogger sets the logger for the checker.
func (c *Checker) SetLogger(logger Logger) {
	c.logger = logger
}

// SetTarget changes the probed host. Used on config reload.
func (c *Checker) SetTarget(host string, port int, timeout time.Duration) {
	if port <= 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	c.address = net.JoinHostPort(host, strconv.Itoa(port))
	c.timeout = timeout
	c.mu.Unlock()
}

// Address returns the probed host:port.
func (c *Checker) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// IsReachable reports whether a TCP connection to the target succeeds.
func (c *Checker) IsReachable(ctx context.Context) bool {
	c.mu.RLock()
	address, timeout := c.address, c.timeout
	c.mu.RUnlock()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close() //nolint:errcheck // Probe connection
	return true
}

// WaitUntilReachable returns once the target is reachable, polling at the
// configured interval. It returns ctx.Err() if ctx ends first.
func (c *Checker) WaitUntilReachable(ctx context.Context) error {
	if c.IsReachable(ctx) {
		return nil
	}

	c.logger.Warn("network unreachable, waiting", "address", c.Address())
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	p := progress{w: c.progress}
	defer p.finish()

	for {
		p.step()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if c.IsReachable(ctx) {
			c.logger.Info("network reachable again", "address", c.Address())
			return nil
		}
	}
}

// progress writes five dots, then five dashes, then repeats.
type progress struct {
	w       io.Writer
	n       int
	written bool
}

func (p *progress) step() {
	mark := "."
	if p.n%(2*progressRun) >= progressRun {
		mark = "-"
	}
	p.n++
	p.written = true
	io.WriteString(p.w, mark) //nolint:errcheck // Console indicator
}

func (p *progress) finish() {
	if p.written {
		io.WriteString(p.w, "\n") //nolint:errcheck // Console indicator
	}
}
