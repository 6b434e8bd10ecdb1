package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
)

const (
	pingTimeout          = 5 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client mirrors readings into an InfluxDB v2 bucket through the library's
// non-blocking, batched write API. Write failures surface asynchronously
// through SetOnError. It is safe for concurrent use.
type Client struct {
	influx influxdb2.Client
	writer api.WriteAPI
	closed atomic.Bool

	mu      sync.Mutex
	onError func(error)
}

// Connect pings the server and prepares the batched writer.
//
// Parameters:
//   - ctx: Bounds the ping
//   - cfg: The influxdb section of the configuration
//
// Returns:
//   - *Client: Ready mirror
//   - error: ErrDisabled, or ErrConnectionFailed when the server is unreachable or unhealthy
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(positive(cfg.BatchSize, defaultBatchSize)).
		SetFlushInterval(positive(cfg.FlushInterval*1000, uint(defaultFlushInterval.Milliseconds())))
	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := influx.Ping(pingCtx)
	switch {
	case err != nil:
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	case !ok:
		influx.Close()
		return nil, fmt.Errorf("%w: server not ready", ErrConnectionFailed)
	}

	c := &Client{influx: influx, writer: influx.WriteAPI(cfg.Org, cfg.Bucket)}
	go c.forwardErrors()
	return c, nil
}

func positive(v int, fallback uint) uint {
	if v <= 0 {
		return fallback
	}
	return uint(v)
}

// forwardErrors drains the writer's error channel until the client closes.
func (c *Client) forwardErrors() {
	for err := range c.writer.Errors() {
		c.mu.Lock()
		fn := c.onError
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError sets the callback for asynchronous batch write failures.
func (c *Client) SetOnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.writer != nil && !c.closed.Load() {
		c.writer.Flush()
	}
}

// Close flushes pending points and releases the client.
func (c *Client) Close() error {
	if c.influx == nil || c.closed.Swap(true) {
		return nil
	}
	c.writer.Flush()
	c.influx.Close()
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c.influx != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := c.influx.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb health check: server not ready")
	}
	return nil
}
