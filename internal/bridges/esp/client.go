package esp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// defaultRequestTimeout bounds a single node request.
	defaultRequestTimeout = 5 * time.Second

	// defaultDevicePort is the node's HTTP port.
	defaultDevicePort = 80

	// maxBodySize caps a /temp response; 100 records fit in a few KiB.
	maxBodySize = 1 << 20
)

// Node HTTP endpoints.
const (
	PathTemp        = "/temp"
	PathSetInterval = "/setinterval"
	PathSetTempDiff = "/setTempDiff"
	PathExit        = "/exit"
)

// ClientConfig holds node HTTP client settings.
type ClientConfig struct {
	// Timeout bounds each request. Default: 5 seconds.
	Timeout time.Duration

	// Port is used when an address has no explicit port. Default: 80.
	Port int

	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
}

// ClientStats holds node traffic counters.
type ClientStats struct {
	Requests    uint64
	Failures    uint64
	Records     uint64
	LastSuccess time.Time
}

// Client talks to node HTTP endpoints.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	http    *http.Client
	timeout time.Duration
	port    int

	requests    atomic.Uint64
	failures    atomic.Uint64
	records     atomic.Uint64
	lastSuccess atomic.Int64 // Unix nanoseconds
}

// NewClient creates a node client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	port := cfg.Port
	if port <= 0 {
		port = defaultDevicePort
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		http:    hc,
		timeout: timeout,
		port:    port,
	}
}

// FetchTemperatures requests one page of buffered records.
//
// Parameters:
//   - ctx: Context for cancellation; each call is also bounded by the client timeout
//   - address: Node address, with or without port
//   - q: Page size and optional age cursor
//
// Returns:
//   - *TempPage: The page; NoContent is set for 204 or an empty body
//   - error: ErrTransport, ErrProtocol, or a *StatusError
func (c *Client) FetchTemperatures(ctx context.Context, address string, q TempQuery) (*TempPage, error) {
	params := url.Values{}
	if q.Cursor > 0 {
		params.Set("time", strconv.FormatInt(q.Cursor.Milliseconds(), 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	body, status, err := c.get(ctx, address, PathTemp, params)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return &TempPage{NoContent: true}, nil
	}

	var page TempPage
	if err := json.Unmarshal(body, &page); err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrProtocol, address, PathTemp, err)
	}

	c.records.Add(uint64(len(page.Records)))
	return &page, nil
}

// SetInterval sets the node's measurement interval.
func (c *Client) SetInterval(ctx context.Context, address string, interval time.Duration) error {
	params := url.Values{"interval": {strconv.FormatInt(interval.Milliseconds(), 10)}}
	_, _, err := c.get(ctx, address, PathSetInterval, params)
	return err
}

// SetTempDiff sets the node's own change threshold in degrees.
func (c *Client) SetTempDiff(ctx context.Context, address string, diff float64) error {
	params := url.Values{"difference": {strconv.FormatFloat(diff, 'f', -1, 64)}}
	_, _, err := c.get(ctx, address, PathSetTempDiff, params)
	return err
}

// Reset asks the node to restart. A nil error means the node acknowledged with 200.
func (c *Client) Reset(ctx context.Context, address string) error {
	_, status, err := c.get(ctx, address, PathExit, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &StatusError{Path: PathExit, StatusCode: status}
	}
	return nil
}

// Stats returns traffic counters.
func (c *Client) Stats() ClientStats {
	s := ClientStats{
		Requests: c.requests.Load(),
		Failures: c.failures.Load(),
		Records:  c.records.Load(),
	}
	if ns := c.lastSuccess.Load(); ns != 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
	return s
}

// get performs a GET and returns the body for 2xx responses.
func (c *Client) get(ctx context.Context, address, path string, params url.Values) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := url.URL{Scheme: "http", Host: c.hostPort(address), Path: path}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}

	c.requests.Add(1)

	resp, err := c.http.Do(req)
	if err != nil {
		c.failures.Add(1)
		return nil, 0, fmt.Errorf("%w: %s %s: %w", ErrTransport, address, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.failures.Add(1)
		return nil, resp.StatusCode, fmt.Errorf("%w: reading %s %s: %w", ErrTransport, address, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.failures.Add(1)
		return nil, resp.StatusCode, &StatusError{Path: path, StatusCode: resp.StatusCode}
	}

	c.lastSuccess.Store(time.Now().UnixNano())
	return body, resp.StatusCode, nil
}

// hostPort appends the default port when address carries none.
func (c *Client) hostPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(c.port))
}
