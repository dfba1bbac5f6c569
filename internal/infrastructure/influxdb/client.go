package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/bmac-node/internal/infrastructure/config"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// Points kept for retry while the node has no route to the server.
	retryBufferLimit = 5000
	maxRetries       = 10
)

// Client writes node telemetry to InfluxDB.
//
// The node normally starts before WiFi is up, so New never contacts the
// server. Points are batched by the non-blocking write API and held in its
// retry buffer until the server becomes reachable.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed atomic.Bool

	mu      sync.RWMutex
	onError func(err error)
}

// New creates a telemetry client from configuration.
//
// Returns ErrDisabled when influxdb.enabled is false, so callers can treat
// telemetry as optional with a single errors.Is check.
func New(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(time.Duration(flush) * time.Second / time.Millisecond)).
		SetRetryBufferLimit(retryBufferLimit).
		SetMaxRetries(maxRetries).
		SetPrecision(time.Millisecond)

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

// forwardErrors hands asynchronous batch failures to the OnError callback.
// The channel is closed by the write API on Close.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		cb := c.onError
		c.mu.RUnlock()
		if cb != nil {
			cb(err)
		}
	}
}

// SetOnError sets the callback for failed batch writes.
//
// The callback must not log through a logger that mirrors into this client.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Ping reports whether the server is reachable and healthy.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server not healthy", ErrUnreachable)
	}
	return nil
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.closed.Load() || c.writeAPI == nil {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending points and releases the client. Safe to call
// more than once and on a nil Client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.closed.Swap(true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
