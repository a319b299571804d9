// Package natsclient manages the bridge's NATS connection: core
// subscriptions for domain events, publishes for dead-lettering, and
// JetStream key-value access for the durable mapping store.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/skybridge/errors"
	"github.com/c360/skybridge/pkg/retry"
)

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
)

// Client manages a NATS connection and its subscriptions.
type Client struct {
	url    string
	logger Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	// Connection options
	maxReconnects  int
	reconnectWait  time.Duration
	pingInterval   time.Duration
	timeout        time.Duration
	drainTimeout   time.Duration
	connectRetry   retry.Config
	messageTimeout time.Duration

	// Authentication
	username string
	password string
	token    string

	clientName string

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        &defaultLogger{},
		maxReconnects: -1, // infinite by default
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
		connectRetry:  retry.Startup(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.logger.Debugf("Created NATS client for %s", url)

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// buildConnectionOptions builds NATS connection options from client configuration
func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Errorf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.logger.Printf("NATS reconnected to %s", c.url)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Errorf("NATS error: %v", err)
		}),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect establishes the connection, retrying with backoff so the
// bridge survives starting before its NATS server does.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Printf("Connecting to NATS at %s", c.url)

	opts := c.buildConnectionOptions()

	err := retry.Do(ctx, c.connectRetry, func() error {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			c.logger.Errorf("NATS connect attempt failed: %v", err)
			return err
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return retry.NonRetryable(fmt.Errorf("initialize JetStream: %w", err))
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	c.logger.Printf("Successfully connected to NATS at %s", c.url)
	return nil
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
			c.logger.Errorf("Failed to unsubscribe: %v", err)
		}
	}
	c.subs = nil

	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() {
			drainDone <- c.conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain timeout"))
			c.logger.Errorf("Drain timeout after %v, force closing", drainTimeout)
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain"))
		}

		c.conn.Close()
		c.conn = nil
	}

	// Clear credentials from memory
	c.username = ""
	c.password = ""
	c.token = ""

	if len(errs) > 0 {
		parts := make([]string, len(errs))
		for i, err := range errs {
			parts[i] = err.Error()
		}
		return fmt.Errorf("cleanup errors: %s", strings.Join(parts, "; "))
	}

	return nil
}

// Subscribe subscribes to a NATS subject with context propagation.
// Each message handler receives the parent context unchanged unless a
// per-message timeout was configured with WithMessageTimeout; message
// lifetimes are otherwise bounded only by the downstream clients' own
// timeouts.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := c.messageContext(ctx)
		defer cancel()

		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("subscribe to %s", subject))
	}

	c.subs = append(c.subs, sub)
	return nil
}

// messageContext derives the per-message context. With no configured
// timeout the parent context is returned as-is.
func (c *Client) messageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.messageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.messageTimeout)
}

// Unsubscribe removes all active subscriptions without closing the
// connection.
func (c *Client) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Unsubscribe", "unsubscribe"))
		}
	}
	c.subs = nil

	return stderrors.Join(errs...)
}

// Publish publishes a message to a NATS subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	return conn.Publish(subject, data)
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("JetStream not initialized"),
			"Client", "JetStream", "get JetStream context")
	}

	return c.js, nil
}

// KeyValueBucket gets a KV bucket, creating it if it does not exist.
func (c *Client) KeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		c.logger.Printf("Using existing KV bucket: %s", cfg.Bucket)
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		// Another instance may have created it between the two calls
		if isAlreadyExistsError(err) {
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
			if err != nil {
				return nil, errors.Wrap(err, "Client", "KeyValueBucket",
					fmt.Sprintf("access existing bucket %s", cfg.Bucket))
			}
			return bucket, nil
		}
		return nil, errors.WrapTransient(err, "Client", "KeyValueBucket",
			fmt.Sprintf("create bucket %s", cfg.Bucket))
	}

	c.logger.Printf("Created new KV bucket: %s", cfg.Bucket)
	return bucket, nil
}

// isAlreadyExistsError checks if an error indicates a KV bucket already exists
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "bucket name already in use") ||
		strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "stream name already in use")
}
