// Package natsbus publishes readings to NATS subjects instead of MQTT topics.
// Topics are used verbatim as subjects.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned by Publish while no connection is up.
var ErrNotConnected = errors.New("nats client not connected")

const (
	defaultTimeout       = 5 * time.Second
	defaultReconnectWait = 2 * time.Second
)

// Options configure a Client.
type Options struct {
	URL      string
	Name     string
	Username string
	Password string
	// Timeout bounds the dial and the flush used for qos > 0.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Handler receives a copy of each message on a subscribed subject.
type Handler = func(topic string, payload []byte)

// Client wraps a nats connection.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	subs map[string]Handler
}

// NewClient prepares a client. Nothing is dialed before Connect.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		logger: opts.Logger.With("component", "nats", "url", opts.URL),
		subs:   make(map[string]Handler),
	}
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Timeout(c.opts.Timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(defaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("connection lost, will reconnect", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("reconnected", "server", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.logger.Info("connection closed")
		}),
	}
	if c.opts.Name != "" {
		opts = append(opts, nats.Name(c.opts.Name))
	}
	if c.opts.Username != "" {
		opts = append(opts, nats.UserInfo(c.opts.Username, c.opts.Password))
	}
	return opts
}

// Connect dials the server. Subjects registered with Subscribe beforehand
// are subscribed once the connection is up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil && !c.conn.IsClosed() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Info("connecting to nats")

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.opts.URL, c.connectionOptions()...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return fmt.Errorf("nats connect to %s: %w", c.opts.URL, ctx.Err())
	}
	if res.err != nil {
		return fmt.Errorf("nats connect to %s: %w", c.opts.URL, res.err)
	}

	c.mu.Lock()
	c.conn = res.conn
	subs := make(map[string]Handler, len(c.subs))
	for subject, h := range c.subs {
		subs[subject] = h
	}
	c.mu.Unlock()

	for subject, h := range subs {
		if err := c.subscribe(res.conn, subject, h); err != nil {
			return err
		}
	}
	c.logger.Info("connected", "server", res.conn.ConnectedUrl())
	return nil
}

func (c *Client) connection() *nats.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	conn := c.connection()
	return conn != nil && conn.IsConnected()
}

// Publish sends payload on the subject topic. For qos above zero it also
// flushes, so the call returns only once the server has the message.
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	conn := c.connection()
	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("publish to %s: %w", topic, ErrNotConnected)
	}
	if err := conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	if qos > 0 {
		if err := conn.FlushTimeout(c.opts.Timeout); err != nil {
			return fmt.Errorf("publish to %s: flush: %w", topic, err)
		}
	}
	c.logger.Debug("published", "subject", topic, "size", len(payload))
	return nil
}

// Subscribe registers h for subject. The qos argument is accepted for
// symmetry with MQTT and ignored. Subscribing before Connect is allowed.
func (c *Client) Subscribe(subject string, _ byte, h Handler) error {
	c.mu.Lock()
	c.subs[subject] = h
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return c.subscribe(conn, subject, h)
}

func (c *Client) subscribe(conn *nats.Conn, subject string, h Handler) error {
	_, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		payload := make([]byte, len(msg.Data))
		copy(payload, msg.Data)
		h(msg.Subject, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Disconnect drains pending messages and closes the connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
