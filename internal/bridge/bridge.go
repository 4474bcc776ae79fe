// Package bridge forwards sensor readings from CAN interfaces to a message
// bus: every received frame is decoded, validated, routed to a topic by its
// reading type and published as JSON.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/routing"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// ErrNoInterfaces is returned by Start when no configured interface could be opened.
var ErrNoInterfaces = errors.New("no CAN interface could be opened")

// Options configure a Bridge.
type Options struct {
	Interfaces []string
	Backend    transport.Backend
	Transport  transport.Options
	// Topics are matched against reading types in order.
	Topics  []string
	QoS     byte
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Bridge owns one receiver per opened interface and the bus client.
type Bridge struct {
	opts      Options
	publisher Publisher
	router    *routing.TopicRouter
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	receivers []transport.Receiver
	subs      []transport.Subscription

	started           atomic.Bool
	shutdownRequested atomic.Bool
	shutdown          chan struct{}

	waitOnce sync.Once
	waitErr  error
}

// New checks opts and builds a bridge that is not yet connected.
func New(opts Options, publisher Publisher) (*Bridge, error) {
	if len(opts.Interfaces) == 0 {
		return nil, errors.New("bridge: no CAN interfaces configured")
	}
	if len(opts.Topics) == 0 {
		return nil, errors.New("bridge: no topics configured")
	}
	if opts.Backend.NewReceiver == nil {
		return nil, errors.New("bridge: backend has no receiver")
	}
	if publisher == nil {
		return nil, errors.New("bridge: publisher is nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transport.Logger == nil {
		opts.Transport.Logger = opts.Logger
	}
	if opts.Transport.Metrics == nil {
		opts.Transport.Metrics = opts.Metrics
	}

	return &Bridge{
		opts:      opts,
		publisher: publisher,
		router:    routing.NewTopicRouter(opts.Topics),
		logger:    opts.Logger.With("component", "bridge"),
		metrics:   opts.Metrics,
		shutdown:  make(chan struct{}),
	}, nil
}

// Start connects the bus client, opens every interface that can be opened,
// subscribes the forwarding callback and starts ingestion. Interfaces that
// fail to open are logged and left out.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("bridge: already started")
	}

	if err := b.publisher.Connect(ctx); err != nil {
		return fmt.Errorf("bridge: connect message bus: %w", err)
	}

	var opened []transport.Receiver
	for _, iface := range b.opts.Interfaces {
		rx := b.opts.Backend.NewReceiver(iface, b.opts.Transport)
		if err := rx.Open(); err != nil {
			b.logger.Error("interface excluded", "interface", iface, "error", err)
			continue
		}
		opened = append(opened, rx)
	}
	if len(opened) == 0 {
		_ = b.publisher.Disconnect()
		return ErrNoInterfaces
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, rx := range opened {
		sub := rx.Subscribe(b.handleFrame(rx.Name()))
		if err := rx.Start(); err != nil {
			b.logger.Error("interface excluded", "interface", rx.Name(), "error", err)
			sub.Unsubscribe()
			_ = rx.Close()
			continue
		}
		b.receivers = append(b.receivers, rx)
		b.subs = append(b.subs, sub)
	}
	if len(b.receivers) == 0 {
		_ = b.publisher.Disconnect()
		return ErrNoInterfaces
	}

	// A shutdown requested while starting must still reach every receiver.
	if b.shutdownRequested.Load() {
		for _, rx := range b.receivers {
			rx.Stop()
		}
	}

	b.logger.Info("bridge running", "interfaces", b.interfaceNames(), "topics", b.router.Topics())
	return nil
}

// Interfaces returns the names of the interfaces that are being ingested.
func (b *Bridge) Interfaces() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interfaceNames()
}

func (b *Bridge) interfaceNames() []string {
	names := make([]string, 0, len(b.receivers))
	for _, rx := range b.receivers {
		names = append(names, rx.Name())
	}
	return names
}

// RequestShutdown asks every ingestion loop to stop. It never blocks and may
// be called any number of times from any goroutine.
func (b *Bridge) RequestShutdown() {
	if !b.shutdownRequested.CompareAndSwap(false, true) {
		return
	}
	close(b.shutdown)

	b.mu.Lock()
	receivers := append([]transport.Receiver(nil), b.receivers...)
	b.mu.Unlock()

	for _, rx := range receivers {
		rx.Stop()
	}
	b.logger.Info("shutdown requested")
}

// Done is closed once shutdown has been requested.
func (b *Bridge) Done() <-chan struct{} {
	return b.shutdown
}

// Wait blocks until every ingestion loop has ended, then closes the
// interfaces, releases the subscriptions and disconnects the bus client.
func (b *Bridge) Wait() error {
	b.waitOnce.Do(func() {
		b.mu.Lock()
		receivers := append([]transport.Receiver(nil), b.receivers...)
		subs := append([]transport.Subscription(nil), b.subs...)
		b.mu.Unlock()

		var g errgroup.Group
		for _, rx := range receivers {
			g.Go(func() error {
				rx.Wait()
				if err := rx.Close(); err != nil {
					return fmt.Errorf("close %s: %w", rx.Name(), err)
				}
				return nil
			})
		}
		closeErr := g.Wait()

		for _, sub := range subs {
			sub.Unsubscribe()
		}

		var busErr error
		if len(receivers) > 0 {
			if err := b.publisher.Disconnect(); err != nil {
				busErr = fmt.Errorf("disconnect message bus: %w", err)
			}
		}
		b.waitErr = errors.Join(closeErr, busErr)
		b.logger.Info("bridge stopped")
	})
	return b.waitErr
}
