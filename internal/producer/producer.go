// Package producer drives emulated sensors: each configured binding gets a
// source whose readings are encoded into CAN frames and written to the
// bound interface.
package producer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/routing"
	"github.com/farouk15160/canmqtt-bridge/internal/sensor"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// ErrNoSources is returned by Start when no binding has an opened interface.
var ErrNoSources = errors.New("no sensor source could be started")

// Options configure a Producer.
type Options struct {
	Bindings  *routing.BindingTable
	Backend   transport.Backend
	Transport transport.Options
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Producer owns one sender per bound interface and one source per binding.
type Producer struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	senders []transport.Sender
	sources []*sensor.Source

	started           atomic.Bool
	shutdownRequested atomic.Bool
	shutdown          chan struct{}

	waitOnce sync.Once
	waitErr  error
}

// New builds a producer that has not opened anything yet.
func New(opts Options) (*Producer, error) {
	if opts.Bindings == nil || len(opts.Bindings.Bindings()) == 0 {
		return nil, errors.New("producer: no data bindings")
	}
	if opts.Backend.NewSender == nil {
		return nil, errors.New("producer: backend has no sender")
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
	return &Producer{
		opts:     opts,
		logger:   opts.Logger.With("component", "producer"),
		metrics:  opts.Metrics,
		shutdown: make(chan struct{}),
	}, nil
}

// Start opens the bound interfaces and starts a source for every binding
// whose interface opened. Interfaces that fail to open are logged and left out.
func (p *Producer) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("producer: already started")
	}

	bindings := p.opts.Bindings.Bindings()

	senders := make(map[string]transport.Sender)
	failed := make(map[string]bool)
	var opened []transport.Sender
	for _, b := range bindings {
		if _, ok := senders[b.Interface]; ok || failed[b.Interface] {
			continue
		}
		tx := p.opts.Backend.NewSender(b.Interface, p.opts.Transport)
		if err := tx.Open(); err != nil {
			p.logger.Error("interface excluded", "interface", b.Interface, "error", err)
			failed[b.Interface] = true
			continue
		}
		senders[b.Interface] = tx
		opened = append(opened, tx)
	}

	var sources []*sensor.Source
	for _, b := range bindings {
		tx, ok := senders[b.Interface]
		if !ok {
			p.logger.Warn("source skipped, interface not open", "source", b.Source, "interface", b.Interface)
			continue
		}
		src, err := sensor.NewSource(b.Source, b.Period, p.opts.Logger)
		if err != nil {
			p.logger.Error("source skipped", "source", b.Source, "error", err)
			continue
		}
		src.OnReading(p.sendReading(b, tx))
		sources = append(sources, src)
	}

	if len(sources) == 0 {
		for _, tx := range opened {
			_ = tx.Close()
		}
		return ErrNoSources
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.senders = opened

	for _, src := range sources {
		if err := src.Start(); err != nil {
			p.logger.Error("source not started", "source", src.Name(), "error", err)
			continue
		}
		p.sources = append(p.sources, src)
	}
	if p.shutdownRequested.Load() {
		for _, src := range p.sources {
			src.Stop()
		}
	}

	p.logger.Info("producer running", "sources", len(p.sources), "interfaces", len(p.senders))
	return nil
}

// sendReading encodes readings for binding b and writes them with tx.
func (p *Producer) sendReading(b routing.Binding, tx transport.Sender) func(sensor.Reading) {
	return func(r sensor.Reading) {
		frame := b.Frame(r)
		if err := tx.Send(frame); err != nil {
			p.logger.Warn("frame not sent", "source", b.Source, "interface", b.Interface, "error", err)
			return
		}
		p.logger.Debug("frame sent", "source", b.Source, "interface", b.Interface,
			"frame", frame.String(), "value", fmt.Sprintf("%.2f", r.Value))
	}
}

// RequestShutdown stops every source. It never blocks and may be called any
// number of times from any goroutine.
func (p *Producer) RequestShutdown() {
	if !p.shutdownRequested.CompareAndSwap(false, true) {
		return
	}
	close(p.shutdown)

	p.mu.Lock()
	sources := append([]*sensor.Source(nil), p.sources...)
	p.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	p.logger.Info("shutdown requested")
}

// Done is closed once shutdown has been requested.
func (p *Producer) Done() <-chan struct{} {
	return p.shutdown
}

// Wait blocks until every source has stopped, then closes the senders.
func (p *Producer) Wait() error {
	p.waitOnce.Do(func() {
		p.mu.Lock()
		sources := append([]*sensor.Source(nil), p.sources...)
		senders := append([]transport.Sender(nil), p.senders...)
		p.mu.Unlock()

		var g errgroup.Group
		for _, src := range sources {
			g.Go(func() error {
				src.Wait()
				return nil
			})
		}
		_ = g.Wait()

		var errs []error
		for _, tx := range senders {
			if err := tx.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", tx.Name(), err))
			}
		}
		p.waitErr = errors.Join(errs...)
		p.logger.Info("producer stopped")
	})
	return p.waitErr
}
