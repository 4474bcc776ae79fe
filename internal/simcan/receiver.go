package simcan

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// Receiver is the simulated counterpart of socketcan.Receiver.
type Receiver struct {
	bus     *Bus
	iface   string
	opts    transport.Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	subs    *transport.Subscribers

	mu      sync.Mutex
	open    bool
	started bool
	queue   chan canframe.Frame
	wake    chan struct{}
	done    chan struct{}

	running   atomic.Bool
	closeOnce *sync.Once
}

// NewReceiver creates a closed receiver for iface.
func (b *Bus) NewReceiver(iface string, opts transport.Options) *Receiver {
	opts = opts.WithDefaults()
	logger := opts.Logger.With("component", "simcan", "interface", iface)
	return &Receiver{
		bus:     b,
		iface:   iface,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		subs:    transport.NewSubscribers(iface, logger, opts.Metrics),
	}
}

func (r *Receiver) Name() string { return r.iface }

func (r *Receiver) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open {
		return nil
	}
	if err := r.bus.available(r.iface); err != nil {
		return err
	}
	r.queue = make(chan canframe.Frame, queueSize)
	r.wake = make(chan struct{})
	r.done = nil
	r.started = false
	r.closeOnce = &sync.Once{}
	r.open = true
	r.bus.attach(r)
	r.logger.Info("simulated interface opened")
	return nil
}

func (r *Receiver) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return transport.ErrNotOpen
	}
	if r.started {
		return transport.ErrAlreadyStarted
	}
	r.started = true
	r.done = make(chan struct{})
	r.running.Store(true)
	go r.loop(r.queue, r.wake, r.done)
	return nil
}

func (r *Receiver) Subscribe(cb transport.Callback) transport.Subscription {
	return r.subs.Subscribe(cb)
}

func (r *Receiver) Stop() {
	r.running.Store(false)
}

func (r *Receiver) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Receiver) Close() error {
	r.running.Store(false)

	r.mu.Lock()
	if !r.open {
		r.mu.Unlock()
		return nil
	}
	r.closeOnce.Do(func() { close(r.wake) })
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}

	r.bus.detach(r)

	r.mu.Lock()
	r.open = false
	r.mu.Unlock()
	r.logger.Info("simulated interface closed")
	return nil
}

func (r *Receiver) deliver(frame canframe.Frame) bool {
	select {
	case r.queue <- frame:
		return true
	default:
		r.metrics.Dropped(r.iface, metrics.ReasonOverflow)
		r.logger.Warn("receive queue full, frame dropped", "frame", frame.String())
		return false
	}
}

func (r *Receiver) loop(queue <-chan canframe.Frame, wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(r.opts.ReceiveTimeout)
	defer timer.Stop()

	for r.running.Load() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.opts.ReceiveTimeout)

		select {
		case frame := <-queue:
			r.metrics.Received(r.iface)
			r.subs.Dispatch(frame)
		case <-wake:
			return
		case <-timer.C:
		}
	}
}
