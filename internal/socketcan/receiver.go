package socketcan

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// Receiver reads frames from one CAN interface and fans them out to its
// subscribers on a dedicated goroutine.
type Receiver struct {
	iface   string
	opts    transport.Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	subs    *transport.Subscribers

	mu      sync.Mutex
	sock    int
	wakeR   int
	wakeW   int
	started bool
	done    chan struct{}

	running atomic.Bool
}

// NewReceiver creates a closed receiver for iface.
func NewReceiver(iface string, opts transport.Options) *Receiver {
	opts = opts.WithDefaults()
	logger := opts.Logger.With("component", "socketcan", "interface", iface)
	return &Receiver{
		iface:   iface,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		subs:    transport.NewSubscribers(iface, logger, opts.Metrics),
		sock:    -1,
		wakeR:   -1,
		wakeW:   -1,
	}
}

func (r *Receiver) Name() string { return r.iface }

// Open binds a raw socket to the interface. It is a no-op when already open.
func (r *Receiver) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sock >= 0 {
		return nil
	}

	sock, err := openSocket(r.iface, r.opts.FD)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", transport.ErrChannelUnavailable, r.iface, err)
	}
	wakeR, wakeW, err := newWakePipe()
	if err != nil {
		closeFD(sock)
		return fmt.Errorf("%w: %s: %w", transport.ErrChannelUnavailable, r.iface, err)
	}

	r.sock, r.wakeR, r.wakeW = sock, wakeR, wakeW
	r.started = false
	r.done = nil
	r.logger.Info("CAN interface opened", "fd", r.opts.FD)
	return nil
}

func (r *Receiver) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sock >= 0
}

func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sock < 0 {
		return transport.ErrNotOpen
	}
	if r.started {
		return transport.ErrAlreadyStarted
	}
	r.started = true
	r.done = make(chan struct{})
	r.running.Store(true)
	go r.loop(r.sock, r.wakeR, r.done)
	return nil
}

func (r *Receiver) Subscribe(cb transport.Callback) transport.Subscription {
	return r.subs.Subscribe(cb)
}

// Stop asks the loop to end. It notices within one receive timeout.
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

// Close wakes the loop, waits for it and releases the socket.
func (r *Receiver) Close() error {
	r.running.Store(false)

	r.mu.Lock()
	sock := r.sock
	if sock < 0 {
		r.mu.Unlock()
		return nil
	}
	signalWake(r.wakeW)
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sock != sock {
		// A concurrent Close already released it.
		return nil
	}
	err := closeFD(r.sock)
	closeFD(r.wakeR)
	closeFD(r.wakeW)
	r.sock, r.wakeR, r.wakeW = -1, -1, -1
	r.logger.Info("CAN interface closed")
	return err
}

func (r *Receiver) loop(sock, wake int, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, fdMTU)
	for r.running.Load() {
		readable, woken, err := pollReadable(sock, wake, r.opts.ReceiveTimeout)
		if err != nil {
			r.logger.Error("ingestion stopped", "error", err)
			return
		}
		if woken {
			return
		}
		if !readable {
			continue
		}

		n, err := readRaw(sock, buf)
		if err != nil {
			if !isTransient(err) {
				r.logger.Warn("read failed", "error", err)
			}
			continue
		}
		r.handle(buf[:n])
	}
}

func (r *Receiver) handle(b []byte) {
	frame, canID, err := unmarshalFrame(b)
	if err != nil {
		r.metrics.Dropped(r.iface, metrics.ReasonMalformed)
		r.logger.Warn("malformed frame dropped", "size", len(b), "error", err)
		return
	}
	if canID&canframe.FlagError != 0 {
		r.logger.Debug("error frame ignored", "id", fmt.Sprintf("%#x", canID&canframe.MaskID))
		return
	}
	r.metrics.Received(r.iface)
	r.subs.Dispatch(frame)
}
