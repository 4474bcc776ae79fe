// Package transport defines the capability contracts every CAN backend
// implements, the shared subscriber fan-out used by receivers and the
// registry through which backends are selected by name.
package transport

import (
	"errors"
	"log/slog"
	"time"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
)

var (
	// ErrChannelUnavailable is returned when an interface cannot be opened or bound.
	ErrChannelUnavailable = errors.New("can channel unavailable")
	// ErrTransmitFailed is returned when a frame was not fully accepted by the channel.
	ErrTransmitFailed = errors.New("can transmit failed")
	// ErrSubscriberFailure marks a fan-out callback that returned an error or panicked.
	ErrSubscriberFailure = errors.New("subscriber callback failed")
	// ErrNotOpen is returned by operations that need an open channel.
	ErrNotOpen = errors.New("can channel not open")
	// ErrAlreadyStarted is returned by a second Start on the same receiver.
	ErrAlreadyStarted = errors.New("receiver already started")
)

// DefaultReceiveTimeout bounds each wait for inbound data so that a stop
// request is noticed even when the bus is silent.
const DefaultReceiveTimeout = time.Second

// Callback receives one frame. Each invocation gets its own copy.
type Callback func(frame canframe.Frame) error

// Subscription is returned by Receiver.Subscribe. Unsubscribe removes the
// callback: frames dispatched after it returns never reach it, while a
// dispatch already past the liveness check may still complete its call.
// It is safe to call more than once and from within the callback.
type Subscription interface {
	Unsubscribe()
}

// Receiver ingests frames from one interface and fans them out.
type Receiver interface {
	Name() string
	Open() error
	// Start spawns the ingestion loop.
	Start() error
	Subscribe(cb Callback) Subscription
	// Stop requests the loop to end and does not block.
	Stop()
	// Close stops the loop, waits for it and releases the channel.
	Close() error
	// Wait blocks until the loop has ended without requesting it.
	Wait()
	IsOpen() bool
}

// Sender writes frames to one interface. Send is safe for concurrent use.
type Sender interface {
	Name() string
	Open() error
	Send(frame canframe.Frame) error
	Close() error
	IsOpen() bool
}

// Options are passed to backend constructors.
type Options struct {
	// ReceiveTimeout bounds each wait of the ingestion loop.
	ReceiveTimeout time.Duration
	// FD enables CAN FD frames with up to 64 bytes of payload.
	FD      bool
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
