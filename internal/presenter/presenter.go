// Package presenter listens on the bridge topics and logs every message it
// receives, which is handy for watching a running bridge.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Subscriber is the message bus the presenter listens on.
type Subscriber interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, qos byte, h func(topic string, payload []byte)) error
	Disconnect() error
}

// Presenter logs the messages of a fixed set of topics.
type Presenter struct {
	sub      Subscriber
	topics   []string
	logger   *slog.Logger
	received atomic.Uint64
}

// New returns a presenter for topics.
func New(sub Subscriber, topics []string, logger *slog.Logger) (*Presenter, error) {
	if sub == nil {
		return nil, errors.New("presenter: subscriber is nil")
	}
	if len(topics) == 0 {
		return nil, errors.New("presenter: no topics configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{
		sub:    sub,
		topics: append([]string(nil), topics...),
		logger: logger.With("component", "presenter"),
	}, nil
}

// Run subscribes, connects and logs messages until ctx is done.
func (p *Presenter) Run(ctx context.Context) error {
	for _, topic := range p.topics {
		if err := p.sub.Subscribe(topic, 0, p.handle); err != nil {
			return fmt.Errorf("presenter: %w", err)
		}
	}
	if err := p.sub.Connect(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			p.logger.Info("stopped before connecting")
			return nil
		}
		return fmt.Errorf("presenter: %w", err)
	}
	p.logger.Info("listening", "topics", p.topics)

	<-ctx.Done()

	p.logger.Info("stopping", "received", p.received.Load())
	return p.sub.Disconnect()
}

// Received returns the number of messages logged so far.
func (p *Presenter) Received() uint64 {
	return p.received.Load()
}

func (p *Presenter) handle(topic string, payload []byte) {
	p.received.Add(1)
	p.logger.Info("message", "topic", topic, "payload", string(payload))
}
