package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
)

type subscriber struct {
	id uint64
	cb Callback
	// active is checked by every dispatch before the callback runs.
	active atomic.Bool
}

// Subscribers is the dynamic fan-out set of one receiver. Mutation and
// snapshots happen under the lock, callbacks run outside of it so that a slow
// consumer never blocks Subscribe or Unsubscribe.
type Subscribers struct {
	iface   string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   []*subscriber
	nextID uint64
}

// NewSubscribers creates an empty set for the named interface.
func NewSubscribers(iface string, logger *slog.Logger, m *metrics.Metrics) *Subscribers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscribers{iface: iface, logger: logger, metrics: m}
}

// Subscribe appends cb under a new identifier.
func (s *Subscribers) Subscribe(cb Callback) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &subscriber{id: s.nextID, cb: cb}
	sub.active.Store(true)
	s.subs = append(s.subs, sub)

	s.logger.Debug("subscriber added", "interface", s.iface, "subscriber", sub.id)
	return &subscription{set: s, sub: sub}
}

func (s *Subscribers) unsubscribe(sub *subscriber) {
	// Cleared before taking the lock so a dispatch holding an older snapshot
	// skips the callback.
	sub.active.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.subs {
		if existing.id == sub.id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			s.logger.Debug("subscriber removed", "interface", s.iface, "subscriber", sub.id)
			return
		}
	}
}

// Len returns the number of live subscribers.
func (s *Subscribers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dispatch delivers frame to every live subscriber in registration order.
// Failures are reported and never stop delivery to the remaining subscribers.
// It returns the number of failed callbacks.
func (s *Subscribers) Dispatch(frame canframe.Frame) int {
	s.mu.Lock()
	snapshot := make([]*subscriber, len(s.subs))
	copy(snapshot, s.subs)
	s.mu.Unlock()

	failed := 0
	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		if err := s.invoke(sub, frame.Clone()); err != nil {
			failed++
			s.metrics.SubscriberFailed(s.iface)
			s.logger.Warn("subscriber callback failed",
				"interface", s.iface,
				"subscriber", sub.id,
				"frame_id", fmt.Sprintf("%X", frame.ID),
				"error", err)
		}
	}
	return failed
}

func (s *Subscribers) invoke(sub *subscriber, frame canframe.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSubscriberFailure, r)
		}
	}()
	if cbErr := sub.cb(frame); cbErr != nil {
		return fmt.Errorf("%w: %w", ErrSubscriberFailure, cbErr)
	}
	return nil
}

type subscription struct {
	set  *Subscribers
	sub  *subscriber
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.set.unsubscribe(s.sub)
	})
}
