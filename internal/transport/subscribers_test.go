package transport

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
)

func testFrame(id uint32) canframe.Frame {
	return canframe.Frame{ID: id, Data: []byte{1, 0, 0, 160, 65}}
}

func TestSubscribeDispatch(t *testing.T) {
	s := NewSubscribers("can0", nil, nil)

	var got []uint32
	sub := s.Subscribe(func(f canframe.Frame) error {
		got = append(got, f.ID)
		return nil
	})
	defer sub.Unsubscribe()

	s.Dispatch(testFrame(0x100))
	s.Dispatch(testFrame(0x101))

	assert.Equal(t, []uint32{0x100, 0x101}, got)
	assert.Equal(t, 1, s.Len())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewSubscribers("can0", nil, nil)

	var first, second int
	sub1 := s.Subscribe(func(canframe.Frame) error { first++; return nil })
	sub2 := s.Subscribe(func(canframe.Frame) error { second++; return nil })
	defer sub2.Unsubscribe()

	s.Dispatch(testFrame(1))
	sub1.Unsubscribe()
	sub1.Unsubscribe()
	s.Dispatch(testFrame(2))
	s.Dispatch(testFrame(3))

	assert.Equal(t, 1, first)
	assert.Equal(t, 3, second)
	assert.Equal(t, 1, s.Len())
}

func TestDispatchCopiesPayload(t *testing.T) {
	s := NewSubscribers("can0", nil, nil)

	s.Subscribe(func(f canframe.Frame) error {
		f.Data[0] = 0xFF
		return nil
	})
	var seen byte
	s.Subscribe(func(f canframe.Frame) error {
		seen = f.Data[0]
		return nil
	})

	frame := testFrame(1)
	s.Dispatch(frame)

	assert.Equal(t, byte(1), seen)
	assert.Equal(t, byte(1), frame.Data[0])
}

func TestFailingSubscriberIsIsolated(t *testing.T) {
	m := metrics.New()
	s := NewSubscribers("can0", nil, m)

	var delivered int
	s.Subscribe(func(canframe.Frame) error { return errors.New("boom") })
	s.Subscribe(func(canframe.Frame) error { panic("kaboom") })
	s.Subscribe(func(canframe.Frame) error { delivered++; return nil })

	failed := s.Dispatch(testFrame(1))
	s.Dispatch(testFrame(2))

	assert.Equal(t, 2, failed)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.SubscriberFailures.WithLabelValues("can0")))
}

func TestInvokeWrapsSubscriberFailure(t *testing.T) {
	s := NewSubscribers("can0", nil, nil)
	cause := errors.New("publish ack timeout")

	err := s.invoke(&subscriber{cb: func(canframe.Frame) error { return cause }}, testFrame(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubscriberFailure)
	assert.ErrorIs(t, err, cause)

	err = s.invoke(&subscriber{cb: func(canframe.Frame) error { panic("x") }}, testFrame(1))
	assert.ErrorIs(t, err, ErrSubscriberFailure)
}

func TestUnsubscribeFromWithinCallback(t *testing.T) {
	s := NewSubscribers("can0", nil, nil)

	var calls int
	var sub Subscription
	sub = s.Subscribe(func(canframe.Frame) error {
		calls++
		sub.Unsubscribe()
		return nil
	})

	s.Dispatch(testFrame(1))
	s.Dispatch(testFrame(2))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, s.Len())
}

func TestSlowSubscriberDoesNotBlockSubscribe(t *testing.T) {
	s := NewSubscribers("can0", nil, nil)

	release := make(chan struct{})
	entered := make(chan struct{})
	s.Subscribe(func(canframe.Frame) error {
		close(entered)
		<-release
		return nil
	})

	go s.Dispatch(testFrame(1))
	<-entered

	done := make(chan struct{})
	go func() {
		sub := s.Subscribe(func(canframe.Frame) error { return nil })
		sub.Unsubscribe()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscribe blocked behind a running callback")
	}
	close(release)
}

// Released subscriptions must never see a frame dispatched after the release.
// Frames carry a sequence number taken before Dispatch, so any number above
// the one read after Unsubscribe returned belongs to a later dispatch.
func TestConcurrentSubscribeUnsubscribeDispatch(t *testing.T) {
	s := NewSubscribers("can0", nil, nil)

	// keep one long-lived subscriber so dispatch always has work
	var background atomic.Int64
	keep := s.Subscribe(func(canframe.Frame) error { background.Add(1); return nil })
	defer keep.Unsubscribe()

	var seq atomic.Uint32
	stop := make(chan struct{})
	var dispatchers sync.WaitGroup
	for i := 0; i < 4; i++ {
		dispatchers.Add(1)
		go func() {
			defer dispatchers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.Dispatch(testFrame(seq.Add(1)))
				}
			}
		}()
	}

	var violations atomic.Int64
	var workers sync.WaitGroup
	for i := 0; i < 150; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			var cutoff atomic.Uint32
			cutoff.Store(math.MaxUint32)
			sub := s.Subscribe(func(f canframe.Frame) error {
				if f.ID > cutoff.Load() {
					violations.Add(1)
				}
				return nil
			})
			time.Sleep(time.Millisecond)
			sub.Unsubscribe()
			cutoff.Store(seq.Load())
			time.Sleep(time.Millisecond)
		}()
	}

	workers.Wait()
	close(stop)
	dispatchers.Wait()

	assert.Zero(t, violations.Load())
	assert.Equal(t, 1, s.Len())
	assert.Positive(t, background.Load())
}
