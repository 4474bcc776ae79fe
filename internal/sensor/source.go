package sensor

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSourceRunning is returned when Start is called on a running source.
var ErrSourceRunning = errors.New("sensor source already running")

// Profile describes how an emulated sensor behaves.
type Profile struct {
	// Min and Max bound the generated values.
	Min, Max float32
	// Period is the time between two readings.
	Period time.Duration
}

var profiles = map[ID]Profile{
	Temperature1: {Min: 20, Max: 30, Period: 3 * time.Second},
	Temperature2: {Min: -10, Max: 0, Period: time.Second},
	Speed1:       {Min: 0, Max: 10, Period: time.Second},
	Speed2:       {Min: 100, Max: 110, Period: 5 * time.Second},
}

// DefaultProfile returns the emulation profile of id.
func DefaultProfile(id ID) (Profile, bool) {
	p, ok := profiles[id]
	return p, ok
}

// Source emulates one sensor, emitting a reading every period from its own
// goroutine until stopped.
type Source struct {
	name    string
	id      ID
	profile Profile
	logger  *slog.Logger

	cbMu     sync.Mutex
	callback func(Reading)

	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
	rng     *rand.Rand
}

// NewSource builds a source for the sensor called name. A zero period keeps
// the sensor's default pace.
func NewSource(name string, period time.Duration, logger *slog.Logger) (*Source, error) {
	id, err := ParseID(name)
	if err != nil {
		return nil, err
	}
	profile := profiles[id]
	if period > 0 {
		profile.Period = period
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		name:    name,
		id:      id,
		profile: profile,
		logger:  logger.With("component", "source", "source", name),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(id))),
	}, nil
}

func (s *Source) Name() string { return s.name }

func (s *Source) ID() ID { return s.id }

// OnReading registers the callback that receives every reading.
func (s *Source) OnReading(cb func(Reading)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callback = cb
}

// Start launches the emitting goroutine.
func (s *Source) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSourceRunning
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stopCh, s.done)
	s.logger.Info("source started", "period", s.profile.Period)
	return nil
}

// Stop requests the goroutine to end. It does not block and may be called
// more than once.
func (s *Source) Stop() {
	if s.running.CompareAndSwap(true, false) {
		close(s.stopCh)
	}
}

// IsRunning reports whether the source has been started and not stopped.
func (s *Source) IsRunning() bool {
	return s.running.Load()
}

// Wait blocks until the goroutine has ended.
func (s *Source) Wait() {
	if s.done != nil {
		<-s.done
	}
}

func (s *Source) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.profile.Period)
	defer ticker.Stop()

	for {
		s.emit()

		select {
		case <-stop:
			s.logger.Info("source stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Source) emit() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if s.callback == nil {
		return
	}
	s.callback(Reading{Sensor: s.id, Value: s.next()})
}

func (s *Source) next() float32 {
	// two decimals, like a real sensor with 0.01 resolution
	steps := int((s.profile.Max - s.profile.Min) * 100)
	if steps <= 0 {
		return s.profile.Min
	}
	return s.profile.Min + float32(s.rng.IntN(steps))/100
}
