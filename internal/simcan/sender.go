package simcan

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// Sender writes frames onto the simulated bus.
type Sender struct {
	bus     *Bus
	iface   string
	fd      bool
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	open bool
}

// NewSender creates a closed sender for iface.
func (b *Bus) NewSender(iface string, opts transport.Options) *Sender {
	opts = opts.WithDefaults()
	return &Sender{
		bus:     b,
		iface:   iface,
		fd:      opts.FD,
		logger:  opts.Logger.With("component", "simcan", "interface", iface),
		metrics: opts.Metrics,
	}
}

func (s *Sender) Name() string { return s.iface }

func (s *Sender) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}
	if err := s.bus.available(s.iface); err != nil {
		return err
	}
	s.open = true
	return nil
}

func (s *Sender) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Send delivers frame to the receivers of the interface. It holds the write
// lock for the whole delivery so frames from concurrent callers never interleave.
func (s *Sender) Send(frame canframe.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return fmt.Errorf("%s: %w", s.iface, transport.ErrNotOpen)
	}
	if err := frame.Validate(); err != nil {
		s.metrics.SendFailed(s.iface)
		return fmt.Errorf("%w: %s: %w", transport.ErrTransmitFailed, s.iface, err)
	}
	if frame.IsFD() && !s.fd {
		s.metrics.SendFailed(s.iface)
		return fmt.Errorf("%w: %s: %d byte payload needs CAN FD", transport.ErrTransmitFailed, s.iface, frame.Len())
	}

	s.bus.Inject(s.iface, frame)
	s.metrics.Sent(s.iface)
	return nil
}

func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}
