package socketcan

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// Sender writes frames to one CAN interface.
type Sender struct {
	iface   string
	fd      bool
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	sock int
}

// NewSender creates a closed sender for iface.
func NewSender(iface string, opts transport.Options) *Sender {
	opts = opts.WithDefaults()
	return &Sender{
		iface:   iface,
		fd:      opts.FD,
		logger:  opts.Logger.With("component", "socketcan", "interface", iface),
		metrics: opts.Metrics,
		sock:    -1,
	}
}

func (s *Sender) Name() string { return s.iface }

func (s *Sender) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sock >= 0 {
		return nil
	}
	sock, err := openSocket(s.iface, s.fd)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", transport.ErrChannelUnavailable, s.iface, err)
	}
	s.sock = sock
	s.logger.Info("CAN interface opened for sending")
	return nil
}

func (s *Sender) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock >= 0
}

// Send writes one frame. The write lock keeps concurrent frames whole.
func (s *Sender) Send(frame canframe.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sock < 0 {
		return fmt.Errorf("%s: %w", s.iface, transport.ErrNotOpen)
	}

	b, err := marshalFrame(frame, s.fd)
	if err != nil {
		s.metrics.SendFailed(s.iface)
		return fmt.Errorf("%w: %s: %w", transport.ErrTransmitFailed, s.iface, err)
	}

	n, err := writeRaw(s.sock, b)
	if err != nil {
		s.metrics.SendFailed(s.iface)
		return fmt.Errorf("%w: %s: %w", transport.ErrTransmitFailed, s.iface, err)
	}
	if n != len(b) {
		s.metrics.SendFailed(s.iface)
		return fmt.Errorf("%w: %s: wrote %d of %d bytes", transport.ErrTransmitFailed, s.iface, n, len(b))
	}
	s.metrics.Sent(s.iface)
	return nil
}

func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sock < 0 {
		return nil
	}
	err := closeFD(s.sock)
	s.sock = -1
	return err
}
