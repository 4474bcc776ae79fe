// Package simcan is an in-memory CAN bus. Frames sent on an interface are
// delivered to every open receiver of the same interface name on the same
// Bus, which makes it usable in tests and dry runs without SocketCAN.
package simcan

import (
	"fmt"
	"sync"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// BackendName is the name the backend registers under.
const BackendName = "sim"

// queueSize bounds the frames buffered per receiver.
const queueSize = 256

// Default is the bus used by the registered backend.
var Default = NewBus()

func init() {
	transport.Register(BackendName, Default.Backend())
}

// Bus connects simulated senders and receivers by interface name.
type Bus struct {
	mu        sync.RWMutex
	receivers map[string]map[*Receiver]struct{}
	// down marks interfaces that fail to open.
	down map[string]bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		receivers: make(map[string]map[*Receiver]struct{}),
		down:      make(map[string]bool),
	}
}

// Backend exposes the bus through the transport contracts.
func (b *Bus) Backend() transport.Backend {
	return transport.Backend{
		NewReceiver: func(iface string, opts transport.Options) transport.Receiver {
			return b.NewReceiver(iface, opts)
		},
		NewSender: func(iface string, opts transport.Options) transport.Sender {
			return b.NewSender(iface, opts)
		},
	}
}

// SetDown makes Open fail for iface, mimicking a missing network device.
func (b *Bus) SetDown(iface string, down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down[iface] = down
}

func (b *Bus) available(iface string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.down[iface] {
		return fmt.Errorf("%w: %s: no such device", transport.ErrChannelUnavailable, iface)
	}
	return nil
}

func (b *Bus) attach(r *Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.receivers[r.iface]
	if !ok {
		set = make(map[*Receiver]struct{})
		b.receivers[r.iface] = set
	}
	set[r] = struct{}{}
}

func (b *Bus) detach(r *Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.receivers[r.iface], r)
}

// Inject delivers frame to every open receiver of iface, as if another node
// had transmitted it. It returns the number of receivers reached.
func (b *Bus) Inject(iface string, frame canframe.Frame) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for r := range b.receivers[iface] {
		if r.deliver(frame.Clone()) {
			n++
		}
	}
	return n
}
