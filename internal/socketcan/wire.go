// Package socketcan implements transport.Receiver and transport.Sender on
// Linux raw CAN sockets. Classic frames travel as the kernel's 16 byte
// can_frame (encoded with brutella/can), CAN FD frames as the 72 byte
// canfd_frame.
package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/brutella/can"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// BackendName is the name the backend registers under.
const BackendName = "socketcan"

const (
	classicMTU = 16
	fdMTU      = 72
)

func init() {
	transport.Register(BackendName, transport.Backend{
		NewReceiver: func(iface string, opts transport.Options) transport.Receiver {
			return NewReceiver(iface, opts)
		},
		NewSender: func(iface string, opts transport.Options) transport.Sender {
			return NewSender(iface, opts)
		},
	})
}

// marshalFrame encodes f in the kernel layout. Payloads above 8 bytes need fd.
func marshalFrame(f canframe.Frame, fd bool) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if !f.IsFD() {
		var data [canframe.MaxDataLength]uint8
		copy(data[:], f.Data)
		return can.Marshal(can.Frame{
			ID:     f.WireID(),
			Length: uint8(len(f.Data)),
			Data:   data,
		})
	}
	if !fd {
		return nil, fmt.Errorf("%d byte payload needs CAN FD", len(f.Data))
	}

	b := make([]byte, fdMTU)
	binary.NativeEndian.PutUint32(b[0:4], f.WireID())
	b[4] = uint8(len(f.Data))
	copy(b[8:], f.Data)
	return b, nil
}

// unmarshalFrame decodes one frame as read from the socket.
func unmarshalFrame(b []byte) (canframe.Frame, uint32, error) {
	switch len(b) {
	case classicMTU:
		var cf can.Frame
		if err := can.Unmarshal(b, &cf); err != nil {
			return canframe.Frame{}, 0, err
		}
		if int(cf.Length) > canframe.MaxDataLength {
			return canframe.Frame{}, cf.ID, fmt.Errorf("classic frame length %d exceeds %d", cf.Length, canframe.MaxDataLength)
		}
		data := make([]byte, cf.Length)
		copy(data, cf.Data[:cf.Length])
		return canframe.FromWireID(cf.ID, data), cf.ID, nil

	case fdMTU:
		canID := binary.NativeEndian.Uint32(b[0:4])
		n := int(b[4])
		if n > canframe.MaxFDDataLength {
			return canframe.Frame{}, canID, fmt.Errorf("fd frame length %d exceeds %d", n, canframe.MaxFDDataLength)
		}
		data := make([]byte, n)
		copy(data, b[8:8+n])
		return canframe.FromWireID(canID, data), canID, nil

	default:
		return canframe.Frame{}, 0, fmt.Errorf("unexpected frame size %d", len(b))
	}
}
