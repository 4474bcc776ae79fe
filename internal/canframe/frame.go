package canframe

import (
	"fmt"
	"strings"
)

const (
	// MaskID keeps the 29-bit identifier and strips the flag bits.
	MaskID uint32 = 0x1FFFFFFF
	// MaskStandardID is the 11-bit identifier range of a standard frame.
	MaskStandardID uint32 = 0x000007FF

	// Flag bits as they appear in the kernel's can_id field.
	FlagExtended uint32 = 0x80000000
	FlagRTR      uint32 = 0x40000000
	FlagError    uint32 = 0x20000000

	// MaxDataLength is the classic CAN payload limit.
	MaxDataLength = 8
	// MaxFDDataLength is the CAN FD payload limit.
	MaxFDDataLength = 64
)

// Frame represents a CAN frame as seen by subscribers and senders.
type Frame struct {
	// ID is the 11/29 bit identifier without any flag bits.
	ID       uint32
	Extended bool
	RTR      bool
	Data     []byte
}

// FromWireID splits a kernel can_id into identifier and flags.
func FromWireID(canID uint32, data []byte) Frame {
	return Frame{
		ID:       canID & MaskID,
		Extended: canID&FlagExtended != 0,
		RTR:      canID&FlagRTR != 0,
		Data:     data,
	}
}

// WireID folds the flags back into a kernel can_id.
func (f Frame) WireID() uint32 {
	id := f.ID & MaskID
	if f.Extended {
		id |= FlagExtended
	}
	if f.RTR {
		id |= FlagRTR
	}
	return id
}

// Len returns the payload length.
func (f Frame) Len() int {
	return len(f.Data)
}

// IsFD reports whether the payload only fits a CAN FD frame.
func (f Frame) IsFD() bool {
	return len(f.Data) > MaxDataLength
}

// Clone returns a copy that shares no memory with f.
func (f Frame) Clone() Frame {
	c := f
	if f.Data != nil {
		c.Data = make([]byte, len(f.Data))
		copy(c.Data, f.Data)
	}
	return c
}

// Validate checks the identifier range and payload size.
func (f Frame) Validate() error {
	if f.ID&^MaskID != 0 {
		return fmt.Errorf("identifier %X exceeds 29 bits", f.ID)
	}
	if !f.Extended && f.ID > MaskStandardID {
		return fmt.Errorf("identifier %X exceeds 11 bits for a standard frame", f.ID)
	}
	if len(f.Data) > MaxFDDataLength {
		return fmt.Errorf("payload length %d exceeds %d bytes", len(f.Data), MaxFDDataLength)
	}
	return nil
}

func (f Frame) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ID=%X Len=%d Data=%X", f.ID, len(f.Data), f.Data)
	if f.Extended {
		sb.WriteString(" EFF")
	}
	if f.RTR {
		sb.WriteString(" RTR")
	}
	return sb.String()
}
