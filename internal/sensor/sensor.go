// Package sensor maps sensor identifiers to their display name, unit and
// reading type, and converts readings to and from the 5-byte CAN payload
// [u8 sensor id][f32 value, little endian].
package sensor

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// PayloadSize is the number of payload bytes a reading occupies.
const PayloadSize = 5

var (
	// ErrDecode is returned for payloads that are too short to hold a reading.
	ErrDecode = errors.New("sensor payload decode error")
	// ErrUnknownSensor is returned for identifiers without a table entry.
	ErrUnknownSensor = errors.New("unknown sensor")
)

// ID identifies a sensor on the bus.
type ID uint8

const (
	Unknown      ID = 0
	Temperature1 ID = 1
	Temperature2 ID = 2
	Speed1       ID = 8
	Speed2       ID = 9
)

// Reading types used for topic routing.
const (
	TypeTemperature = "temperature"
	TypeSpeed       = "speed"
)

type info struct {
	name string
	unit string
	kind string
}

var table = map[ID]info{
	Temperature1: {name: "temperature_sensor1", unit: "°C", kind: TypeTemperature},
	Temperature2: {name: "temperature_sensor2", unit: "°C", kind: TypeTemperature},
	Speed1:       {name: "speed_sensor1", unit: "km/h", kind: TypeSpeed},
	Speed2:       {name: "speed_sensor2", unit: "km/h", kind: TypeSpeed},
}

// Known lists every identifier with a table entry.
func Known() []ID {
	return []ID{Temperature1, Temperature2, Speed1, Speed2}
}

// Name returns the display name, "unknown_sensor" for unmapped identifiers.
func (id ID) Name() string {
	if i, ok := table[id]; ok {
		return i.name
	}
	return "unknown_sensor"
}

// Unit returns the physical unit, empty for unmapped identifiers.
func (id ID) Unit() string {
	return table[id].unit
}

// Type returns the reading type, empty for unmapped identifiers.
func (id ID) Type() string {
	return table[id].kind
}

// Known reports whether the identifier has a table entry.
func (id ID) Known() bool {
	_, ok := table[id]
	return ok
}

func (id ID) String() string {
	return fmt.Sprintf("%s(%d)", id.Name(), uint8(id))
}

// ParseID returns the identifier whose display name is name.
func ParseID(name string) (ID, error) {
	for id, i := range table {
		if i.name == name {
			return id, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownSensor, name)
}

// Reading is one sensor observation.
type Reading struct {
	Sensor ID
	Value  float32
}

// Validate reports ErrUnknownSensor for readings that must not be published.
func (r Reading) Validate() error {
	if !r.Sensor.Known() {
		return fmt.Errorf("%w: id %d", ErrUnknownSensor, uint8(r.Sensor))
	}
	return nil
}

// Encode lays the reading out as a CAN payload.
func Encode(r Reading) []byte {
	b := make([]byte, PayloadSize)
	b[0] = uint8(r.Sensor)
	binary.LittleEndian.PutUint32(b[1:], math.Float32bits(r.Value))
	return b
}

// Decode reads a reading from the first PayloadSize bytes of payload.
func Decode(payload []byte) (Reading, error) {
	if len(payload) < PayloadSize {
		return Reading{}, fmt.Errorf("%w: need %d bytes, got %d", ErrDecode, PayloadSize, len(payload))
	}
	return Reading{
		Sensor: ID(payload[0]),
		Value:  math.Float32frombits(binary.LittleEndian.Uint32(payload[1:PayloadSize])),
	}, nil
}

// Message is the JSON document published for a reading.
type Message struct {
	Device string `json:"device"`
	Value  string `json:"value"`
	Unit   string `json:"unit"`
}

// NewMessage formats r for publishing.
func NewMessage(r Reading) Message {
	return Message{
		Device: r.Sensor.Name(),
		Value:  fmt.Sprintf("%.2f", r.Value),
		Unit:   r.Sensor.Unit(),
	}
}

// Marshal returns the JSON encoding of the message for r.
func Marshal(r Reading) ([]byte, error) {
	return json.Marshal(NewMessage(r))
}
