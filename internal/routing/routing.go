// Package routing selects where readings go: the CAN interface and message
// identifier a producer source writes to, and the bus topic a decoded
// reading is published on. Tables are built once and are read-only after.
package routing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/sensor"
)

// ErrNoRoute is returned when no binding or topic matches.
var ErrNoRoute = errors.New("no route found")

// Binding declares that readings of Source are written to Interface using MessageID.
type Binding struct {
	Source    string
	Interface string
	MessageID uint32
	Extended  bool
	// Period overrides the source's default pace when non-zero.
	Period time.Duration
}

// Frame encodes r as the frame this binding sends.
func (b Binding) Frame(r sensor.Reading) canframe.Frame {
	return canframe.Frame{
		ID:       b.MessageID,
		Extended: b.Extended,
		Data:     sensor.Encode(r),
	}
}

// ParseMessageID parses a hexadecimal identifier such as "0x200" or "1A0".
func ParseMessageID(s string) (uint32, error) {
	hexStr := strings.TrimSpace(s)
	hexStr = strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X")
	if hexStr == "" {
		return 0, fmt.Errorf("empty message id %q", s)
	}
	id, err := strconv.ParseUint(hexStr, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	if uint32(id)&^canframe.MaskID != 0 {
		return 0, fmt.Errorf("message id %q exceeds 29 bits", s)
	}
	return uint32(id), nil
}

// BindingTable maps source names to their binding.
type BindingTable struct {
	bySource map[string]Binding
	order    []string
}

// NewBindingTable validates bindings against the configured interfaces.
func NewBindingTable(bindings []Binding, interfaces []string) (*BindingTable, error) {
	if len(bindings) == 0 {
		return nil, errors.New("no data bindings configured")
	}

	known := make(map[string]bool, len(interfaces))
	for _, iface := range interfaces {
		known[iface] = true
	}

	t := &BindingTable{bySource: make(map[string]Binding, len(bindings))}
	for _, b := range bindings {
		if _, err := sensor.ParseID(b.Source); err != nil {
			return nil, fmt.Errorf("binding %q: %w", b.Source, err)
		}
		if !known[b.Interface] {
			return nil, fmt.Errorf("binding %q: interface %q is not in can_interfaces", b.Source, b.Interface)
		}
		if b.MessageID&^canframe.MaskID != 0 {
			return nil, fmt.Errorf("binding %q: message id %X exceeds 29 bits", b.Source, b.MessageID)
		}
		if !b.Extended && b.MessageID > canframe.MaskStandardID {
			return nil, fmt.Errorf("binding %q: message id %X needs an extended frame", b.Source, b.MessageID)
		}
		if _, dup := t.bySource[b.Source]; dup {
			return nil, fmt.Errorf("binding %q: source bound twice", b.Source)
		}
		t.bySource[b.Source] = b
		t.order = append(t.order, b.Source)
	}
	return t, nil
}

// Lookup returns the binding of source.
func (t *BindingTable) Lookup(source string) (Binding, error) {
	b, ok := t.bySource[source]
	if !ok {
		return Binding{}, fmt.Errorf("%w: source %q", ErrNoRoute, source)
	}
	return b, nil
}

// Bindings returns every binding in configuration order.
func (t *BindingTable) Bindings() []Binding {
	out := make([]Binding, 0, len(t.order))
	for _, source := range t.order {
		out = append(out, t.bySource[source])
	}
	return out
}

// TopicRouter picks the topic of a reading type. Topics are scanned in
// configured order and the first one containing the type wins.
type TopicRouter struct {
	topics []string
}

// NewTopicRouter copies topics.
func NewTopicRouter(topics []string) *TopicRouter {
	return &TopicRouter{topics: append([]string(nil), topics...)}
}

// Route returns the topic for readingType.
func (r *TopicRouter) Route(readingType string) (string, error) {
	if readingType == "" {
		return "", fmt.Errorf("%w: empty reading type", ErrNoRoute)
	}
	for _, topic := range r.topics {
		if strings.Contains(topic, readingType) {
			return topic, nil
		}
	}
	return "", fmt.Errorf("%w: no topic for reading type %q", ErrNoRoute, readingType)
}

// Topics returns the configured topics.
func (r *TopicRouter) Topics() []string {
	return append([]string(nil), r.topics...)
}
