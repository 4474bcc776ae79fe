package bridge

import (
	"errors"
	"fmt"

	"github.com/farouk15160/canmqtt-bridge/internal/canframe"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/routing"
	"github.com/farouk15160/canmqtt-bridge/internal/sensor"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"
)

// handleFrame returns the subscriber callback for iface. Frames that cannot
// become a reading are counted and dropped; only bus failures are returned
// to the fan-out as subscriber failures.
func (b *Bridge) handleFrame(iface string) transport.Callback {
	return func(frame canframe.Frame) error {
		b.logger.Debug("frame received", "interface", iface, "frame", frame.String())

		err := b.forward(frame)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, sensor.ErrDecode):
			b.metrics.Dropped(iface, metrics.ReasonDecode)
		case errors.Is(err, sensor.ErrUnknownSensor):
			b.metrics.Dropped(iface, metrics.ReasonUnknownSensor)
		case errors.Is(err, routing.ErrNoRoute):
			b.metrics.Dropped(iface, metrics.ReasonNoRoute)
		default:
			b.metrics.Dropped(iface, metrics.ReasonPublish)
			return err
		}
		b.logger.Warn("frame dropped", "interface", iface, "id", fmt.Sprintf("%#x", frame.ID), "error", err)
		return nil
	}
}

// forward decodes, validates, routes and publishes one frame.
func (b *Bridge) forward(frame canframe.Frame) error {
	reading, err := sensor.Decode(frame.Data)
	if err != nil {
		return err
	}
	if err := reading.Validate(); err != nil {
		return err
	}

	topic, err := b.router.Route(reading.Sensor.Type())
	if err != nil {
		return err
	}

	payload, err := sensor.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode %s: %w", reading.Sensor, err)
	}
	if err := b.publisher.Publish(topic, payload, b.opts.QoS); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	b.metrics.Published(topic)
	b.logger.Debug("reading published", "topic", topic, "payload", string(payload))
	return nil
}
