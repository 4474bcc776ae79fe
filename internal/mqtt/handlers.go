package mqtt

import (
	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// messageHandler hands a private copy of every payload to h.
func (c *Client) messageHandler(h Handler) MQTT.MessageHandler {
	return func(_ MQTT.Client, msg MQTT.Message) {
		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())

		c.logger.Debug("received", "topic", msg.Topic(), "payload", truncate(payload))
		h(msg.Topic(), payload)
	}
}

// onConnectHandler runs on its own goroutine after every (re)connect.
func (c *Client) onConnectHandler(client MQTT.Client) {
	c.logger.Info("connection established", "broker", c.brokerURL)

	if c.opts.StatusTopic != "" {
		if err := c.publishOn(client, c.opts.StatusTopic, c.statusRecord(statusOnline)); err != nil {
			c.logger.Warn("status record not published", "topic", c.opts.StatusTopic, "error", err)
		}
	}

	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.Unlock()

	for topic, sub := range subs {
		if err := c.subscribe(client, topic, sub); err != nil {
			c.logger.Error("re-subscribe failed", "topic", topic, "error", err)
		}
	}
}

// connectionLostHandler only logs; paho reconnects on its own.
func (c *Client) connectionLostHandler(_ MQTT.Client, err error) {
	c.logger.Warn("connection lost, will auto-reconnect", "error", err)
}
