package mqtt

import (
	"encoding/json"
	"fmt"
)

// Publish sends payload on topic and waits for the broker to acknowledge it
// at the requested QoS. Payloads are capped at 1 MiB.
//
// Parameters:
//   - topic: Destination, normally built with Topics
//   - payload: Message body
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps it for late subscribers
//
// Returns:
//   - error: ErrNotConnected, a validation error or ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}
	return await(c.paho.Publish(topic, qos, retained, payload), operationTimeout, ErrPublishFailed)
}

// PublishJSON marshals v and publishes it at the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), retained)
}
