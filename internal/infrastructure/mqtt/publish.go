package mqtt

import "fmt"

// maxPayloadSize caps outbound messages at 1MB, matching common broker
// limits.
const maxPayloadSize = 1 << 20

// Publish sends a message to a topic. Retained messages are stored by
// the broker and delivered immediately to new subscribers; use them for
// state topics, not events.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return waitToken(c.paho.Publish(topic, qos, retained, payload), ErrPublishFailed)
}
