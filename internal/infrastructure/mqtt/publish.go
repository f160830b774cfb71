package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (256KB, the IoT Hub limit).
const maxPayloadSize = 256 << 10

// Publish sends a message to the specified topic.
//
// IoT Hub rejects retained messages, so none are sent.
//
// Parameters:
//   - topic: The topic to publish to (e.g., a direct-method response topic)
//   - payload: The message payload (max 256KB)
//   - qos: Quality of Service level (0 or 1; IoT Hub does not support 2)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	topic := mqtt.Topics{}.MethodResponse(200, rid)
//	err := client.Publish(topic, []byte(`{"status":"received"}`), 1)
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
