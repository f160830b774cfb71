// Package mqtt provides the MQTT transport for the realtime channel.
//
// The cloud pushes device telemetry through an Azure IoT Hub, which speaks
// MQTT 3.1.1 over TLS on port 8883. This package wraps paho.mqtt.golang
// with the constraints IoT Hub imposes:
//
//   - Only IoT Hub topics may be used (no Last Will, no arbitrary status topics)
//   - Credentials are short-lived SAS tokens, so the client never reconnects
//     on its own; the caller reconnects with fresh credentials
//   - Direct-method requests must be answered on the response topic with
//     the request id they arrived with
//
// # Architecture
//
//	IoT Hub ↔ mqtt.Client ↔ realtime.Channel ↔ state.Store
//
// # Security Considerations
//
//   - TLS 1.2 is the minimum and cannot be disabled for remote hosts
//   - Passwords are never logged
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, mqtt.Settings{
//	    Host:     hub.Host,
//	    ClientID: hub.DeviceID,
//	    Username: hub.Username,
//	    Password: hub.Password,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.DeviceBound(hub.DeviceID), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt
