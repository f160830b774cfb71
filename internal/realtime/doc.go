// Package realtime maintains the push channel for device telemetry.
//
// A Channel registers with the cloud for IoT Hub credentials, connects to
// the hub over MQTT, and converts every message into a state.Fragment that
// it hands to a Sink (normally a *state.Store). It owns the broker session:
//
//	Disconnected → Connecting → Subscribed
//	     ↑                          │
//	     └──── lost / rotated ──────┘
//
// Reconnects use jittered exponential backoff. IoT Hub passwords are SAS
// tokens with an expiry, so the Channel re-registers before connecting when
// the token is near expiry and rotates a live connection shortly before the
// token lapses. After MaxConsecutiveFailures failed connection attempts the
// Channel moves to Closed and Err reports ErrBrokerConnection.
//
// Direct-method requests are acknowledged immediately with
// {"status":"received"} on the response topic that carries the same request
// id; their payloads are then treated as telemetry.
//
// Every fragment is stamped with a receive time that strictly increases
// across the Channel's lifetime, so the store's last-write-wins merge keeps
// message order even when two messages arrive within the clock's resolution.
package realtime
