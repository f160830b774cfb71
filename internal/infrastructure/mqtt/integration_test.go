//go:build integration

package mqtt

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// Integration tests against a plain local broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationSettings(clientID string) Settings {
	return Settings{
		Host:     "127.0.0.1",
		Port:     1883,
		ClientID: clientID,
		Insecure: true,
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(context.Background(), integrationSettings("anthem-int-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.DeviceBound("anthem-int-sub-track")
	if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Errorf("HasSubscription(%q) = false", topic)
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	client, err := Connect(context.Background(), integrationSettings("anthem-int-roundtrip"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var received atomic.Int32
	done := make(chan struct{}, 1)
	sub := Topics{}.DeviceBound("anthem-int-roundtrip")
	err = client.Subscribe(sub, 1, func(topic string, payload []byte) error {
		if received.Add(1) == 1 {
			done <- struct{}{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish("devices/anthem-int-roundtrip/messages/devicebound/test", []byte(`{"state":{}}`), 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_CloseIsIdempotent(t *testing.T) {
	client, err := Connect(context.Background(), integrationSettings("anthem-int-close"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}
