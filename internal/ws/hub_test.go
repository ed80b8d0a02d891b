package ws

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubFansOutEvents(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte, 8), SubscriberID: "dash_test"}
	hub.register <- client

	hub.Publish("qr_scanned", map[string]interface{}{"qr_id": "q1"})

	select {
	case raw := <-client.send:
		var msg struct {
			Type string                 `json:"type"`
			Data map[string]interface{} `json:"data"`
			Ts   string                 `json:"ts"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("Bad event frame: %v", err)
		}
		if msg.Type != "qr_scanned" || msg.Data["qr_id"] != "q1" {
			t.Errorf("Unexpected event: %+v", msg)
		}
		if msg.Ts == "" {
			t.Error("Event should carry a timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("Event never reached the subscriber")
	}
}

func TestHubStopTerminatesRunLoop(t *testing.T) {
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()

	client := &Client{hub: hub, send: make(chan []byte, 1), SubscriberID: "dash_stop"}
	hub.register <- client

	hub.Stop()
	hub.Stop() // idempotent

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run never returned after Stop")
	}

	// Subscribers are closed on the way out
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("Subscriber channel should be closed, got a message")
		}
	case <-time.After(time.Second):
		t.Fatal("Subscriber was never closed")
	}
}

func TestHubReplacesReconnectingSubscriber(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	old := &Client{hub: hub, send: make(chan []byte, 1), SubscriberID: "dash_1"}
	hub.register <- old
	replacement := &Client{hub: hub, send: make(chan []byte, 1), SubscriberID: "dash_1"}
	hub.register <- replacement

	// The old client's channel is closed by the hub
	select {
	case _, ok := <-old.send:
		if ok {
			t.Error("Old subscriber should have been closed, got a message")
		}
	case <-time.After(time.Second):
		t.Fatal("Old subscriber was never closed")
	}

	hub.Publish("qr_rejected", map[string]interface{}{"qr_id": "q2"})
	select {
	case <-replacement.send:
	case <-time.After(time.Second):
		t.Fatal("Replacement subscriber never received the event")
	}
}
