package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"exam-room-service/internal/broadcast"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestEventBusRelaysIntoHub(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	hub := broadcast.NewHub()
	relay := NewRelay(client, hub, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not subscribe")
	}

	sub := hub.Subscribe(broadcast.RoomChannel("r1"))
	defer sub.Close()
	other := hub.Subscribe(broadcast.RoomChannel("r2"))
	defer other.Close()

	bus := NewEventBus(client, "", nil)
	bus.Publish(ctx, broadcast.RoomChannel("r1"), broadcast.Event{
		Type:    broadcast.EventRoomTimeUpdated,
		Payload: map[string]string{"roomId": "r1"},
	})

	select {
	case ev := <-sub.C():
		if ev.Type != broadcast.EventRoomTimeUpdated {
			t.Fatalf("unexpected event %s", ev.Type)
		}
		raw, ok := ev.Payload.(json.RawMessage)
		if !ok {
			t.Fatalf("expected raw payload, got %T", ev.Payload)
		}
		var payload map[string]string
		if err := json.Unmarshal(raw, &payload); err != nil || payload["roomId"] != "r1" {
			t.Fatalf("unexpected payload %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not relayed")
	}

	select {
	case ev := <-other.C():
		t.Fatalf("event leaked to another room: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not stop")
	}
}
