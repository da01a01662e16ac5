package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestClient(hub *Hub, userID, role string) *Client {
	return &Client{
		id:     "test-" + userID,
		userID: userID,
		role:   role,
		hub:    hub,
		send:   make(chan []byte, 16),
		rooms:  make(map[string]bool),
	}
}

func drainFrames(c *Client) []Message {
	var frames []Message
	for {
		select {
		case data := <-c.send:
			var msg Message
			if err := json.Unmarshal(data, &msg); err == nil {
				frames = append(frames, msg)
			}
		default:
			return frames
		}
	}
}

func TestRegisterAutoJoinsIdentityRooms(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "u1", "representative")

	hub.registerClient(client)

	if !hub.IsUserOnline("u1") {
		t.Fatal("expected u1 online after register")
	}
	if got := hub.RoomSize(UserRoom("u1")); got != 1 {
		t.Fatalf("expected u1 in own user room, got size %d", got)
	}
	if got := hub.RoomSize(RoleRoom("representative")); got != 1 {
		t.Fatalf("expected u1 in role room, got size %d", got)
	}

	hub.unregisterClient(client)
	if hub.IsUserOnline("u1") {
		t.Fatal("expected u1 offline after unregister")
	}
	if got := hub.RoomSize(UserRoom("u1")); got != 0 {
		t.Fatalf("expected empty user room after unregister, got size %d", got)
	}
}

func TestDeliverTargetsOnlyJoinedRooms(t *testing.T) {
	hub := newTestHub()
	alice := newTestClient(hub, "alice", "representative")
	bob := newTestClient(hub, "bob", "admin")
	hub.registerClient(alice)
	hub.registerClient(bob)

	hub.deliver(roomMessage{rooms: []string{UserRoom("alice")}, message: []byte(`{"event":"notification:new"}`)})

	if frames := drainFrames(alice); len(frames) != 1 || frames[0].Event != EventNotificationNew {
		t.Fatalf("expected alice to receive the targeted event, got %v", frames)
	}
	if frames := drainFrames(bob); len(frames) != 0 {
		t.Fatalf("expected bob to receive nothing, got %v", frames)
	}
}

func TestDeliverBroadcastsOnEmptyRooms(t *testing.T) {
	hub := newTestHub()
	alice := newTestClient(hub, "alice", "representative")
	bob := newTestClient(hub, "bob", "admin")
	hub.registerClient(alice)
	hub.registerClient(bob)

	hub.deliver(roomMessage{message: []byte(`{"event":"stages:reordered"}`)})

	if frames := drainFrames(alice); len(frames) != 1 {
		t.Fatalf("expected alice to receive the broadcast, got %v", frames)
	}
	if frames := drainFrames(bob); len(frames) != 1 {
		t.Fatalf("expected bob to receive the broadcast, got %v", frames)
	}
}

func TestJoinDeniedForForeignRooms(t *testing.T) {
	hub := newTestHub()
	attacker := newTestClient(hub, "attacker", "representative")
	hub.registerClient(attacker)

	for _, room := range []string{UserRoom("victim"), RoleRoom("admin"), RoleRoom("super_admin")} {
		attacker.handleMessage([]byte(`{"action":"join","room":"` + room + `"}`))
		if got := hub.RoomSize(room); got != 0 {
			t.Fatalf("expected %q to stay empty, got size %d", room, got)
		}
	}

	frames := drainFrames(attacker)
	if len(frames) != 3 {
		t.Fatalf("expected three ack frames, got %d", len(frames))
	}
	for _, frame := range frames {
		payload, _ := frame.Payload.(map[string]interface{})
		if payload["action"] != "denied" {
			t.Fatalf("expected denied ack, got %v", frame.Payload)
		}
	}

	// The foreign user room stayed empty, so a targeted deliver reaches nobody.
	hub.deliver(roomMessage{rooms: []string{UserRoom("victim")}, message: []byte(`{"event":"notification:new"}`)})
	if frames := drainFrames(attacker); len(frames) != 0 {
		t.Fatalf("expected no victim-targeted frames, got %v", frames)
	}
}

func TestJoinOwnRoomsAllowed(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "u1", "representative")
	hub.registerClient(client)

	client.handleMessage([]byte(`{"action":"leave","room":"` + RoleRoom("representative") + `"}`))
	if got := hub.RoomSize(RoleRoom("representative")); got != 0 {
		t.Fatalf("expected role room left, got size %d", got)
	}

	client.handleMessage([]byte(`{"action":"join","room":"` + RoleRoom("representative") + `"}`))
	if got := hub.RoomSize(RoleRoom("representative")); got != 1 {
		t.Fatalf("expected role room rejoined, got size %d", got)
	}

	client.handleMessage([]byte(`{"action":"join:user"}`))
	if got := hub.RoomSize(UserRoom("u1")); got != 1 {
		t.Fatalf("expected own user room membership, got size %d", got)
	}
}

func TestRunDeliversTargetedEmit(t *testing.T) {
	hub := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newTestClient(hub, "u1", "admin")
	hub.register <- client

	hub.EmitToUser("u1", EventNotificationNew, map[string]string{"notificationId": "n1"})

	select {
	case data := <-client.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if msg.Event != EventNotificationNew {
			t.Fatalf("expected %q, got %q", EventNotificationNew, msg.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for targeted emit")
	}

	hub.unregister <- client
}
