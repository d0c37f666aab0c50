package relay

import "testing"

func TestHubBroadcastExcludesSender(t *testing.T) {
	hub := NewHub()
	first := newClient(1, Identity{UserID: "a"}, 4)
	second := newClient(2, Identity{UserID: "b"}, 4)
	hub.Add("room", first)
	hub.Add("room", second)

	if delivered := hub.Broadcast("room", []byte("x"), first); delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}
	if len(first.Outbound()) != 0 || len(second.Outbound()) != 1 {
		t.Fatalf("unexpected queue lengths: %d %d", len(first.Outbound()), len(second.Outbound()))
	}
	if delivered := hub.Broadcast("room", []byte("y"), nil); delivered != 2 {
		t.Fatalf("expected broadcast to everyone, got %d", delivered)
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	slow := newClient(1, Identity{UserID: "a"}, 1)
	hub.Add("room", slow)
	hub.Broadcast("room", []byte("1"), nil)
	if delivered := hub.Broadcast("room", []byte("2"), nil); delivered != 0 {
		t.Fatalf("expected a full buffer to drop the frame, got %d", delivered)
	}
	if frame := <-slow.Outbound(); string(frame) != "1" {
		t.Fatalf("expected the first frame to be kept, got %s", frame)
	}
}

func TestHubRemoveDropsEmptyRooms(t *testing.T) {
	hub := NewHub()
	client := newClient(1, Identity{UserID: "a"}, 1)
	hub.Add("room", client)
	if !hub.Contains("room", client) || hub.RoomCount() != 1 {
		t.Fatalf("expected client to be registered")
	}
	hub.Remove("room", client)
	if hub.Contains("room", client) || hub.RoomCount() != 0 {
		t.Fatalf("expected empty room to be dropped")
	}
	hub.Remove("room", client)
}

func TestClosedClientRejectsFrames(t *testing.T) {
	client := newClient(1, Identity{UserID: "a"}, 1)
	client.close()
	client.close()
	if client.enqueue([]byte("x")) {
		t.Fatalf("expected closed client to reject frames")
	}
}

func TestHubAllSpansRooms(t *testing.T) {
	hub := NewHub()
	hub.Add("one", newClient(1, Identity{UserID: "a"}, 1))
	hub.Add("two", newClient(2, Identity{UserID: "b"}, 1))
	if len(hub.All()) != 2 {
		t.Fatalf("expected two clients, got %d", len(hub.All()))
	}
}
