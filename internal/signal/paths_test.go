package signal

import (
	"testing"
	"time"
)

func TestBuildCallID(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	got := BuildCallID("alice", "bob", at)
	want := "alice_bob_1700000000000"
	if got != want {
		t.Errorf("BuildCallID() = %q, want %q", got, want)
	}

	// Ordered pair: caller and callee are not interchangeable
	if BuildCallID("bob", "alice", at) == got {
		t.Error("reversed pair should produce a different call ID")
	}
}

func TestPaths(t *testing.T) {
	callID := "alice_bob_1700000000000"

	if got, want := IncomingPath("bob", callID), "calls/bob/incoming/"+callID; got != want {
		t.Errorf("IncomingPath() = %q, want %q", got, want)
	}
	if got, want := OutgoingPath("alice", callID), "calls/alice/outgoing/"+callID; got != want {
		t.Errorf("OutgoingPath() = %q, want %q", got, want)
	}
	if got, want := IncomingRoot("bob"), "calls/bob/incoming"; got != want {
		t.Errorf("IncomingRoot() = %q, want %q", got, want)
	}
	if got, want := OutgoingRoot("alice"), "calls/alice/outgoing"; got != want {
		t.Errorf("OutgoingRoot() = %q, want %q", got, want)
	}
}

func TestCallIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"calls/bob/incoming/alice_bob_17", "alice_bob_17"},
		{"calls/alice/outgoing/alice_bob_17", "alice_bob_17"},
		{"calls/bob/incoming/", ""},
		{"no-slash", ""},
	}
	for _, tt := range tests {
		if got := CallIDFromPath(tt.path); got != tt.want {
			t.Errorf("CallIDFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRoomIDSymmetric(t *testing.T) {
	a := RoomID("alice", "bob")
	b := RoomID("bob", "alice")
	if a != b {
		t.Errorf("RoomID is not symmetric: %q vs %q", a, b)
	}
	if a == RoomID("alice", "carol") {
		t.Error("different pairs must map to different rooms")
	}
}
