package socket

import "testing"

func TestSyncSocketPairRoundTrip(t *testing.T) {
	a, b := NewSyncSocketPair()

	if !a.Send([]byte("ping")) {
		t.Fatal("Send returned false on open socket")
	}
	frames := b.Receive()
	if len(frames) != 1 || string(frames[0]) != "ping" {
		t.Fatalf("got %v, want [ping]", frames)
	}

	// Receive drains; a second call sees nothing new.
	if frames := b.Receive(); len(frames) != 0 {
		t.Fatalf("second Receive returned %v, want empty", frames)
	}
}

func TestSyncSocketPreservesSendOrder(t *testing.T) {
	a, b := NewSyncSocketPair()
	for _, msg := range []string{"1", "2", "3"} {
		a.Send([]byte(msg))
	}
	frames := b.Receive()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, want := range []string{"1", "2", "3"} {
		if string(frames[i]) != want {
			t.Fatalf("frame %d = %q, want %q", i, frames[i], want)
		}
	}
}

func TestSyncSocketCloseIsIdempotentAndStopsSends(t *testing.T) {
	a, b := NewSyncSocketPair()
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if a.IsOpen() {
		t.Fatal("IsOpen true after Close")
	}
	if a.Send([]byte("x")) {
		t.Fatal("Send succeeded on closed socket")
	}
	_ = b
}

func TestSyncSocketNotSelectable(t *testing.T) {
	a, _ := NewSyncSocketPair()
	if _, ok := a.SelectableReadHandle(); ok {
		t.Fatal("SyncSocket reported a selectable handle")
	}
}
