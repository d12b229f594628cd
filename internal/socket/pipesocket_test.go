package socket

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newPipeSocketPair(t *testing.T) (*PipeSocket, *PipeSocket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	a, err := NewPipeSocket(fds[0])
	if err != nil {
		t.Fatalf("NewPipeSocket a: %v", err)
	}
	b, err := NewPipeSocket(fds[1])
	if err != nil {
		t.Fatalf("NewPipeSocket b: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestPipeSocketFrameRoundTrip(t *testing.T) {
	a, b := newPipeSocketPair(t)

	if !a.Send([]byte("hello")) {
		t.Fatal("Send returned false")
	}

	var frames [][]byte
	deadline := time.Now().Add(2 * time.Second)
	for len(frames) == 0 && time.Now().Before(deadline) {
		frames = b.Receive()
		if len(frames) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	if len(frames) != 1 || string(frames[0]) != "hello" {
		t.Fatalf("got %v, want [hello]", frames)
	}
}

func TestPipeSocketMultipleFramesPreserveOrder(t *testing.T) {
	a, b := newPipeSocketPair(t)

	want := []string{"one", "two", "three"}
	for _, w := range want {
		if !a.Send([]byte(w)) {
			t.Fatalf("Send(%q) failed", w)
		}
	}

	var frames [][]byte
	deadline := time.Now().Add(2 * time.Second)
	for len(frames) < len(want) && time.Now().Before(deadline) {
		frames = append(frames, b.Receive()...)
		if len(frames) < len(want) {
			time.Sleep(time.Millisecond)
		}
	}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i, w := range want {
		if string(frames[i]) != w {
			t.Fatalf("frame %d = %q, want %q", i, frames[i], w)
		}
	}
}

func TestPipeSocketCloseMarksNotOpen(t *testing.T) {
	a, _ := newPipeSocketPair(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.IsOpen() {
		t.Fatal("IsOpen true after Close")
	}
	if a.Send([]byte("x")) {
		t.Fatal("Send succeeded on closed socket")
	}
}

func TestPipeSocketSelectableReadHandle(t *testing.T) {
	a, _ := newPipeSocketPair(t)
	fd, ok := a.SelectableReadHandle()
	if !ok {
		t.Fatal("expected a selectable handle")
	}
	if fd < 0 {
		t.Fatalf("unexpected fd %d", fd)
	}
}
