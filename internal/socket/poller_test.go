package socket

import (
	"testing"
	"time"
)

func TestWaitReadableNoFDsSleepsUnconditionally(t *testing.T) {
	start := time.Now()
	if err := WaitReadable(nil, 20*time.Millisecond); err != nil {
		t.Fatalf("WaitReadable: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("returned after %v, want >= ~20ms", elapsed)
	}
}

func TestWaitReadableReturnsOnReadiness(t *testing.T) {
	a, b := newPipeSocketPair(t)
	defer a.Close()
	defer b.Close()

	a.Send([]byte("ready"))

	fd, ok := b.SelectableReadHandle()
	if !ok {
		t.Fatal("expected selectable handle")
	}

	start := time.Now()
	if err := WaitReadable([]int{fd}, 2*time.Second); err != nil {
		t.Fatalf("WaitReadable: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("WaitReadable blocked for %v, want prompt return on readiness", elapsed)
	}
}
