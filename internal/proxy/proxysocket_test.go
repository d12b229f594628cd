package proxy

import (
	"strings"
	"testing"

	"github.com/pavog/taskmaster/internal/socket"
)

func strPtr(s string) *string { return &s }

func TestProxySocketDemultiplexByID(t *testing.T) {
	phys, peer := socket.NewSyncSocketPair()
	ps := NewProxySocket(phys, 0, nil)

	// peer plays the remote runtime, writing directly onto the shared
	// physical transport.
	writeRaw := func(id *string, inner string) {
		data, err := encodeEnvelope(id, []byte(inner))
		if err != nil {
			t.Fatalf("encodeEnvelope: %v", err)
		}
		peer.Send(data)
	}

	writeRaw(strPtr("a"), "a1")
	writeRaw(strPtr("b"), "b1")
	writeRaw(strPtr("a"), "a2")

	aFrames, err := ps.ReceiveRawProxyMessages(strPtr("a"))
	if err != nil {
		t.Fatalf("ReceiveRawProxyMessages(a): %v", err)
	}
	if len(aFrames) != 2 || string(aFrames[0]) != "a1" || string(aFrames[1]) != "a2" {
		t.Fatalf("got %v, want [a1 a2] in send order", aFrames)
	}

	bFrames, err := ps.ReceiveRawProxyMessages(strPtr("b"))
	if err != nil {
		t.Fatalf("ReceiveRawProxyMessages(b): %v", err)
	}
	if len(bFrames) != 1 || string(bFrames[0]) != "b1" {
		t.Fatalf("got %v, want [b1]", bFrames)
	}
}

func TestProxySocketUnclaimedFramesStayBuffered(t *testing.T) {
	phys, peer := socket.NewSyncSocketPair()
	ps := NewProxySocket(phys, 0, nil)

	data, _ := encodeEnvelope(strPtr("late"), []byte("x"))
	peer.Send(data)

	if out, err := ps.ReceiveRawProxyMessages(strPtr("other")); err != nil || len(out) != 0 {
		t.Fatalf("ReceiveRawProxyMessages(other) = %v, %v, want empty", out, err)
	}

	out, err := ps.ReceiveRawProxyMessages(strPtr("late"))
	if err != nil {
		t.Fatalf("ReceiveRawProxyMessages(late): %v", err)
	}
	if len(out) != 1 || string(out[0]) != "x" {
		t.Fatalf("got %v, want [x]", out)
	}
}

func TestProxySocketWatermarkExceeded(t *testing.T) {
	phys, peer := socket.NewSyncSocketPair()
	ps := NewProxySocket(phys, 2, nil)

	for i := 0; i < 5; i++ {
		data, _ := encodeEnvelope(strPtr("flood"), []byte("x"))
		peer.Send(data)
	}

	_, err := ps.ReceiveRawProxyMessages(strPtr("someone-else"))
	if err == nil {
		t.Fatal("expected a watermark error")
	}
	if !strings.Contains(err.Error(), "watermark") {
		t.Fatalf("err = %v, want mention of watermark", err)
	}
}

func TestProxiedSocketSatisfiesFramed(t *testing.T) {
	phys, peer := socket.NewSyncSocketPair()
	ps := NewProxySocket(phys, 0, nil)
	bound := NewProxiedSocket(ps, "w1")

	if !bound.Send([]byte("hi")) {
		t.Fatal("Send failed")
	}
	raws := peer.Receive()
	if len(raws) != 1 {
		t.Fatalf("peer got %d frames, want 1", len(raws))
	}
	env, err := decodeEnvelope(raws[0])
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if env.LogicalID == nil || *env.LogicalID != "w1" {
		t.Fatalf("LogicalID = %v, want w1", env.LogicalID)
	}
	if string(env.Inner) != "hi" {
		t.Fatalf("Inner = %q, want hi", env.Inner)
	}

	replyData, _ := encodeEnvelope(strPtr("w1"), []byte("reply"))
	peer.Send(replyData)

	got := bound.Receive()
	if len(got) != 1 || string(got[0]) != "reply" {
		t.Fatalf("got %v, want [reply]", got)
	}
}

func TestProxiedSocketCloseDoesNotAffectOtherLogicalID(t *testing.T) {
	phys, _ := socket.NewSyncSocketPair()
	ps := NewProxySocket(phys, 0, nil)
	a := NewProxiedSocket(ps, "a")
	b := NewProxiedSocket(ps, "b")

	a.Close()
	if a.IsOpen() {
		t.Fatal("a still open after Close")
	}
	if !b.IsOpen() {
		t.Fatal("b affected by closing a")
	}
}
