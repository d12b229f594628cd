package proxy

import (
	"context"
	"testing"

	"github.com/pavog/taskmaster/internal/message"
	"github.com/pavog/taskmaster/internal/protocol"
	"github.com/pavog/taskmaster/internal/socket"
)

// fakeSpawner hands back one end of a SyncSocket pair and keeps the
// other end for the test to play the remote runtime with.
type fakeSpawner struct {
	runtimeEnd *socket.SyncSocket
}

func (f *fakeSpawner) Spawn(ctx context.Context) (socket.Framed, error) {
	parentEnd, runtimeEnd := socket.NewSyncSocketPair()
	f.runtimeEnd = runtimeEnd
	return parentEnd, nil
}

func TestProxyStartWorkerInstanceRoundTrip(t *testing.T) {
	spawner := &fakeSpawner{}
	p := New(spawner, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.IsRunning() {
		t.Fatal("IsRunning false after Start")
	}

	prom, err := p.StartWorkerInstance("w1", []byte("descriptor"))
	if err != nil {
		t.Fatalf("StartWorkerInstance: %v", err)
	}

	// The runtime observes the request on the null-id control channel.
	runtimeProxy := NewProxySocket(spawner.runtimeEnd, 0, nil)
	envs, err := runtimeProxy.ReceiveProxyMessages(nil)
	if err != nil {
		t.Fatalf("runtime receive: %v", err)
	}
	if len(envs) != 1 || envs[0].Type != protocol.TypeStartWorkerInstanceRequest {
		t.Fatalf("runtime got %v, want one StartWorkerInstanceRequest", envs)
	}

	respData, _ := message.EncodePayload(protocol.Response{})
	ackEnv := message.Envelope{Kind: message.KindResponse, CorrelationID: envs[0].ID, Type: protocol.TypeResponse, Data: respData}
	ackEncoded, _ := message.Encode(ackEnv)
	runtimeProxy.SendProxyMessage(nil, ackEncoded)

	p.Update()
	prom.Flush()
	if !prom.Settled() {
		t.Fatal("control promise not settled after ack")
	}
}

func TestProxyOpenInstanceSocketTunnelsTraffic(t *testing.T) {
	spawner := &fakeSpawner{}
	p := New(spawner, nil)
	p.Start(context.Background())
	p.StartWorkerInstance("w1", nil)

	sock, err := p.OpenInstanceSocket("w1")
	if err != nil {
		t.Fatalf("OpenInstanceSocket: %v", err)
	}
	sock.Send([]byte("hello from instance"))

	runtimeProxy := NewProxySocket(spawner.runtimeEnd, 0, nil)
	raws, err := runtimeProxy.ReceiveRawProxyMessages(strPtr("w1"))
	if err != nil {
		t.Fatalf("runtime receive: %v", err)
	}
	if len(raws) != 1 || string(raws[0]) != "hello from instance" {
		t.Fatalf("got %v, want [hello from instance]", raws)
	}
}

func TestProxyStopTerminatesAndPolls(t *testing.T) {
	spawner := &fakeSpawner{}
	p := New(spawner, nil)
	p.Start(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Stop(context.Background()) }()

	runtimeProxy := NewProxySocket(spawner.runtimeEnd, 0, nil)
	// Observe the terminate request, then simulate the runtime process
	// exiting by closing its end.
	for {
		envs, err := runtimeProxy.ReceiveProxyMessages(nil)
		if err != nil {
			t.Fatalf("runtime receive: %v", err)
		}
		if len(envs) > 0 {
			break
		}
	}
	runtimeProxy.Close()

	if err := <-done; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("IsRunning still true after remote exit")
	}
}
