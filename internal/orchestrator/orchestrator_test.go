package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pavog/taskmaster/internal/message"
	"github.com/pavog/taskmaster/internal/protocol"
	"github.com/pavog/taskmaster/internal/socket"
	"github.com/pavog/taskmaster/internal/task"
	"github.com/pavog/taskmaster/internal/worker"
)

// echoSpawner hands out SyncSocket pairs and, for each one, starts a
// background goroutine playing a trivial in-process "child": it says
// hello immediately, then echoes back whatever task data it's given
// with a "-done" suffix so the parent-side assertions can tell
// requests apart.
type echoSpawner struct{}

func (echoSpawner) Spawn(ctx context.Context) (socket.Framed, error) {
	parentEnd, childEnd := socket.NewSyncSocketPair()
	go runEchoChild(childEnd)
	return parentEnd, nil
}

func runEchoChild(sock *socket.SyncSocket) {
	hello, _ := message.Encode(message.Envelope{ID: 1, Kind: message.KindRequest, Type: protocol.TypeHelloRequest})
	sock.Send(hello)

	for {
		raws := sock.Receive()
		if raws == nil && !sock.IsOpen() {
			return
		}
		for _, raw := range raws {
			env, err := message.Decode(raw)
			if err != nil {
				continue
			}
			if env.Type != protocol.TypeRunTaskRequest {
				continue
			}
			var req protocol.RunTaskRequest
			message.DecodePayload(env.Data, &req)
			respData, _ := message.EncodePayload(protocol.Response{Data: append(req.TaskData, []byte("-done")...)})
			respEnv, _ := message.Encode(message.Envelope{
				Kind: message.KindResponse, CorrelationID: env.ID,
				Type: protocol.TypeResponse, Data: respData,
			})
			sock.Send(respEnv)
		}
		time.Sleep(time.Millisecond)
	}
}

// recordingTask implements task.Task, recording its own label and the
// order in which it settled via the shared order slice.
type recordingTask struct {
	label  string
	group  *string
	order  *[]string
	result []byte
	err    *task.Error
}

func (r *recordingTask) Group() *string          { return r.group }
func (r *recordingTask) Encode() ([]byte, error) { return []byte(r.label), nil }
func (r *recordingTask) HandleResult(data []byte) {
	r.result = data
	*r.order = append(*r.order, r.label)
}
func (r *recordingTask) HandleError(err *task.Error) {
	r.err = err
	*r.order = append(*r.order, r.label)
}

func strPtr(s string) *string { return &s }

func runUntilSettled(t *testing.T, tm *Taskmaster, count int, order *[]string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for len(*order) < count {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d tasks, got %d", count, len(*order))
		}
		tm.Update()
	}
}

func TestTaskmasterSingleWorkerSequentialTasks(t *testing.T) {
	tm := New(nil)
	w := worker.New(worker.Config{Spawner: echoSpawner{}}, nil)
	if err := tm.AddWorker(w); err != nil {
		t.Fatalf("AddWorker: %v", err)
	}

	var order []string
	for i := 0; i < 3; i++ {
		tm.AddTask(&recordingTask{label: fmt.Sprintf("t%d", i), order: &order})
	}

	runUntilSettled(t, tm, 3, &order, 2*time.Second)

	if len(order) != 3 || order[0] != "t0" || order[1] != "t1" || order[2] != "t2" {
		t.Fatalf("settlement order = %v, want t0,t1,t2 in order", order)
	}
}

func TestTaskmasterGroupSegregation(t *testing.T) {
	tm := New(nil)
	groupA, groupB := "A", "B"

	wa := worker.New(worker.Config{Spawner: echoSpawner{}, Group: &groupA}, nil)
	wb := worker.New(worker.Config{Spawner: echoSpawner{}, Group: &groupB}, nil)
	if err := tm.AddWorker(wa); err != nil {
		t.Fatalf("AddWorker a: %v", err)
	}
	if err := tm.AddWorker(wb); err != nil {
		t.Fatalf("AddWorker b: %v", err)
	}

	var order []string
	labels := []struct {
		label string
		group *string
	}{
		{"a1", strPtr("A")}, {"a2", strPtr("A")}, {"b1", strPtr("B")}, {"a3", strPtr("A")}, {"b2", strPtr("B")},
	}
	for _, l := range labels {
		tm.AddTask(&recordingTask{label: l.label, group: l.group, order: &order})
	}

	runUntilSettled(t, tm, len(labels), &order, 2*time.Second)

	aCount, bCount := 0, 0
	for _, label := range order {
		switch label[0] {
		case 'a':
			aCount++
		case 'b':
			bCount++
		}
	}
	if aCount != 3 || bCount != 2 {
		t.Fatalf("aCount=%d bCount=%d, want 3 and 2", aCount, bCount)
	}
}

// onceFactory produces exactly one task, then reports exhaustion.
type onceFactory struct {
	task task.Task
	used bool
}

func (f *onceFactory) Groups() []string { return nil }
func (f *onceFactory) CreateNextTask(group *string) task.Task {
	if f.used {
		return nil
	}
	f.used = true
	return f.task
}

func TestTaskmasterFactoryTakesPrecedenceOverQueue(t *testing.T) {
	tm := New(nil)
	w := worker.New(worker.Config{Spawner: echoSpawner{}}, nil)
	if err := tm.AddWorker(w); err != nil {
		t.Fatalf("AddWorker: %v", err)
	}

	var order []string
	queued := &recordingTask{label: "queued", order: &order}
	tm.AddTask(queued)

	factoryTask := &recordingTask{label: "from-factory", order: &order}
	tm.AddTaskFactory(&onceFactory{task: factoryTask})

	runUntilSettled(t, tm, 2, &order, 2*time.Second)

	if order[0] != "from-factory" {
		t.Fatalf("order[0] = %q, want from-factory to run before the queued task", order[0])
	}
	if order[1] != "queued" {
		t.Fatalf("order[1] = %q, want queued", order[1])
	}
}

func TestTaskmasterWaitReturnsWhenNoWorkerIsWorking(t *testing.T) {
	tm := New(nil)
	w := worker.New(worker.Config{Spawner: echoSpawner{}}, nil)
	if err := tm.AddWorker(w); err != nil {
		t.Fatalf("AddWorker: %v", err)
	}

	var order []string
	tm.AddTask(&recordingTask{label: "solo", order: &order})

	done := make(chan struct{})
	go func() {
		tm.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() never returned")
	}

	if len(order) != 1 || order[0] != "solo" {
		t.Fatalf("order = %v, want [solo]", order)
	}
}
