// Package instance implements the per-worker state machine of spec
// §4.5: WorkerInstance owns the child-end socket, runs exactly one
// task at a time, and answers ExecuteFunctionRequest callbacks from
// the child while a task is in flight.
package instance

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavog/taskmaster/internal/message"
	"github.com/pavog/taskmaster/internal/mux"
	"github.com/pavog/taskmaster/internal/protocol"
	"github.com/pavog/taskmaster/internal/socket"
	"github.com/pavog/taskmaster/internal/status"
	"github.com/pavog/taskmaster/internal/task"
)

// DefaultHandshakeTimeout bounds how long Start waits for the child's
// hello before declaring the instance Failed.
const DefaultHandshakeTimeout = 10 * time.Second

// Instance is the concrete state machine behind spec's WorkerInstance.
//
//	STARTING --start ok--> IDLE --assign--> WORKING --response--> IDLE
//	   |                                      |
//	   +--start fail--> FAILED                +--socket error--> FAILED
type Instance struct {
	id     string
	sock   socket.Framed
	mux    *mux.Mux
	idGen  message.IDGenerator
	pend   *message.PendingTable
	logger *slog.Logger

	mu               sync.Mutex
	st               status.Status
	currentTask      task.Task
	currentRequestID uint64
	startPromise     *message.Promise
	startDeadline    time.Time
}

// New constructs an Instance bound to sock, which the caller (a
// spawn.ChildSpawner result) has already connected. Status begins
// Starting; call Start to begin the handshake wait.
func New(id string, sock socket.Framed, logger *slog.Logger) *Instance {
	if logger == nil {
		logger = slog.Default()
	}
	in := &Instance{
		id:     id,
		sock:   sock,
		mux:    mux.New(),
		pend:   message.NewPendingTable(),
		logger: logger,
		st:     status.Starting,
	}
	in.init()
	return in
}

// init registers the handlers an Instance answers regardless of
// state: the child's hello handshake and its ExecuteFunctionRequest
// callbacks (spec §4.5).
func (in *Instance) init() {
	in.mux.Handle(protocol.TypeHelloRequest, in.handleHello)
	in.mux.Handle(protocol.TypeExecuteFunctionRequest, in.handleExecuteFunction)
}

// ID returns the instance's stable identifier.
func (in *Instance) ID() string { return in.id }

// SelectableReadHandle exposes the underlying transport's readiness
// handle, for the orchestrator's poll set (spec §5).
func (in *Instance) SelectableReadHandle() (int, bool) {
	in.mu.Lock()
	sock := in.sock
	in.mu.Unlock()
	if sock == nil {
		return 0, false
	}
	return sock.SelectableReadHandle()
}

// Status returns the current lifecycle state.
func (in *Instance) Status() status.Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.st
}

// Start begins (non-blocking) waiting for the child's handshake.
// Returns a Promise resolved once the hello is observed, or rejected
// on timeout; Update must be called repeatedly to drive it forward.
func (in *Instance) Start(handshakeTimeout time.Duration) *message.Promise {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	p := message.NewPromise()
	in.mu.Lock()
	in.st = status.Starting
	in.startPromise = p
	in.startDeadline = time.Now().Add(handshakeTimeout)
	in.mu.Unlock()
	return p
}

// FailStart immediately fails a start attempt that never produced a
// socket (a spawn error, spec §4.5 "start fail -> FAILED").
func (in *Instance) FailStart(err error) {
	in.HandleFail(err)
}

// RunTask assigns t to this instance. Precondition: Status() == Idle.
func (in *Instance) RunTask(t task.Task) (*message.Promise, error) {
	in.mu.Lock()
	if in.st != status.Idle {
		st := in.st
		in.mu.Unlock()
		return nil, fmt.Errorf("instance: runTask precondition violated, status=%s", st)
	}
	data, err := t.Encode()
	if err != nil {
		in.mu.Unlock()
		return nil, fmt.Errorf("instance: encode task: %w", err)
	}
	reqID := in.idGen.Next()
	in.st = status.Working
	in.currentTask = t
	in.currentRequestID = reqID
	sock := in.sock
	in.mu.Unlock()

	p := message.NewPromise()
	in.pend.Register(reqID, p)
	p.Then(func(v any) { in.onTaskSettled(t, v) })

	payload, err := message.EncodePayload(protocol.RunTaskRequest{TaskData: data})
	if err != nil {
		in.HandleFail(fmt.Errorf("instance: encode run task payload: %w", err))
		return p, nil
	}
	env := message.Envelope{ID: reqID, Kind: message.KindRequest, Type: protocol.TypeRunTaskRequest, Data: payload}
	encoded, err := message.Encode(env)
	if err != nil {
		in.HandleFail(fmt.Errorf("instance: encode run task request: %w", err))
		return p, nil
	}
	if !sock.Send(encoded) {
		in.HandleFail(errors.New("instance: send failed"))
	}
	return p, nil
}

// Update pumps I/O: it drains available frames, dispatches requests,
// resolves responses (flushing their continuations), and detects
// handshake timeout / socket death. Must be called from the
// orchestrator's update loop, never reentrantly.
func (in *Instance) Update() {
	in.mu.Lock()
	sock := in.sock
	st := in.st
	in.mu.Unlock()

	if st == status.Failed || st == status.Finished {
		return
	}
	if sock == nil || !sock.IsOpen() {
		in.HandleFail(errors.New("instance: socket closed"))
		return
	}

	for _, raw := range sock.Receive() {
		env, err := message.Decode(raw)
		if err != nil {
			in.logger.Warn("instance: frame decode failed", "instance_id", in.id, "error", err)
			continue
		}
		in.handleEnvelope(env)
	}

	in.mu.Lock()
	timedOut := in.st == status.Starting && in.startPromise != nil && time.Now().After(in.startDeadline)
	in.mu.Unlock()
	if timedOut {
		in.HandleFail(errors.New("instance: handshake timeout"))
		return
	}

	if !sock.IsOpen() {
		in.HandleFail(errors.New("instance: socket closed"))
	}
}

func (in *Instance) handleEnvelope(env message.Envelope) {
	switch env.Kind {
	case message.KindRequest:
		resp := in.mux.Dispatch(env)
		resp.ID = in.idGen.Next()
		encoded, err := message.Encode(resp)
		if err != nil {
			in.logger.Error("instance: encode response failed", "instance_id", in.id, "error", err)
			return
		}
		in.mu.Lock()
		sock := in.sock
		in.mu.Unlock()
		if sock != nil && !sock.Send(encoded) {
			in.HandleFail(errors.New("instance: send response failed"))
		}
	case message.KindResponse:
		p, ok := in.pend.Resolve(env.CorrelationID, env)
		if !ok {
			in.logger.Warn("instance: orphan response dropped", "instance_id", in.id, "correlation_id", env.CorrelationID)
			return
		}
		p.Flush()
	}
}

// handleHello answers the child's handshake request and resolves the
// Start promise.
func (in *Instance) handleHello(req message.Envelope) (string, []byte, error) {
	var hello protocol.HelloRequest
	_ = message.DecodePayload(req.Data, &hello)

	in.mu.Lock()
	var p *message.Promise
	if in.st == status.Starting {
		in.st = status.Idle
		p = in.startPromise
		in.startPromise = nil
	}
	in.mu.Unlock()

	if p != nil {
		_ = p.Resolve(hello)
		p.Flush()
	}

	data, _ := message.EncodePayload(protocol.Response{})
	return protocol.TypeResponse, data, nil
}

// handleExecuteFunction dispatches a child→parent callback to the
// currently running Task (spec §4.5, §9).
func (in *Instance) handleExecuteFunction(req message.Envelope) (string, []byte, error) {
	var call protocol.ExecuteFunctionRequest
	if err := message.DecodePayload(req.Data, &call); err != nil {
		return "", nil, fmt.Errorf("decode ExecuteFunctionRequest: %w", err)
	}

	in.mu.Lock()
	t := in.currentTask
	st := in.st
	in.mu.Unlock()

	if st != status.Working || t == nil {
		data, _ := message.EncodePayload(protocol.ErrorResponse{Msg: "no task in flight"})
		return protocol.TypeErrorResponse, data, nil
	}

	callable, ok := t.(task.CallableTask)
	if !ok {
		data, _ := message.EncodePayload(protocol.ErrorResponse{Msg: "task accepts no callbacks"})
		return protocol.TypeErrorResponse, data, nil
	}
	fn, ok := callable.Callbacks()[call.Name]
	if !ok {
		data, _ := message.EncodePayload(protocol.ErrorResponse{Msg: fmt.Sprintf("unknown callback %q", call.Name)})
		return protocol.TypeErrorResponse, data, nil
	}

	result, err := fn(call.Args)
	if err != nil {
		return "", nil, err
	}
	data, _ := message.EncodePayload(protocol.Response{Data: result})
	return protocol.TypeResponse, data, nil
}

// onTaskSettled runs (via Promise.Flush, never reentrantly inside
// Resolve) once the RunTaskRequest's response arrives, whether a real
// wire Response/ErrorResponse/ExceptionResponse or a synthetic
// WorkerFailedResponse from HandleFail.
func (in *Instance) onTaskSettled(t task.Task, v any) {
	in.finishTask()

	env, ok := v.(message.Envelope)
	if !ok {
		t.HandleError(&task.Error{Message: "instance: malformed settlement value"})
		return
	}

	switch env.Type {
	case protocol.TypeResponse:
		var r protocol.Response
		_ = message.DecodePayload(env.Data, &r)
		t.HandleResult(r.Data)
	case protocol.TypeErrorResponse:
		var r protocol.ErrorResponse
		_ = message.DecodePayload(env.Data, &r)
		t.HandleError(&task.Error{Message: r.Msg})
	case protocol.TypeExceptionResponse:
		var r protocol.ExceptionResponse
		_ = message.DecodePayload(env.Data, &r)
		t.HandleError(&task.Error{Message: r.Error})
	case protocol.TypeWorkerFailedResponse:
		var r protocol.WorkerFailedResponse
		_ = message.DecodePayload(env.Data, &r)
		t.HandleError(&task.Error{Message: "worker failed", Reason: r.Reason})
	default:
		t.HandleError(&task.Error{Message: fmt.Sprintf("instance: unexpected response type %q", env.Type)})
	}
}

func (in *Instance) finishTask() {
	in.mu.Lock()
	if in.st == status.Working {
		in.st = status.Idle
	}
	in.currentTask = nil
	in.currentRequestID = 0
	in.mu.Unlock()
}

// HandleFail is idempotent: it sets status=Failed, rejects a pending
// Start promise with reason, resolves the in-flight RunTask promise
// with a synthetic WorkerFailedResponse carrying reason, rejects any
// other pending request, and clears currentTask (spec §4.5). It does not restart the instance; the enclosing Worker
// decides that.
func (in *Instance) HandleFail(reason error) {
	in.mu.Lock()
	if in.st == status.Failed || in.st == status.Finished {
		in.mu.Unlock()
		return
	}
	in.st = status.Failed
	reqID := in.currentRequestID
	t := in.currentTask
	in.currentTask = nil
	in.currentRequestID = 0
	startP := in.startPromise
	in.startPromise = nil
	sock := in.sock
	in.mu.Unlock()

	in.logger.Warn("instance: failed", "instance_id", in.id, "reason", reason)

	if startP != nil {
		_ = startP.Reject(reason)
		startP.Flush()
	}

	if t != nil && reqID != 0 {
		data, _ := message.EncodePayload(protocol.WorkerFailedResponse{Reason: reason.Error()})
		env := message.Envelope{CorrelationID: reqID, Kind: message.KindResponse, Type: protocol.TypeWorkerFailedResponse, Data: data}
		if p, ok := in.pend.Resolve(reqID, env); ok {
			p.Flush()
		}
	}

	for _, p := range in.pend.FailAll(reason) {
		p.Flush()
	}

	if sock != nil {
		_ = sock.Close()
	}
}

// Stop sends a terminate request, closes the socket, and transitions
// to Finished (spec §4.5).
func (in *Instance) Stop() error {
	in.mu.Lock()
	if in.st == status.Finished {
		in.mu.Unlock()
		return nil
	}
	sock := in.sock
	reqID := in.idGen.Next()
	in.mu.Unlock()

	if sock != nil {
		payload, _ := message.EncodePayload(protocol.TerminateRequest{})
		env := message.Envelope{ID: reqID, Kind: message.KindRequest, Type: protocol.TypeTerminateRequest, Data: payload}
		if encoded, err := message.Encode(env); err == nil {
			sock.Send(encoded)
		}
		_ = sock.Close()
	}

	in.mu.Lock()
	in.st = status.Finished
	in.mu.Unlock()
	return nil
}
