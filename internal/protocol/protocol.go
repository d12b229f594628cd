// Package protocol is the message catalog of spec §6: the concrete
// request/response payload shapes carried in a message.Envelope's
// Data field, tagged by Envelope.Type.
package protocol

const (
	TypeRunTaskRequest             = "RunTaskRequest"
	TypeExecuteFunctionRequest     = "ExecuteFunctionRequest"
	TypeStartWorkerInstanceRequest = "StartWorkerInstanceRequest"
	TypeStopWorkerInstanceRequest  = "StopWorkerInstanceRequest"
	TypeTerminateRequest           = "TerminateRequest"
	TypeHelloRequest               = "HelloRequest"

	TypeResponse             = "Response"
	TypeErrorResponse        = "ErrorResponse"
	TypeExceptionResponse    = "ExceptionResponse"
	TypeWorkerFailedResponse = "WorkerFailedResponse"
)

// RunTaskRequest instructs a child to execute the given task (spec §6).
type RunTaskRequest struct {
	TaskData []byte `msgpack:"task_data"`
}

// ExecuteFunctionRequest is the child→parent callback asking the
// parent to invoke a named method on the originating Task (spec §4.5,
// §9).
type ExecuteFunctionRequest struct {
	RequestID uint64 `msgpack:"request_id"`
	Name      string `msgpack:"name"`
	Args      []byte `msgpack:"args"`
}

// StartWorkerInstanceRequest/StopWorkerInstanceRequest are Proxy
// control messages (spec §4.7).
type StartWorkerInstanceRequest struct {
	InstanceID string `msgpack:"instance_id"`
	Descriptor []byte `msgpack:"descriptor"`
}

type StopWorkerInstanceRequest struct {
	InstanceID string `msgpack:"instance_id"`
}

// TerminateRequest shuts down the receiving endpoint's event loop
// (spec §6).
type TerminateRequest struct{}

// HelloRequest is the child's handshake announcement observed by
// Instance.Start (spec §4.5).
type HelloRequest struct {
	InstanceID string `msgpack:"instance_id"`
}

// Response carries a successful result (spec §6).
type Response struct {
	Data []byte `msgpack:"data"`
}

// ErrorResponse is returned for protocol-level errors: unknown
// request types, or a task's own reported failure.
type ErrorResponse struct {
	Msg string `msgpack:"msg"`
}

// ExceptionResponse wraps a handler panic/error (spec §4.3).
type ExceptionResponse struct {
	RequestID uint64 `msgpack:"request_id"`
	Error     string `msgpack:"error"`
}

// WorkerFailedResponse is synthesized locally (never sent over the
// wire by a child) when a transport or spawn error fails an in-flight
// request (spec §3, §7).
type WorkerFailedResponse struct {
	Reason string `msgpack:"reason"`
}
