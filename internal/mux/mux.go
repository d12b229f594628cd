// Package mux implements the per-endpoint request handler
// registration and dispatch described in spec §4.3.
package mux

import (
	"fmt"
	"sync"

	"github.com/pavog/taskmaster/internal/message"
	"github.com/pavog/taskmaster/internal/protocol"
)

// HandlerFunc handles one incoming Request and returns the response
// type tag and payload to send back. Handlers are synchronous with
// respect to the I/O pump: they must not block (spec §4.3).
type HandlerFunc func(req message.Envelope) (respType string, respData []byte, err error)

// Mux maps a message type tag to the handler that answers it.
type Mux struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
}

// New returns an empty Mux.
func New() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers (or replaces) the handler for msgType.
func (m *Mux) Handle(msgType string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[msgType] = h
}

// Dispatch invokes the handler registered for req.Type and builds the
// Response envelope to send back. Unknown types produce an
// ErrorResponse; a handler error or panic produces an
// ExceptionResponse (spec §4.3).
func (m *Mux) Dispatch(req message.Envelope) message.Envelope {
	m.mu.Lock()
	h, ok := m.handlers[req.Type]
	m.mu.Unlock()

	if !ok {
		payload, _ := message.EncodePayload(protocol.ErrorResponse{
			Msg: fmt.Sprintf("unknown request type %q", req.Type),
		})
		return message.Envelope{
			Kind:          message.KindResponse,
			CorrelationID: req.ID,
			Type:          protocol.TypeErrorResponse,
			Data:          payload,
		}
	}

	typ, data, err := m.invoke(h, req)
	if err != nil {
		payload, _ := message.EncodePayload(protocol.ExceptionResponse{
			RequestID: req.ID,
			Error:     err.Error(),
		})
		return message.Envelope{
			Kind:          message.KindResponse,
			CorrelationID: req.ID,
			Type:          protocol.TypeExceptionResponse,
			Data:          payload,
		}
	}

	return message.Envelope{
		Kind:          message.KindResponse,
		CorrelationID: req.ID,
		Type:          typ,
		Data:          data,
	}
}

// invoke calls h, converting a panic into an error so it can be
// reported as an ExceptionResponse rather than crashing the pump.
func (m *Mux) invoke(h HandlerFunc, req message.Envelope) (typ string, data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(req)
}
