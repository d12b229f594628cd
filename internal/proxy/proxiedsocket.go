package proxy

import "sync"

// ProxiedSocket adapts a shared ProxySocket plus a fixed logical id
// back into the socket.Framed shape, so Instance can drive a tunneled
// worker exactly like a directly-spawned one (spec §4.4/§4.7).
type ProxiedSocket struct {
	ps *ProxySocket
	id string

	mu     sync.Mutex
	closed bool
}

// NewProxiedSocket returns a Framed bound to id over ps.
func NewProxiedSocket(ps *ProxySocket, id string) *ProxiedSocket {
	return &ProxiedSocket{ps: ps, id: id}
}

func (s *ProxiedSocket) Send(payload []byte) bool {
	if !s.IsOpen() {
		return false
	}
	id := s.id
	return s.ps.SendProxyMessage(&id, payload)
}

func (s *ProxiedSocket) Receive() [][]byte {
	if !s.IsOpen() {
		return nil
	}
	id := s.id
	raws, err := s.ps.ReceiveRawProxyMessages(&id)
	if err != nil {
		// A watermark breach is a fatal proxy-wide condition; this
		// logical channel can no longer trust its backlog.
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	return raws
}

// Close marks this logical channel closed without tearing down the
// shared physical transport; other instances tunneled through the
// same proxy are unaffected.
func (s *ProxiedSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *ProxiedSocket) IsOpen() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return !closed && s.ps.IsOpen()
}

// SelectableReadHandle always reports not-selectable: readiness for
// tunneled instances is driven by the owning Proxy's own selectable
// handle, polled once on behalf of every instance it carries.
func (s *ProxiedSocket) SelectableReadHandle() (int, bool) { return 0, false }
