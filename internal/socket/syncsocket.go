package socket

import "sync"

// SyncSocket is an in-memory, synchronous transport for a pair of
// endpoints in the same process. It satisfies Framed so "all workers
// are synchronous" callers (tests, and any caller without a real
// child process) can skip real I/O entirely, and it deliberately
// exposes no selectable handle: spec §4.1 reserves that for
// transports backed by real OS readiness notification.
type SyncSocket struct {
	mu     sync.Mutex
	peer   *SyncSocket
	inbox  [][]byte
	closed bool
}

// NewSyncSocketPair returns two SyncSockets wired to each other: a
// frame Sent on one is Received on the other.
func NewSyncSocketPair() (a, b *SyncSocket) {
	a = &SyncSocket{}
	b = &SyncSocket{}
	a.peer, b.peer = b, a
	return a, b
}

// Send delivers payload to the peer's inbox.
func (s *SyncSocket) Send(payload []byte) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}

	peer := s.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return false
	}
	frame := append([]byte(nil), payload...)
	peer.inbox = append(peer.inbox, frame)
	return true
}

// Receive drains every frame delivered so far. Once the peer has
// closed and nothing is left buffered, it fails silently and returns
// an empty sequence (spec §4.1), matching PipeSocket's EOF handling.
func (s *SyncSocket) Receive() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbox) == 0 {
		return nil
	}
	out := s.inbox
	s.inbox = nil
	return out
}

// Close marks the socket closed. Idempotent.
func (s *SyncSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// IsOpen reports whether this endpoint is open AND its peer hasn't
// closed either (spec §4.1: "isOpen then returns false" once the peer
// has closed), mirroring PipeSocket's EOF-based peer-close detection.
func (s *SyncSocket) IsOpen() bool {
	s.mu.Lock()
	closed := s.closed
	peer := s.peer
	s.mu.Unlock()
	if closed {
		return false
	}
	if peer == nil {
		return true
	}
	peer.mu.Lock()
	peerClosed := peer.closed
	peer.mu.Unlock()
	return !peerClosed
}

// SelectableReadHandle always returns (0, false): SyncSocket carries
// no OS-level readiness notification.
func (s *SyncSocket) SelectableReadHandle() (int, bool) {
	return 0, false
}
