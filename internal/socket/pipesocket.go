package socket

import (
	"bytes"
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// PipeSocket is a Framed transport over a raw OS file descriptor (a
// pipe or unix-domain socket end handed to us by a child-process
// spawner). The fd is switched to non-blocking mode on construction;
// reads and writes never block the caller, matching spec §4.1's "the
// underlying OS handle is placed in non-blocking mode".
//
// Grounded on the stdin/stdout length-prefix framing in
// person_detector_python.go's sendFrame/readResults, reworked here to
// talk directly to the fd (via golang.org/x/sys/unix) instead of
// blocking io.Writer/io.Reader pipes, so the orchestrator can poll
// many of these without one goroutine per socket.
type PipeSocket struct {
	mu sync.Mutex

	fd     int
	closed bool

	readBuf  bytes.Buffer // raw bytes not yet decoded into whole frames
	writeBuf bytes.Buffer // encoded bytes not yet fully written
}

// NewPipeSocket wraps fd, putting it into non-blocking mode. The
// caller retains ownership of fd's lifecycle beyond Close (spec §5:
// "file descriptors are owned exclusively by the endpoint that opened
// them").
func NewPipeSocket(fd int) (*PipeSocket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &PipeSocket{fd: fd}, nil
}

// Send encodes payload as one length-prefixed frame and attempts to
// write it immediately; anything that doesn't fit is buffered and
// drained on a later Send or Receive call (spec §4.1: "partial
// reads/writes are buffered internally").
func (s *PipeSocket) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	s.writeBuf.Write(header[:])
	s.writeBuf.Write(payload)

	s.drainWriteLocked()
	return !s.closed
}

// drainWriteLocked flushes as much of writeBuf as the fd accepts
// without blocking. Must be called with s.mu held.
func (s *PipeSocket) drainWriteLocked() {
	for s.writeBuf.Len() > 0 {
		n, err := unix.Write(s.fd, s.writeBuf.Bytes())
		if n > 0 {
			s.writeBuf.Next(n)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return // try again on the next pump
			}
			s.closed = true
			return
		}
		if n == 0 {
			return
		}
	}
}

// Receive reads everything currently available on the fd without
// blocking, extracts whole frames, and returns them; a partial
// trailing frame stays buffered.
func (s *PipeSocket) Receive() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	s.drainWriteLocked()

	buf := make([]byte, 64*1024)
	for {
		n, err := unix.Read(s.fd, buf)
		if n > 0 {
			s.readBuf.Write(buf[:n])
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				break
			}
			// Any other read error: treat as peer gone, fail silently
			// per spec §4.1.
			s.closed = true
			break
		}
		if n == 0 {
			// EOF: peer closed its end.
			s.closed = true
			break
		}
		if n < len(buf) {
			break
		}
	}

	return s.extractFramesLocked()
}

func (s *PipeSocket) extractFramesLocked() [][]byte {
	var frames [][]byte
	for {
		raw := s.readBuf.Bytes()
		if len(raw) < lengthPrefixSize {
			break
		}
		frameLen := binary.BigEndian.Uint32(raw[:lengthPrefixSize])
		if frameLen > maxFrameSize {
			s.closed = true
			break
		}
		total := lengthPrefixSize + int(frameLen)
		if len(raw) < total {
			break
		}
		frame := append([]byte(nil), raw[lengthPrefixSize:total]...)
		frames = append(frames, frame)
		s.readBuf.Next(total)
	}
	return frames
}

// Close closes the underlying fd. Idempotent.
func (s *PipeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

// IsOpen reports whether the peer is (as far as we know) still
// reachable.
func (s *PipeSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// SelectableReadHandle exposes the fd for the orchestrator's readiness
// poll.
func (s *PipeSocket) SelectableReadHandle() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	return s.fd, true
}
