// Package socket implements the length-prefixed, non-blocking, frame
// transport the rest of taskmaster exchanges messages over (spec §4.1),
// plus the select-integrated wait primitive the orchestrator uses to
// multiplex many such transports (spec §5).
package socket

import "errors"

// ErrClosed is the sentinel for a socket that has observed the peer
// closing (or Close has been called locally). No Framed method returns
// it: Send reports that condition by returning false.
var ErrClosed = errors.New("socket: closed")

// lengthPrefixSize is the width of the wire frame's length field:
// u32 big-endian length || payload[length] (spec §6).
const lengthPrefixSize = 4

// maxFrameSize guards against a corrupt or hostile length prefix
// causing an unbounded allocation.
const maxFrameSize = 64 << 20 // 64MiB

// Framed is the non-blocking framed message transport spec §4.1
// describes. Receive never blocks: it drains whatever full frames are
// currently buffered and leaves a partial trailing frame buffered for
// next time.
type Framed interface {
	// Send encodes payload as one frame and writes (or buffers) it.
	// Returns false once the socket is known closed.
	Send(payload []byte) bool

	// Receive drains and returns every whole frame currently
	// available, without blocking. Returns nil (not an error) once
	// the peer has closed.
	Receive() [][]byte

	// Close releases the underlying transport. Idempotent.
	Close() error

	// IsOpen reports whether the socket still believes the peer is
	// reachable. Becomes false permanently after the peer closes or
	// Close is called.
	IsOpen() bool

	// SelectableReadHandle returns the OS file descriptor usable with
	// a readiness poll, and true, for sockets whose transport
	// supports it (pipes, unix sockets). Sync-only sockets return
	// (0, false).
	SelectableReadHandle() (fd int, ok bool)
}
