package message

import (
	"errors"
	"sync"
)

// ErrAlreadySettled is returned by Resolve/Reject calls that observe
// a Promise no longer in the pending state. It is informational: per
// spec, a second resolve is a silent no-op for callers that don't
// check the error.
var ErrAlreadySettled = errors.New("message: promise already settled")

type promiseState int

const (
	statePending promiseState = iota
	stateResolved
	stateRejected
)

// Promise is a single-fire cell with states {pending, resolved(value),
// rejected(error)}. Continuations registered via Then/Catch never run
// inside Resolve/Reject; they are queued and only run when Flush is
// called, which callers do from their own I/O pump (spec §4.2, §5).
type Promise struct {
	mu    sync.Mutex
	state promiseState
	value any
	err   error

	// pending holds thunks awaiting the next Flush: either callbacks
	// registered before settlement (queued at settle time) or
	// callbacks registered after settlement (queued immediately,
	// still not invoked until Flush).
	pending []func()

	onResolve []func(any)
	onReject  []func(error)
}

// NewPromise returns a pending Promise.
func NewPromise() *Promise {
	return &Promise{}
}

// Resolve settles the promise with value, unless already settled.
func (p *Promise) Resolve(value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != statePending {
		return ErrAlreadySettled
	}
	p.state = stateResolved
	p.value = value
	for _, cb := range p.onResolve {
		cb := cb
		p.pending = append(p.pending, func() { cb(value) })
	}
	p.onResolve, p.onReject = nil, nil
	return nil
}

// Reject settles the promise with err, unless already settled.
func (p *Promise) Reject(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != statePending {
		return ErrAlreadySettled
	}
	p.state = stateRejected
	p.err = err
	for _, cb := range p.onReject {
		cb := cb
		p.pending = append(p.pending, func() { cb(err) })
	}
	p.onResolve, p.onReject = nil, nil
	return nil
}

// Then registers a callback to run (on the next Flush) when the
// promise resolves. Callbacks fire at most once, in registration
// order.
func (p *Promise) Then(cb func(value any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case statePending:
		p.onResolve = append(p.onResolve, cb)
	case stateResolved:
		value := p.value
		p.pending = append(p.pending, func() { cb(value) })
	}
}

// Catch registers a callback to run (on the next Flush) when the
// promise rejects.
func (p *Promise) Catch(cb func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case statePending:
		p.onReject = append(p.onReject, cb)
	case stateRejected:
		err := p.err
		p.pending = append(p.pending, func() { cb(err) })
	}
}

// Flush invokes and clears any queued continuations. Safe to call
// repeatedly; a no-op when nothing is queued. Must be called from the
// pump loop that observed the settlement, never from inside
// Resolve/Reject.
func (p *Promise) Flush() {
	p.mu.Lock()
	thunks := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, t := range thunks {
		t()
	}
}

// Settled reports whether the promise has resolved or rejected.
func (p *Promise) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != statePending
}

// PendingTable correlates outgoing Requests with the ResponsePromise
// awaiting their Response, keyed by request id (spec §4.2).
type PendingTable struct {
	mu      sync.Mutex
	entries map[uint64]*Promise
}

// NewPendingTable returns an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[uint64]*Promise)}
}

// Register records a pending request id and its promise.
func (t *PendingTable) Register(id uint64, p *Promise) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = p
}

// Resolve looks up and removes the promise registered for id, then
// settles it with value. Reports false if id is unknown (an orphan
// response, per spec §7 dropped and logged by the caller).
func (t *PendingTable) Resolve(id uint64, value any) (*Promise, bool) {
	t.mu.Lock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	_ = p.Resolve(value)
	return p, true
}

// Reject looks up and removes the promise registered for id, then
// rejects it with err.
func (t *PendingTable) Reject(id uint64, err error) (*Promise, bool) {
	t.mu.Lock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	_ = p.Reject(err)
	return p, true
}

// FailAll rejects every still-pending promise with err and clears the
// table. Used when the underlying socket dies (spec §4.5 handleFail).
func (t *PendingTable) FailAll(err error) []*Promise {
	t.mu.Lock()
	all := make([]*Promise, 0, len(t.entries))
	for id, p := range t.entries {
		all = append(all, p)
		delete(t.entries, id)
	}
	t.mu.Unlock()
	for _, p := range all {
		_ = p.Reject(err)
	}
	return all
}

// Len returns the number of still-pending entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
