// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"context"
	"sync"
)

// CallState is the state of a call's result slot
type CallState int

const (
	// CallPending is waiting for a response
	CallPending CallState = iota

	// CallFulfilled holds a result value
	CallFulfilled

	// CallFailed holds an error
	CallFailed
)

// String returns the name of the state
func (s CallState) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallFulfilled:
		return "fulfilled"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Future is the result slot of one outstanding call.
//
// The slot transitions at most once from CallPending to CallFulfilled or
// CallFailed. Done is closed on that transition.
type Future struct {
	id     uint64
	method string
	table  *pendingCalls

	// onResult runs on the receive loop before waiters are woken
	onResult func(Value, error)

	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	state CallState
	value Value
	err   error
}

// ID returns the correlation id of the call
func (f *Future) ID() uint64 { return f.id }

// Method returns the method of the call
func (f *Future) Method() string { return f.method }

// Done is closed once the call has a result
func (f *Future) Done() <-chan struct{} { return f.done }

// State returns the current state of the slot
func (f *Future) State() CallState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the terminal value and error. It is only meaningful after
// Done is closed.
func (f *Future) Result() (Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Wait blocks until the call resolves or ctx ends.
//
// If ctx ends first, the call is removed from the correlation table and the
// slot fails with ctx.Err(); a response arriving later is discarded, except
// that the call's onResult callback still sees it.
func (f *Future) Wait(ctx context.Context) (Value, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		if f.table != nil {
			f.table.abandon(f.id)
		}
		f.complete(Value{}, ctx.Err())
		// A response may have won the race
		return f.Result()
	}
}

// complete moves the slot to its terminal state; later calls are ignored
func (f *Future) complete(value Value, err error) bool {
	completed := false
	f.once.Do(func() {
		f.mu.Lock()
		if err != nil {
			f.state = CallFailed
			f.err = err
		} else {
			f.state = CallFulfilled
			f.value = value
		}
		f.mu.Unlock()
		completed = true
		close(f.done)
	})
	return completed
}

// pendingCalls is the correlation table mapping ids of outstanding calls to
// their result slots
type pendingCalls struct {
	mu       sync.Mutex
	nextID   uint64
	calls    map[uint64]*Future
	closed   bool
	closeErr error

	// abandoned calls whose onResult still runs on a late response
	late map[uint64]*Future
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{
		calls: make(map[uint64]*Future),
		late:  make(map[uint64]*Future),
	}
}

// register allocates a fresh id and a pending slot. Ids start at 1 and are
// never reused for the lifetime of the table.
func (t *pendingCalls) register(method string, onResult func(Value, error)) (*Future, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, t.closeErr
	}
	t.nextID++
	f := &Future{
		id:       t.nextID,
		method:   method,
		table:    t,
		onResult: onResult,
		done:     make(chan struct{}),
	}
	t.calls[f.id] = f
	return f, nil
}

// resolve completes the call with the given id. Unknown ids (late,
// duplicate or cancelled) are discarded and resolve returns false. A late
// response to an abandoned call with onResult runs that callback only.
func (t *pendingCalls) resolve(id uint64, value Value, err error) bool {
	t.mu.Lock()
	f, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	late, isLate := t.late[id]
	if isLate {
		delete(t.late, id)
	}
	t.mu.Unlock()
	if isLate {
		late.onResult(value, err)
		return false
	}
	if !ok {
		return false
	}
	if pe, isProto := err.(*ProtocolError); isProto && pe.Method == "" {
		pe.Method = f.method
	}
	if f.onResult != nil {
		f.onResult(value, err)
	}
	return f.complete(value, err)
}

// remove drops an outstanding call without completing it
func (t *pendingCalls) remove(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[id]; !ok {
		return false
	}
	delete(t.calls, id)
	return true
}

// abandon drops a call whose waiter gave up. A call with onResult is kept
// aside until its response arrives or the table closes.
func (t *pendingCalls) abandon(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.calls[id]
	if !ok {
		return
	}
	delete(t.calls, id)
	if f.onResult != nil && !t.closed {
		t.late[id] = f
	}
}

// failAll fails every outstanding call with err and rejects later
// registrations with the same error. Only the first call has an effect.
func (t *pendingCalls) failAll(err error) int {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	t.closed = true
	t.closeErr = err
	calls := t.calls
	t.calls = make(map[uint64]*Future)
	t.late = make(map[uint64]*Future)
	t.mu.Unlock()

	for _, f := range calls {
		f.complete(Value{}, err)
	}
	return len(calls)
}

// len returns the number of outstanding calls
func (t *pendingCalls) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
