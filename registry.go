// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// DefaultCallbackQueueSize is the default number of feedback events buffered
// per subscription before new events are dropped
const DefaultCallbackQueueSize = 1024

// SubscriptionID identifies a local feedback subscription within a session
type SubscriptionID uint64

// Event is a feedback event delivered to a subscription's handler
type Event struct {
	// SubscriptionID of the receiving subscription
	SubscriptionID SubscriptionID

	// Path is the concrete path of the changed node
	Path Path

	// Value is the value at Path
	Value Value

	// Payload is the full notification document without the remote id
	Payload Value

	// RemoteID is the device's subscription id (0 for synthetic events)
	RemoteID int64

	// Synthetic is set for the current-value event produced on subscribe
	Synthetic bool
}

// Handler receives feedback events.
//
// Events of one subscription are delivered sequentially in arrival order on
// a goroutine owned by that subscription. A slow handler delays only its own
// subscription. Returned errors and panics are logged as *CallbackError.
type Handler interface {
	HandleFeedback(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, ev Event) error

// HandleFeedback calls f(ctx, ev)
func (f HandlerFunc) HandleFeedback(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// subscription is one registry entry
type subscription struct {
	id      SubscriptionID
	pattern Pattern
	handler Handler
	mbox    *mailbox

	// guarded by registry.mu
	remoteID int64
	bound    bool
}

// registry maps patterns to handlers and routes feedback events to them
type registry struct {
	mu     sync.RWMutex
	nextID SubscriptionID
	subs   []*subscription

	// remote ids of removed subscriptions; late events for them are dropped
	retired map[int64]struct{}

	ctx       context.Context
	queueSize int
	logger    Logger
	sessionID string
}

func newRegistry(ctx context.Context, queueSize int, logger Logger, sessionID string) *registry {
	if queueSize <= 0 {
		queueSize = DefaultCallbackQueueSize
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &registry{
		retired:   make(map[int64]struct{}),
		ctx:       ctx,
		queueSize: queueSize,
		logger:    logger,
		sessionID: sessionID,
	}
}

// add stores a new subscription in insertion order and starts its mailbox.
// A held mailbox queues events until release is called.
func (r *registry) add(pattern Pattern, handler Handler, hold bool) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub := &subscription{
		id:      r.nextID,
		pattern: append(Pattern(nil), pattern...),
		handler: handler,
	}
	sub.mbox = newMailbox(r.queueSize, hold)
	r.subs = append(r.subs, sub)
	go r.drain(sub)
	return sub
}

// bind records the device's subscription id for a local subscription. It
// returns false when the subscription is gone.
func (r *registry) bind(id SubscriptionID, remoteID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.id == id {
			delete(r.retired, remoteID)
			sub.remoteID = remoteID
			sub.bound = true
			return true
		}
	}
	return false
}

// retire drops later events carrying remoteID
func (r *registry) retire(remoteID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired[remoteID] = struct{}{}
}

// forget clears a retired remote id once the device stopped pushing it
func (r *registry) forget(remoteID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retired, remoteID)
}

// retiredCount returns the number of retired remote ids
func (r *registry) retiredCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.retired)
}

// lookup returns the subscription and its remote id binding
func (r *registry) lookup(id SubscriptionID) (sub *subscription, remoteID int64, bound bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		if s.id == id {
			return s, s.remoteID, s.bound
		}
	}
	return nil, 0, false
}

// remove deletes a subscription and stops its mailbox. Unknown ids are a
// no-op returning false.
func (r *registry) remove(id SubscriptionID) (*subscription, bool) {
	r.mu.Lock()
	var removed *subscription
	for i, sub := range r.subs {
		if sub.id == id {
			removed = sub
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			if sub.bound {
				r.retired[sub.remoteID] = struct{}{}
			}
			break
		}
	}
	r.mu.Unlock()
	if removed == nil {
		return nil, false
	}
	removed.mbox.close()
	return removed, true
}

// dispatch hands the event to every candidate subscription whose pattern
// matches path, in insertion order, and returns the number of deliveries.
//
// When the remote id is bound to local subscriptions, only those are
// candidates and they receive the event regardless of the derived path,
// since the device already filtered it by their query.
func (r *registry) dispatch(fb feedback) int {
	r.mu.RLock()
	var targets []*subscription
	if fb.hasRemoteID {
		if _, gone := r.retired[fb.remoteID]; gone {
			r.mu.RUnlock()
			return 0
		}
		for _, sub := range r.subs {
			if sub.bound && sub.remoteID == fb.remoteID {
				targets = append(targets, sub)
			}
		}
	}
	if len(targets) == 0 {
		for _, sub := range r.subs {
			if sub.pattern.Match(fb.path) {
				targets = append(targets, sub)
			}
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		ev := Event{
			SubscriptionID: sub.id,
			Path:           fb.path,
			Value:          fb.value,
			Payload:        fb.payload,
			RemoteID:       fb.remoteID,
		}
		if sub.mbox.push(ev) {
			delivered++
			continue
		}
		r.logger.Warn(r.ctx, "Feedback queue full, event dropped",
			"session", r.sessionID,
			"subscription", sub.id,
			"path", fb.path.String(),
			"queue_size", r.queueSize)
	}
	return delivered
}

// ids returns the active subscription ids in insertion order
func (r *registry) ids() []SubscriptionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SubscriptionID, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub.id)
	}
	return out
}

// closeAll removes every subscription
func (r *registry) closeAll() int {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, sub := range subs {
		sub.mbox.close()
	}
	return len(subs)
}

// drain runs the handler for each event of one subscription
func (r *registry) drain(sub *subscription) {
	for ev := range sub.mbox.ch {
		if sub.mbox.isClosed() {
			continue
		}
		if err := r.invoke(sub, ev); err != nil {
			r.logger.Error(r.ctx, "Feedback handler failed",
				"session", r.sessionID,
				"subscription", sub.id,
				"path", ev.Path.String(),
				"error", err.Error())
		}
	}
}

// invoke runs one handler call, converting errors and panics
func (r *registry) invoke(sub *subscription, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug(r.ctx, "Feedback handler panic stack",
				"subscription", sub.id,
				"stack", string(debug.Stack()))
			err = &CallbackError{
				SubscriptionID: sub.id,
				Err:            fmt.Errorf("%v", rec),
				Panicked:       true,
			}
		}
	}()
	if herr := sub.handler.HandleFeedback(r.ctx, ev); herr != nil {
		var cbErr *CallbackError
		if errors.As(herr, &cbErr) {
			return herr
		}
		return &CallbackError{SubscriptionID: sub.id, Err: herr}
	}
	return nil
}

// mailbox is a bounded per-subscription event queue.
//
// push never blocks. A held mailbox keeps events in a backlog until release,
// which can put a synthetic event in front of them.
type mailbox struct {
	mu      sync.Mutex
	ch      chan Event
	held    bool
	backlog []Event
	closed  bool
}

func newMailbox(size int, held bool) *mailbox {
	return &mailbox{ch: make(chan Event, size), held: held}
}

// push enqueues ev and reports false when it was dropped
func (m *mailbox) push(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.held {
		// one slot stays free for the event placed first on release
		if len(m.backlog) >= cap(m.ch)-1 {
			return false
		}
		m.backlog = append(m.backlog, ev)
		return true
	}
	select {
	case m.ch <- ev:
		return true
	default:
		return false
	}
}

// release stops holding and enqueues first (if non-nil) ahead of the
// backlog. The held backlog leaves room for first, so nothing is dropped.
func (m *mailbox) release(first *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.held {
		return
	}
	m.held = false
	queue := m.backlog
	m.backlog = nil
	if first != nil {
		queue = append([]Event{*first}, queue...)
	}
	for _, ev := range queue {
		m.ch <- ev
	}
}

// close stops delivery; queued events are discarded
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.backlog = nil
	close(m.ch)
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
