// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a Session.
// States only move forward: Connecting, Open, Closing, Closed.
type SessionState int32

const (
	// StateConnecting is the state until the handshake completes
	StateConnecting SessionState = iota

	// StateOpen accepts calls and dispatches feedback
	StateOpen

	// StateClosing rejects new calls while the session shuts down
	StateClosing

	// StateClosed is terminal
	StateClosed
)

// String returns the name of the state
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// SessionConfig configures a Session. The zero value is usable.
type SessionConfig struct {
	// Logger receives session logs (NoOpLogger if nil)
	Logger Logger

	// Hook observes every call (none if nil)
	Hook CallHook

	// OperationTimeout applies to calls whose context has no deadline and
	// that carry no Timeout modifier (DefaultOperationTimeout if zero)
	OperationTimeout time.Duration

	// CallbackQueueSize bounds each subscription's event queue
	// (DefaultCallbackQueueSize if zero)
	CallbackQueueSize int

	// FormatFrame renders frames for debug logs, e.g. with redaction.
	// Frames are not logged if nil.
	FormatFrame func(frame []byte) string
}

// Session owns one Channel to the device. It correlates responses with
// calls, routes feedback to subscriptions and implements the lifecycle.
//
// All methods are safe for concurrent use. A Session is never reconnected;
// once Closed, create a new one.
type Session struct {
	id     string
	ch     Channel
	logger Logger
	hook   CallHook
	cfg    SessionConfig

	// sendMu serializes writes to ch
	sendMu sync.Mutex

	calls *pendingCalls
	subs  *registry

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	closeOnce sync.Once
	closedMu  sync.Mutex
	closeErr  error
	markOnce  sync.Once
	done      chan struct{}
	loopDone  chan struct{}
}

// Connect dials a Channel and returns an open Session.
//
// Handshake failures are returned as *ConnectError; the session never
// reaches StateOpen in that case.
func Connect(ctx context.Context, dialer Dialer, cfg SessionConfig) (*Session, error) {
	if dialer == nil {
		return nil, fmt.Errorf("dialer cannot be nil")
	}
	s := newSession(cfg)
	s.logger.Debug(ctx, "Connecting xAPI session", "session", s.id)

	ch, err := dialer.Dial(ctx)
	if err != nil {
		s.state.Store(int32(StateClosed))
		s.markClosed()
		var cerr *ConnectError
		if !errors.As(err, &cerr) {
			err = &ConnectError{Failure: ConnectNetwork, Err: err}
		}
		s.logger.Debug(ctx, "xAPI session connect failed",
			"session", s.id,
			"error", err.Error())
		return nil, err
	}
	s.start(ch)
	s.logger.Info(ctx, "xAPI session opened", "session", s.id)
	return s, nil
}

// NewSession wraps an established Channel in an open Session
func NewSession(ch Channel, cfg SessionConfig) *Session {
	s := newSession(cfg)
	s.start(ch)
	return s
}

func newSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = &NoOpLogger{}
	}
	if cfg.Hook == nil {
		cfg.Hook = noopHook{}
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.CallbackQueueSize <= 0 {
		cfg.CallbackQueueSize = DefaultCallbackQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		logger:   cfg.Logger,
		hook:     cfg.Hook,
		cfg:      cfg,
		calls:    newPendingCalls(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	s.subs = newRegistry(ctx, cfg.CallbackQueueSize, cfg.Logger, s.id)
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) start(ch Channel) {
	s.ch = ch
	s.state.Store(int32(StateOpen))
	go s.receiveLoop()
}

// ID returns the session identifier used in log lines
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Pending returns the number of outstanding calls
func (s *Session) Pending() int { return s.calls.len() }

// Subscriptions returns the active subscription ids in registration order
func (s *Session) Subscriptions() []SubscriptionID { return s.subs.ids() }

// Done is closed when the session reaches StateClosed
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the closure error once Closed: nil after a clean closure,
// an error wrapping ErrConnectionClosed otherwise
func (s *Session) Err() error {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closeErr
}

// Wait blocks until the session is Closed or ctx ends.
//
// Returns nil after a clean closure (Close, or a normal close by the
// device) and an error wrapping ErrConnectionClosed when the channel failed.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoke sends a call and waits for its result.
//
// The wait is bounded by the Timeout modifier, otherwise by the context
// deadline, otherwise by the session's OperationTimeout. Device errors are
// returned as *ProtocolError and leave the session open.
func (s *Session) Invoke(ctx context.Context, method string, path Path, params Body, mods ...func(*Req)) (Value, error) {
	return s.call(ctx, method, path, params, nil, newReq(mods))
}

// InvokeAsync sends a call and returns its result slot without waiting.
// Waiting is up to the caller; Future.Wait removes abandoned calls.
func (s *Session) InvokeAsync(ctx context.Context, method string, path Path, params Body) (*Future, error) {
	return s.send(ctx, method, path, params, nil)
}

// call runs one call with hooks, timeout and waiting
func (s *Session) call(ctx context.Context, method string, path Path, params Body, onResult func(Value, error), req *Req) (Value, error) {
	info := CallInfo{SessionID: s.id, Method: method, Path: path, Start: time.Now()}
	ctx, token := s.hook.OnCallStart(ctx, info)

	attemptCtx, cancel := s.callContext(ctx, req)
	defer cancel()

	fut, err := s.send(attemptCtx, method, path, params, onResult)
	if err != nil {
		s.hook.OnCallEnd(ctx, token, info, err)
		return Value{}, err
	}
	info.CallID = fut.ID()

	value, err := fut.Wait(attemptCtx)
	if err != nil {
		s.logger.Debug(ctx, "xAPI call failed",
			"session", s.id,
			"method", method,
			"id", fut.ID(),
			"error", err.Error())
	}
	s.hook.OnCallEnd(ctx, token, info, err)
	return value, err
}

// callContext applies the timeout priority: request, context, session
func (s *Session) callContext(ctx context.Context, req *Req) (context.Context, context.CancelFunc) {
	if req != nil && req.Timeout > 0 {
		return context.WithTimeout(ctx, req.Timeout)
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

// send registers a call and writes its frame. This is the only writer of
// request frames.
func (s *Session) send(ctx context.Context, method string, path Path, params Body, onResult func(Value, error)) (*Future, error) {
	if err := checkContextCancellation(ctx); err != nil {
		return nil, err
	}
	if s.State() != StateOpen {
		return nil, s.closedError()
	}

	fut, err := s.calls.register(method, onResult)
	if err != nil {
		return nil, err
	}
	frame, err := encodeRequest(fut.ID(), method, path, params)
	if err != nil {
		s.calls.remove(fut.ID())
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	if s.cfg.FormatFrame != nil {
		s.logger.Debug(ctx, "xAPI request",
			"session", s.id,
			"id", fut.ID(),
			"frame", s.cfg.FormatFrame(frame))
	}

	s.sendMu.Lock()
	if s.State() != StateOpen {
		s.sendMu.Unlock()
		s.calls.remove(fut.ID())
		return nil, s.closedError()
	}
	err = s.ch.Send(frame)
	s.sendMu.Unlock()

	if err != nil {
		s.calls.remove(fut.ID())
		s.logger.Error(ctx, "xAPI send failed, closing session",
			"session", s.id,
			"method", method,
			"error", err.Error())
		go s.terminate(err, false)
		return nil, fmt.Errorf("%w: send %s: %v", ErrConnectionClosed, method, err)
	}
	return fut, nil
}

// closedError is returned for calls issued after the session left Open
func (s *Session) closedError() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrConnectionClosed
}

// Subscribe registers handler for feedback on pattern and asks the device
// to push matching changes.
//
// With emitCurrentValue the handler first receives the current value as a
// synthetic Event, before any pushed event. For a wildcard-free pattern the
// session reads it with xGet; for wildcard patterns the device is asked to
// notify the current values of all matching nodes.
//
// Events are dispatched to every subscription whose pattern matches; two
// subscriptions with identical patterns are independent.
func (s *Session) Subscribe(ctx context.Context, pattern Pattern, handler Handler, emitCurrentValue bool, mods ...func(*Req)) (SubscriptionID, error) {
	if len(pattern) == 0 {
		return 0, fmt.Errorf("subscribe: pattern cannot be empty")
	}
	if handler == nil {
		return 0, fmt.Errorf("subscribe: handler cannot be nil")
	}
	req := newReq(mods)
	literal, isLiteral := pattern.Path()
	fetchCurrent := emitCurrentValue && isLiteral

	sub := s.subs.add(pattern, handler, fetchCurrent)

	// Runs on the receive loop, also for a response arriving after the
	// caller gave up. The device then holds a subscription nobody owns.
	bindRemote := func(result Value, err error) {
		if err != nil {
			return
		}
		remoteID, ok := result.Get("Id").Int()
		if !ok || s.subs.bind(sub.id, remoteID) {
			return
		}
		s.subs.retire(remoteID)
		go s.unsubscribeRemote(remoteID)
	}
	params := Body{}.
		Set("Query", pattern).
		Set("NotifyCurrentValue", emitCurrentValue && !isLiteral)

	result, err := s.call(ctx, MethodSubscribe, nil, params, bindRemote, req)
	if err != nil {
		// The response may have been bound between the failed wait and here
		if removed, ok := s.subs.remove(sub.id); ok && removed.bound {
			go s.unsubscribeRemote(removed.remoteID)
		}
		return 0, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	if _, ok := result.Get("Id").Int(); !ok {
		s.logger.Warn(ctx, "Subscribe response carries no feedback id",
			"session", s.id,
			"pattern", pattern.String(),
			"result", result.String())
	}

	if fetchCurrent {
		current, err := s.call(ctx, MethodGet, literal, Body{}, nil, req)
		if err != nil {
			if uerr := s.Unsubscribe(ctx, sub.id); uerr != nil {
				s.logger.Warn(ctx, "Rollback of subscription failed",
					"session", s.id,
					"subscription", sub.id,
					"error", uerr.Error())
			}
			return 0, fmt.Errorf("subscribe %s: current value: %w", pattern, err)
		}
		sub.mbox.release(&Event{
			SubscriptionID: sub.id,
			Path:           literal,
			Value:          current,
			Payload:        nestValue(literal, current),
			Synthetic:      true,
		})
	}

	s.logger.Debug(ctx, "Feedback subscription registered",
		"session", s.id,
		"subscription", sub.id,
		"pattern", pattern.String())
	return sub.id, nil
}

// Unsubscribe removes the subscription and asks the device to stop
// pushing its feedback. Unknown or already removed ids are a no-op.
func (s *Session) Unsubscribe(ctx context.Context, id SubscriptionID, mods ...func(*Req)) error {
	_, remoteID, bound := s.subs.lookup(id)
	if _, ok := s.subs.remove(id); !ok {
		return nil
	}
	s.logger.Debug(ctx, "Feedback subscription removed",
		"session", s.id,
		"subscription", id)
	if !bound || s.State() != StateOpen {
		return nil
	}
	_, err := s.call(ctx, MethodUnsubscribe, nil, Body{}.Set("Id", remoteID), nil, newReq(mods))
	if err != nil {
		return fmt.Errorf("unsubscribe %d: %w", id, err)
	}
	s.subs.forget(remoteID)
	return nil
}

// unsubscribeRemote cancels a device subscription that has no local owner
func (s *Session) unsubscribeRemote(remoteID int64) {
	if s.State() != StateOpen {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
	defer cancel()
	_, err := s.call(ctx, MethodUnsubscribe, nil, Body{}.Set("Id", remoteID), nil, nil)
	if err != nil {
		s.logger.Warn(ctx, "Unsubscribe of orphaned feedback failed",
			"session", s.id,
			"remote_id", remoteID,
			"error", err.Error())
		return
	}
	s.subs.forget(remoteID)
	s.logger.Debug(ctx, "Orphaned feedback unsubscribed",
		"session", s.id,
		"remote_id", remoteID,
		"retired", s.subs.retiredCount())
}

// Close shuts the session down gracefully: it sends a close frame, fails
// every pending call with ErrConnectionClosed, stops feedback delivery,
// closes the channel and waits for the receive loop. Close is idempotent.
func (s *Session) Close() error {
	err := s.terminate(nil, true)
	if s.ch != nil {
		<-s.loopDone
	}
	s.markClosed()
	return err
}

// terminate runs the shutdown sequence once. cause is nil for a clean
// closure.
func (s *Session) terminate(cause error, graceful bool) error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))

		callErr := ErrConnectionClosed
		if cause != nil {
			callErr = fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
			s.closedMu.Lock()
			s.closeErr = callErr
			s.closedMu.Unlock()
		}

		if graceful && s.ch != nil {
			if cs, ok := s.ch.(CloseSender); ok {
				s.sendMu.Lock()
				if err := cs.SendClose(); err != nil {
					s.logger.Debug(s.ctx, "Sending close frame failed",
						"session", s.id,
						"error", err.Error())
				}
				s.sendMu.Unlock()
			}
		}

		failed := s.calls.failAll(callErr)
		stopped := s.subs.closeAll()
		s.cancel()
		if s.ch != nil {
			closeErr = s.ch.Close()
		}

		if cause != nil {
			s.logger.Warn(s.ctx, "xAPI session closed abnormally",
				"session", s.id,
				"failed_calls", failed,
				"subscriptions", stopped,
				"error", cause.Error())
		} else {
			s.logger.Info(s.ctx, "xAPI session closed",
				"session", s.id,
				"failed_calls", failed,
				"subscriptions", stopped)
		}
	})
	return closeErr
}

// markClosed moves to StateClosed and wakes Wait exactly once
func (s *Session) markClosed() {
	s.markOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// receiveLoop reads frames one at a time until the channel fails
func (s *Session) receiveLoop() {
	defer func() {
		close(s.loopDone)
		s.markClosed()
	}()

	for {
		frame, err := s.ch.Receive()
		if err != nil {
			var cause error
			if s.State() == StateOpen && !errors.Is(err, io.EOF) {
				cause = err
			}
			s.terminate(cause, false)
			return
		}
		s.handleFrame(frame)
	}
}

// handleFrame routes one decoded frame
func (s *Session) handleFrame(frame []byte) {
	if s.cfg.FormatFrame != nil {
		s.logger.Debug(s.ctx, "xAPI frame received",
			"session", s.id,
			"frame", s.cfg.FormatFrame(frame))
	}

	msg, err := decodeMessage(frame)
	if err != nil {
		s.logger.Warn(s.ctx, "Dropping undecodable frame",
			"session", s.id,
			"error", err.Error())
		return
	}

	switch msg.kind {
	case kindResponse:
		var callErr error
		if msg.err != nil {
			callErr = msg.err
		}
		if !s.calls.resolve(msg.id, msg.result, callErr) {
			s.logger.Debug(s.ctx, "Discarding response for unknown call",
				"session", s.id,
				"id", msg.id)
		}
	case kindOrphanError:
		s.logger.Error(s.ctx, "Device reported an error without call id",
			"session", s.id,
			"error", msg.err.DetailedError())
	case kindNotification:
		if msg.method != FeedbackEventMethod {
			s.logger.Debug(s.ctx, "Ignoring notification",
				"session", s.id,
				"method", msg.method)
			return
		}
		fb, err := decodeFeedback(msg.params)
		if err != nil {
			s.logger.Warn(s.ctx, "Dropping undecodable feedback",
				"session", s.id,
				"error", err.Error())
			return
		}
		if n := s.subs.dispatch(fb); n == 0 {
			s.logger.Debug(s.ctx, "Feedback matched no subscription",
				"session", s.id,
				"path", fb.path.String())
		}
	}
}

// nestValue wraps v in single-member maps along path, the shape the device
// uses for pushed feedback
func nestValue(path Path, v Value) Value {
	out := v
	for i := len(path) - 1; i >= 0; i-- {
		out = Map(Field{Key: path[i], Value: out})
	}
	return out
}

// checkContextCancellation checks if context is canceled or deadline exceeded
//
// This is a non-blocking check that immediately returns if the context is
// canceled or its deadline has exceeded.
func checkContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
