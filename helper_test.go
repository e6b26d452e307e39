// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// testTimeout bounds every wait in tests
const testTimeout = 5 * time.Second

var errPipeClosed = errors.New("pipe closed")

// pipeChannel is an in-memory Channel. The test plays the device on the
// other end through fakeDevice.
type pipeChannel struct {
	toClient   chan []byte
	fromClient chan []byte
	done       chan struct{}

	mu      sync.Mutex
	recvErr error
	once    sync.Once

	closeFrames atomic.Int32
}

func newPipeChannel() *pipeChannel {
	return &pipeChannel{
		toClient:   make(chan []byte, 256),
		fromClient: make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

func (p *pipeChannel) Send(frame []byte) error {
	select {
	case <-p.done:
		return errPipeClosed
	default:
	}
	select {
	case p.fromClient <- append([]byte(nil), frame...):
		return nil
	case <-p.done:
		return errPipeClosed
	}
}

func (p *pipeChannel) Receive() ([]byte, error) {
	select {
	case f := <-p.toClient:
		return f, nil
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return nil, p.recvErr
	}
}

func (p *pipeChannel) SendClose() error {
	p.closeFrames.Add(1)
	return nil
}

func (p *pipeChannel) Close() error {
	p.shutdown(errPipeClosed)
	return nil
}

// shutdown ends the pipe; Receive then returns err
func (p *pipeChannel) shutdown(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.recvErr = err
		p.mu.Unlock()
		close(p.done)
	})
}

// request is a call as seen by the device
type request struct {
	ID     uint64
	Method string
	Params gjson.Result
	Raw    string
}

// fakeDevice scripts the device side of a pipeChannel
type fakeDevice struct {
	t    *testing.T
	pipe *pipeChannel
}

func newFakeDevice(t *testing.T) (*fakeDevice, *pipeChannel) {
	t.Helper()
	p := newPipeChannel()
	return &fakeDevice{t: t, pipe: p}, p
}

// next waits for the next request sent by the client
func (d *fakeDevice) next() request {
	d.t.Helper()
	select {
	case frame := <-d.pipe.fromClient:
		return parseRequest(d.t, frame)
	case <-time.After(testTimeout):
		d.t.Fatalf("timeout waiting for request")
		return request{}
	}
}

// expectNone asserts that no request arrives within d
func (d *fakeDevice) expectNone(wait time.Duration) {
	d.t.Helper()
	select {
	case frame := <-d.pipe.fromClient:
		d.t.Fatalf("unexpected request: %s", frame)
	case <-time.After(wait):
	}
}

func parseRequest(t *testing.T, frame []byte) request {
	t.Helper()
	if !gjson.ValidBytes(frame) {
		t.Fatalf("client sent invalid JSON: %s", frame)
	}
	r := gjson.ParseBytes(frame)
	if v := r.Get("jsonrpc").String(); v != "2.0" {
		t.Fatalf("jsonrpc = %q, want 2.0", v)
	}
	return request{
		ID:     r.Get("id").Uint(),
		Method: r.Get("method").String(),
		Params: r.Get("params"),
		Raw:    string(frame),
	}
}

// push sends a raw frame to the client
func (d *fakeDevice) push(frame string) {
	d.t.Helper()
	select {
	case d.pipe.toClient <- []byte(frame):
	case <-time.After(testTimeout):
		d.t.Fatalf("timeout pushing frame")
	}
}

// reply sends a success response with a raw JSON result
func (d *fakeDevice) reply(id uint64, result string) {
	d.t.Helper()
	d.push(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

// replyError sends an error response
func (d *fakeDevice) replyError(id uint64, code int, message string) {
	d.t.Helper()
	d.push(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":%q}}`, id, code, message))
}

// feedback pushes an xFeedback/Event notification with raw params
func (d *fakeDevice) feedback(params string) {
	d.t.Helper()
	d.push(`{"jsonrpc":"2.0","method":"xFeedback/Event","params":` + params + `}`)
}

// serve answers requests with handler until ctx ends. handler returns the
// raw result, or an error response when code != 0.
func (d *fakeDevice) serve(ctx context.Context, handler func(req request) (result string, code int)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.pipe.done:
				return
			case frame := <-d.pipe.fromClient:
				req := parseRequestNoFail(frame)
				result, code := handler(req)
				var out string
				if code != 0 {
					out = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":%q}}`, req.ID, code, result)
				} else {
					out = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
				}
				select {
				case d.pipe.toClient <- []byte(out):
				case <-d.pipe.done:
					return
				}
			}
		}
	}()
}

func parseRequestNoFail(frame []byte) request {
	r := gjson.ParseBytes(frame)
	return request{
		ID:     r.Get("id").Uint(),
		Method: r.Get("method").String(),
		Params: r.Get("params"),
		Raw:    string(frame),
	}
}

// newTestSession wraps a fresh pipe in a session closed at test end
func newTestSession(t *testing.T, cfg SessionConfig) (*Session, *fakeDevice) {
	t.Helper()
	dev, pipe := newFakeDevice(t)
	s := NewSession(pipe, cfg)
	t.Cleanup(func() { _ = s.Close() })
	return s, dev
}

// eventRecorder is a Handler collecting events
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan Event, 1024)}
}

func (r *eventRecorder) HandleFeedback(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.notify <- ev
	return nil
}

// wait returns the next delivered event
func (r *eventRecorder) wait(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.notify:
		return ev
	case <-time.After(testTimeout):
		t.Fatalf("timeout waiting for feedback event")
		return Event{}
	}
}

// expectNone asserts that no event is delivered within d
func (r *eventRecorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.notify:
		t.Fatalf("unexpected event: %s = %s", ev.Path, ev.Value)
	case <-time.After(d):
	}
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// logEntry is one captured log call
type logEntry struct {
	level  string
	msg    string
	fields map[string]any
}

// recordingLogger captures log calls; safe for concurrent use
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, msg string, keysAndValues []any) {
	fields := map[string]any{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: fields})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(_ context.Context, msg string, kv ...any) {
	l.record("DEBUG", msg, kv)
}

func (l *recordingLogger) Info(_ context.Context, msg string, kv ...any) {
	l.record("INFO", msg, kv)
}

func (l *recordingLogger) Warn(_ context.Context, msg string, kv ...any) {
	l.record("WARN", msg, kv)
}

func (l *recordingLogger) Error(_ context.Context, msg string, kv ...any) {
	l.record("ERROR", msg, kv)
}

// find returns entries of level whose message contains substr
func (l *recordingLogger) find(level, substr string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.level == level && strings.Contains(e.msg, substr) {
			out = append(out, e)
		}
	}
	return out
}

// eventually polls cond until it holds or the test timeout passes
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

var _ Channel = (*pipeChannel)(nil)
var _ CloseSender = (*pipeChannel)(nil)
var _ io.Closer = (*pipeChannel)(nil)
