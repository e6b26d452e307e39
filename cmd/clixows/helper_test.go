// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/netascode/go-xows"
	"github.com/tidwall/gjson"
)

// deviceChannel is an in-memory xows.Channel answering calls with reply
type deviceChannel struct {
	reply func(method string, params gjson.Result) (result string, code int)

	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	requests []gjson.Result
}

func newDeviceChannel(reply func(method string, params gjson.Result) (string, int)) *deviceChannel {
	return &deviceChannel{
		reply:  reply,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

func (d *deviceChannel) Send(frame []byte) error {
	req := gjson.ParseBytes(frame)
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	result, code := d.reply(req.Get("method").String(), req.Get("params"))
	var out string
	if code != 0 {
		out = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":%q}}`, req.Get("id").Uint(), code, result)
	} else {
		out = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, req.Get("id").Uint(), result)
	}
	select {
	case d.frames <- []byte(out):
		return nil
	case <-d.done:
		return errors.New("closed")
	}
}

// push sends an unsolicited frame to the client
func (d *deviceChannel) push(frame string) {
	d.frames <- []byte(frame)
}

func (d *deviceChannel) Receive() ([]byte, error) {
	// Queued frames are delivered before the close
	select {
	case f := <-d.frames:
		return f, nil
	default:
	}
	select {
	case f := <-d.frames:
		return f, nil
	case <-d.done:
		return nil, io.EOF
	}
}

func (d *deviceChannel) Close() error {
	d.once.Do(func() { close(d.done) })
	return nil
}

// sent returns the requests seen so far
func (d *deviceChannel) sent() []gjson.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gjson.Result(nil), d.requests...)
}

// lockedBuffer is a bytes.Buffer safe for concurrent use
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testApp returns an app whose client talks to dev
func testApp(dev *deviceChannel, env map[string]string) (*app, *lockedBuffer) {
	out := &lockedBuffer{}
	a := &app{
		out:    out,
		errOut: io.Discard,
		in:     io.NopCloser(strings.NewReader("")),
		getenv: func(k string) string { return env[k] },
		dialer: xows.DialerFunc(func(context.Context) (xows.Channel, error) { return dev, nil }),
	}
	return a, out
}

// execute runs the CLI with args
func execute(t *testing.T, a *app, args ...string) error {
	t.Helper()
	return executeContext(context.Background(), a, args...)
}

func executeContext(ctx context.Context, a *app, args ...string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
