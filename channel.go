// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import "context"

// Channel is a full-duplex, message-framed connection to the device.
//
// A Session is the only writer and the only reader of its Channel: Send is
// called from one goroutine at a time and Receive from the receive loop only.
// Receive returns io.EOF after a normal closure by the peer.
type Channel interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// CloseSender is implemented by channels that can announce a graceful
// closure (a WebSocket close frame) before Close tears them down.
type CloseSender interface {
	SendClose() error
}

// Dialer establishes a Channel. Failures should be reported as *ConnectError.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context) (Channel, error)

// Dial calls f(ctx)
func (f DialerFunc) Dial(ctx context.Context) (Channel, error) {
	return f(ctx)
}
