// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"context"
	"time"
)

// CallHook observes calls issued through a Session. Implementations must be
// safe for concurrent use. See package xowsotel for an OpenTelemetry hook.
type CallHook interface {
	OnCallStart(ctx context.Context, info CallInfo) (context.Context, HookToken)
	OnCallEnd(ctx context.Context, token HookToken, info CallInfo, err error)
}

// HookToken is returned by OnCallStart and passed back to OnCallEnd.
// Only meaningful to the CallHook that created it.
type HookToken any

// CallInfo describes one call
type CallInfo struct {
	// SessionID is the session's log identifier
	SessionID string

	// Method is the JSON-RPC method ("xGet", "xCommand/Dial", ...)
	Method string

	// Path of the call, if any
	Path Path

	// CallID is the correlation id (0 if the call was never registered)
	CallID uint64

	// Start is when the call was issued
	Start time.Time
}

// noopHook is used when no CallHook is configured
type noopHook struct{}

func (noopHook) OnCallStart(ctx context.Context, _ CallInfo) (context.Context, HookToken) {
	return ctx, nil
}

func (noopHook) OnCallEnd(context.Context, HookToken, CallInfo, error) {}
