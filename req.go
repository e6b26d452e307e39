// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import "time"

// Req represents a request modifier
//
// This struct is used to apply request-specific options via functional modifiers.
// Operation parameters (paths, values, arguments) are passed directly to methods.
//
// Example:
//
//	// Get with a custom timeout
//	res, err := client.Get(ctx, xows.Path{"Status", "Audio", "Volume"},
//	    xows.Timeout(5*time.Second))
type Req struct {
	// Timeout is the request-specific timeout
	// Overrides the context deadline and the client's OperationTimeout if set
	Timeout time.Duration

	// EmitCurrentValue is only used by subscriptions: the handler first
	// receives the current value
	EmitCurrentValue bool
}

// newReq applies modifiers to a zero Req
func newReq(mods []func(*Req)) *Req {
	req := &Req{}
	for _, mod := range mods {
		if mod != nil {
			mod(req)
		}
	}
	return req
}
