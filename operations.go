// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"context"
	"fmt"
	"strings"
)

// Input validation constants
const (
	// MaxValueSize is the maximum size for an encoded value in bytes (10MB)
	MaxValueSize = 10 * 1024 * 1024

	// MaxPathLength is the maximum number of segments in a path
	MaxPathLength = 64

	// MaxSegmentLength is the maximum length of a single path segment
	MaxSegmentLength = 256
)

// Input validation functions

// validatePath validates a path for a direct call (Get, Set, Command)
//
// Checks:
//   - Path is not empty and not longer than MaxPathLength segments
//   - No wildcard segments (wildcards are only valid in patterns)
//   - Each segment passes checkSegment
//
// Returns an error if the path is invalid with a descriptive message.
func validatePath(path Path) error {
	if len(path) == 0 {
		return fmt.Errorf("path cannot be empty")
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("path exceeds maximum of %d segments: %s", MaxPathLength, truncatePath(path.String()))
	}
	for i, seg := range path {
		if seg == WildcardOne || seg == WildcardAny {
			return fmt.Errorf("path segment %d is a wildcard %q (only allowed in Query and Subscribe)", i, seg)
		}
		if err := checkSegment(seg); err != nil {
			return fmt.Errorf("path segment %d is invalid: %w", i, err)
		}
	}
	return nil
}

// validatePattern validates a pattern for Query or Subscribe
func validatePattern(pattern Pattern) error {
	if len(pattern) == 0 {
		return fmt.Errorf("pattern cannot be empty")
	}
	if len(pattern) > MaxPathLength {
		return fmt.Errorf("pattern exceeds maximum of %d segments: %s", MaxPathLength, truncatePath(pattern.String()))
	}
	for i, seg := range pattern {
		if seg == WildcardOne || seg == WildcardAny {
			continue
		}
		if err := checkSegment(seg); err != nil {
			return fmt.Errorf("pattern segment %d is invalid: %w", i, err)
		}
	}
	return nil
}

// checkSegment checks a single segment for malicious or malformed content
//
// Checks for:
//   - Empty segments
//   - Excessive length
//   - Null bytes and other control characters
//   - Embedded "/" (segments are already split)
func checkSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("segment cannot be empty")
	}
	if len(seg) > MaxSegmentLength {
		return fmt.Errorf("segment exceeds maximum length of %d characters: %s", MaxSegmentLength, truncatePath(seg))
	}
	for i := 0; i < len(seg); i++ {
		switch {
		case seg[i] == 0:
			return fmt.Errorf("segment contains null byte at position %d", i)
		case seg[i] < 32 || seg[i] == 127:
			return fmt.Errorf("segment contains control character at position %d", i)
		case seg[i] == '/':
			return fmt.Errorf("segment contains '/' at position %d", i)
		}
	}
	return nil
}

// validateValue checks that a value can be encoded and is not oversized
func validateValue(v Value) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Errorf("value cannot be encoded: %w", err)
	}
	if len(data) > MaxValueSize {
		return fmt.Errorf("value size exceeds maximum of %d bytes (got %d bytes)", MaxValueSize, len(data))
	}
	return nil
}

// truncatePath truncates a path for error messages
//
// Returns the first 100 characters of the path followed by "..." if longer.
func truncatePath(path string) string {
	if len(path) <= 100 {
		return path
	}
	return path[:100] + "..."
}

// Get reads a leaf value or subtree of the status or configuration tree
//
// The path must not contain wildcards; use Query for that. Timeout follows
// priority:
//  1. Request-specific timeout (via Timeout modifier)
//  2. Context deadline (if already set)
//  3. Client.OperationTimeout (fallback default)
//
// Example:
//
//	res, err := client.Get(ctx, xows.Path{"Status", "Audio", "Volume"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	volume, _ := res.Value.Int()
func (c *Client) Get(ctx context.Context, path Path, mods ...func(*Req)) (Res, error) {
	if err := validatePath(path); err != nil {
		return Res{}, fmt.Errorf("get: %w", err)
	}
	return c.invoke(ctx, MethodGet, path, Body{}, mods)
}

// Query reads every node matching pattern
//
// The result is the matching subtree rooted at the tree's top level, e.g.
// querying Status/Audio/** returns {"Status":{"Audio":{...}}}.
//
// Example:
//
//	res, err := client.Query(ctx, xows.Pattern{"Status", "**", "DisplayName"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.PrettyJSON())
func (c *Client) Query(ctx context.Context, pattern Pattern, mods ...func(*Req)) (Res, error) {
	if err := validatePattern(pattern); err != nil {
		return Res{}, fmt.Errorf("query: %w", err)
	}
	return c.invoke(ctx, MethodQuery, nil, Body{}.Set("Query", pattern), mods)
}

// Set writes a configuration value
//
// value may be a Value or any Go value accepted by ValueOf.
//
// Example:
//
//	_, err := client.Set(ctx, xows.Path{"Configuration", "Audio", "DefaultVolume"}, 50)
func (c *Client) Set(ctx context.Context, path Path, value any, mods ...func(*Req)) (Res, error) {
	if err := validatePath(path); err != nil {
		return Res{}, fmt.Errorf("set: %w", err)
	}
	v, err := ValueOf(value)
	if err != nil {
		return Res{}, fmt.Errorf("set: %w", err)
	}
	if err := validateValue(v); err != nil {
		return Res{}, fmt.Errorf("set: %w", err)
	}
	return c.invoke(ctx, MethodSet, path, Body{}.Set("Value", v), mods)
}

// Command runs the command at path with named arguments
//
// Arguments are built with Body; repeated arguments are added with
// Body.Append. The method sent is "xCommand/" followed by the path.
//
// Example:
//
//	res, err := client.Command(ctx, xows.Path{"Audio", "Volume", "Set"},
//	    xows.Body{}.Arg("Level", 60))
//
//	// Multi-line arguments (body) use the reserved "body" member
//	res, err = client.Command(ctx, xows.Path{"UserInterface", "Extensions", "Panel", "Save"},
//	    xows.Body{}.Arg("PanelId", "p1").Arg("body", xml))
func (c *Client) Command(ctx context.Context, path Path, args Body, mods ...func(*Req)) (Res, error) {
	if err := validatePath(path); err != nil {
		return Res{}, fmt.Errorf("command: %w", err)
	}
	if err := args.Err(); err != nil {
		return Res{}, fmt.Errorf("command: invalid arguments: %w", err)
	}
	if len(args.json()) > MaxValueSize {
		return Res{}, fmt.Errorf("command: arguments exceed maximum of %d bytes", MaxValueSize)
	}
	res, err := c.invoke(ctx, CommandMethod(path), nil, args, mods)
	res.Path = path
	return res, err
}

// Subscribe registers handler for feedback on pattern
//
// Use the EmitCurrentValue modifier to receive the current value first. The
// returned id is local to the client's session; it stays valid until
// Unsubscribe or until the connection closes.
//
// Example:
//
//	id, err := client.Subscribe(ctx, xows.Pattern{"Status", "Audio", "Volume"},
//	    xows.HandlerFunc(func(ctx context.Context, ev xows.Event) error {
//	        fmt.Println(ev.Path, ev.Value)
//	        return nil
//	    }),
//	    xows.EmitCurrentValue())
func (c *Client) Subscribe(ctx context.Context, pattern Pattern, handler Handler, mods ...func(*Req)) (SubscriptionID, error) {
	if err := validatePattern(pattern); err != nil {
		return 0, fmt.Errorf("subscribe: %w", err)
	}
	if handler == nil {
		return 0, fmt.Errorf("subscribe: handler cannot be nil")
	}
	session, err := c.ensureConnected(ctx)
	if err != nil {
		return 0, err
	}
	req := newReq(mods)
	return session.Subscribe(ctx, pattern, handler, req.EmitCurrentValue, mods...)
}

// Unsubscribe removes a subscription. Removing an unknown or already removed
// id is a no-op.
func (c *Client) Unsubscribe(ctx context.Context, id SubscriptionID, mods ...func(*Req)) error {
	session := c.Session()
	if session == nil {
		return nil
	}
	return session.Unsubscribe(ctx, id, mods...)
}

// invoke connects lazily and runs one call
func (c *Client) invoke(ctx context.Context, method string, path Path, params Body, mods []func(*Req)) (Res, error) {
	if err := checkContextCancellation(ctx); err != nil {
		return Res{Method: method, Path: path}, err
	}
	session, err := c.ensureConnected(ctx)
	if err != nil {
		return Res{Method: method, Path: path}, err
	}

	c.logger.Debug(ctx, "xAPI call",
		"method", method,
		"path", strings.Join(path, " "))

	value, err := session.Invoke(ctx, method, path, params, mods...)
	if err != nil {
		return Res{Method: method, Path: path}, err
	}
	return Res{Method: method, Path: path, Value: value}, nil
}
