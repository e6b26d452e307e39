// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Body provides a fluent interface for building the params object of a
// request using sjson for path-based manipulation.
//
// The Body builder tracks errors internally to enable method chaining
// while providing error checking through String() or Err() methods.
// Member order follows insertion order.
//
// Example:
//
//	args := xows.Body{}.
//	    Arg("Number", "user@example.com").
//	    Arg("Protocol", "Sip").
//	    Set("Advanced.CallRate", 6000)
//
//	res, err := client.Command(ctx, xows.Path{"Dial"}, args)
type Body struct {
	// str contains the JSON object being built
	str string
	// err tracks the first error encountered during building
	err error
}

// Set sets a value at the specified sjson path and returns a new Body
//
// The path uses dot notation for nested members (e.g., "Advanced.CallRate").
// The value can be any type sjson supports; Value, Path and Pattern encode
// through their MarshalJSON methods.
//
// Once an error occurs, all subsequent operations are no-ops that preserve it.
func (b Body) Set(path string, value any) Body {
	if b.err != nil {
		return b
	}

	result, err := sjson.Set(b.json(), path, value)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Set(%q): %w", path, err)}
	}
	return Body{str: result}
}

// Arg sets a top-level member whose name is taken literally, so names
// containing sjson metacharacters ("." or "*") are safe.
func (b Body) Arg(name string, value any) Body {
	if name == "" {
		return Body{str: b.str, err: fmt.Errorf("Arg: argument name cannot be empty")}
	}
	return b.Set(escapeKey(name), value)
}

// Append adds value to the top-level member name. The first call sets a
// plain value, repeated calls turn the member into a list, matching how
// repeated command arguments are sent to the device.
func (b Body) Append(name string, value any) Body {
	if b.err != nil {
		return b
	}
	key := escapeKey(name)
	existing := gjson.Get(b.json(), key)
	switch {
	case !existing.Exists():
		return b.Set(key, value)
	case existing.IsArray():
		return b.Set(key+".-1", value)
	default:
		result, err := sjson.SetRaw(b.json(), key, "["+existing.Raw+"]")
		if err != nil {
			return Body{str: b.str, err: fmt.Errorf("Append(%q): %w", name, err)}
		}
		return Body{str: result}.Set(key+".-1", value)
	}
}

// Delete removes a value at the specified sjson path and returns a new Body
func (b Body) Delete(path string) Body {
	if b.err != nil {
		return b
	}

	result, err := sjson.Delete(b.json(), path)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Delete(%q): %w", path, err)}
	}
	return Body{str: result}
}

// String returns the JSON object and any error encountered during building.
// An empty Body yields "{}".
func (b Body) String() (string, error) {
	return b.json(), b.err
}

// Err returns any error that occurred during the building process
func (b Body) Err() error {
	return b.err
}

// Res returns the JSON object for querying with gjson, or "" after an error
func (b Body) Res() string {
	if b.err != nil {
		return ""
	}
	return b.json()
}

// Bytes returns the JSON object as bytes and any building error
func (b Body) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []byte(b.json()), nil
}

// Value decodes the built object into a Value
func (b Body) Value() (Value, error) {
	if b.err != nil {
		return Value{}, b.err
	}
	return ParseValue([]byte(b.json()))
}

// IsEmpty reports whether no members have been set
func (b Body) IsEmpty() bool {
	s := strings.TrimSpace(b.str)
	return s == "" || s == "{}"
}

func (b Body) json() string {
	if b.str == "" {
		return "{}"
	}
	return b.str
}

var sjsonMeta = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`:`, `\:`,
)

// escapeKey quotes sjson/gjson path metacharacters in a literal member name
func escapeKey(name string) string {
	return sjsonMeta.Replace(name)
}
