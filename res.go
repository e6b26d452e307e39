// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Res is the result of an xAPI call
type Res struct {
	// Method that produced the result
	Method string

	// Path of the call, if any
	Path Path

	// Value is the decoded result member of the response
	Value Value
}

// GetValue retrieves a value from the result using a gjson path.
// The path follows gjson syntax for querying JSON structures.
//
// Example paths:
//   - "Status.Audio.Volume" - value below a Query or Get result
//   - "Status.Video.Input.Connector.#" - number of list items
//   - "Status.Video.Input.Connector.#(id==1).Connected" - list item lookup
//
// Returns gjson.Result which can be converted to specific types:
//   - result.String() for string values
//   - result.Int() for integer values
//   - result.Bool() for boolean values
//   - result.Array() for array values
//
// Example:
//
//	res, err := client.Query(ctx, xows.Pattern{"Status", "Audio", "**"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	volume := res.GetValue("Status.Audio.Volume").Int()
func (r Res) GetValue(path string) gjson.Result {
	jsonStr := r.JSON()
	if jsonStr == "" {
		return gjson.Result{}
	}
	return gjson.Get(jsonStr, path)
}

// JSON returns the result as a compact JSON string with member order as
// received. Returns an empty string if marshaling fails.
func (r Res) JSON() string {
	data, err := r.Value.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}

// PrettyJSON returns the result indented by two spaces
func (r Res) PrettyJSON() string {
	data, err := r.Value.MarshalJSON()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}

// IsOK reports whether the device answered with the plain status object
// {"status":"OK"} that many commands and xSet return
func (r Res) IsOK() bool {
	if b, ok := r.Value.Bool(); ok {
		return b
	}
	return r.GetValue("status").String() == "OK"
}
