// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Wildcard segments understood by Pattern
const (
	// WildcardOne matches exactly one path segment
	WildcardOne = "*"

	// WildcardAny matches zero or more consecutive path segments
	WildcardAny = "**"
)

// Path identifies a node in the device's status, configuration or command
// tree, e.g. Path{"Status", "Audio", "Volume"}.
//
// Segments consisting only of decimal digits address list instances
// ("Status Video Input Connector 1") and are sent as JSON integers.
type Path []string

// Pattern is a Path whose segments may contain WildcardOne or WildcardAny.
// Patterns are used for feedback subscriptions and tree queries only.
type Pattern []string

// ParsePath builds a Path from command-line style arguments.
//
// Each argument may hold several segments separated by "/". A leading "/" is
// ignored and an empty segment in the middle ("Status//Volume") stands for
// WildcardAny, so the result of ParsePath may contain wildcards; use
// Pattern.Path or validatePath before issuing a direct call.
//
// Example:
//
//	xows.ParsePath("Status/Audio", "Volume") // [Status Audio Volume]
//	xows.ParsePath("/Status//Volume")        // [Status ** Volume]
func ParsePath(args ...string) Path {
	out := Path{}
	for _, arg := range args {
		arg = strings.TrimPrefix(arg, "/")
		for _, seg := range strings.Split(arg, "/") {
			seg = strings.TrimSpace(seg)
			if seg != "" {
				out = append(out, seg)
			} else if len(out) > 0 && out[len(out)-1] != WildcardAny {
				out = append(out, WildcardAny)
			}
		}
	}
	return out
}

// ParsePattern is ParsePath returning a Pattern
func ParsePattern(args ...string) Pattern {
	return Pattern(ParsePath(args...))
}

// String joins the segments with "/"
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Append returns a new Path with segs appended; p is not modified
func (p Path) Append(segs ...string) Path {
	out := make(Path, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// Equal reports whether both paths have identical segments
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the path as a JSON array, numeric segments as integers
func (p Path) MarshalJSON() ([]byte, error) {
	return marshalSegments(p)
}

// UnmarshalJSON decodes a JSON array of strings and integers
func (p *Path) UnmarshalJSON(data []byte) error {
	segs, err := unmarshalSegments(data)
	if err != nil {
		return err
	}
	*p = segs
	return nil
}

// String joins the segments with "/"
func (p Pattern) String() string {
	return strings.Join(p, "/")
}

// HasWildcards reports whether any segment is a wildcard
func (p Pattern) HasWildcards() bool {
	for _, seg := range p {
		if seg == WildcardOne || seg == WildcardAny {
			return true
		}
	}
	return false
}

// Path converts a wildcard-free pattern into a Path
func (p Pattern) Path() (Path, bool) {
	if p.HasWildcards() {
		return nil, false
	}
	return append(Path(nil), p...), true
}

// Match reports whether the whole path is consumed by the whole pattern.
//
// Literal segments compare case-sensitively, WildcardOne consumes exactly
// one segment and WildcardAny consumes zero or more. A pattern never matches
// a mere prefix of the path.
//
// Example:
//
//	xows.Pattern{"Status", "**"}.Match(xows.Path{"Status"})                  // true
//	xows.Pattern{"Status", "*", "Volume"}.Match(xows.Path{"Status", "Audio", "Volume"}) // true
//	xows.Pattern{"Status", "Audio"}.Match(xows.Path{"Status", "Audio", "Volume"})      // false
func (p Pattern) Match(path Path) bool {
	// Iterative glob matching with single-point backtracking on the most
	// recent "**"; linear in practice for device paths.
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(path) {
		switch {
		case pi < len(p) && p[pi] == WildcardAny:
			star, mark = pi, si
			pi++
		case pi < len(p) && (p[pi] == WildcardOne || p[pi] == path[si]):
			pi++
			si++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == WildcardAny {
		pi++
	}
	return pi == len(p)
}

// MarshalJSON encodes the pattern like Path
func (p Pattern) MarshalJSON() ([]byte, error) {
	return marshalSegments(p)
}

// UnmarshalJSON decodes like Path
func (p *Pattern) UnmarshalJSON(data []byte) error {
	segs, err := unmarshalSegments(data)
	if err != nil {
		return err
	}
	*p = Pattern(segs)
	return nil
}

func marshalSegments(segs []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, seg := range segs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if isIndexSegment(seg) {
			buf.WriteString(seg)
			continue
		}
		s, err := json.Marshal(seg)
		if err != nil {
			return nil, err
		}
		buf.Write(s)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func unmarshalSegments(data []byte) ([]string, error) {
	v, err := ParseValue(data)
	if err != nil {
		return nil, err
	}
	if v.Kind() != KindList {
		return nil, fmt.Errorf("path must be a JSON array, got %s", v.Kind())
	}
	segs := make([]string, 0, v.Len())
	for i, item := range v.Items() {
		switch item.Kind() {
		case KindString:
			s, _ := item.Str()
			segs = append(segs, s)
		case KindNumber:
			segs = append(segs, item.String())
		default:
			return nil, fmt.Errorf("path segment %d must be a string or integer, got %s", i, item.Kind())
		}
	}
	return segs, nil
}

// isIndexSegment reports whether seg is a plain decimal index without a
// leading zero (so "01" stays a string and round-trips unchanged)
func isIndexSegment(seg string) bool {
	if seg == "" || len(seg) > 18 {
		return false
	}
	if len(seg) > 1 && seg[0] == '0' {
		return false
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return false
		}
	}
	return true
}
