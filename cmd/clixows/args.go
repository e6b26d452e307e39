// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"fmt"
	"strings"

	"github.com/netascode/go-xows"
)

// parseCommandArgs splits "Phonebook Search Limit=1 Offset=0" into the
// command path and its arguments. The path ends at the first argument
// containing "="; repeated keys become lists.
func parseCommandArgs(args []string) (xows.Path, xows.Body, error) {
	split := len(args)
	for i, arg := range args {
		if strings.Contains(arg, "=") {
			split = i
			break
		}
	}

	path := xows.ParsePath(args[:split]...)
	if len(path) == 0 {
		return nil, xows.Body{}, fmt.Errorf("command path is required")
	}

	body := xows.Body{}
	for _, arg := range args[split:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, xows.Body{}, fmt.Errorf("command arguments must contain \"=\": %q", arg)
		}
		if key == "" {
			return nil, xows.Body{}, fmt.Errorf("command argument name cannot be empty: %q", arg)
		}
		body = body.Append(key, value)
	}
	return path, body, body.Err()
}

// parseSetArgs splits "Configuration Audio DefaultVolume 50" into the path
// and the value, which is always the last argument
func parseSetArgs(args []string) (xows.Path, string, error) {
	if len(args) < 2 {
		return nil, "", fmt.Errorf("set requires a path and a value")
	}
	path := xows.ParsePath(args[:len(args)-1]...)
	if len(path) == 0 {
		return nil, "", fmt.Errorf("set requires a path and a value")
	}
	return path, args[len(args)-1], nil
}

// splitLine splits a shell line into words. Double quotes group words;
// a backslash escapes the next character.
func splitLine(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quoted  bool
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			inWord = true
		case r == '"':
			quoted = !quoted
			inWord = true
		case !quoted && (r == ' ' || r == '\t'):
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
