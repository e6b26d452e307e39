// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JSON-RPC method names of the xAPI
const (
	// MethodGet reads a leaf value or subtree
	MethodGet = "xGet"

	// MethodQuery reads every node matching a pattern
	MethodQuery = "xQuery"

	// MethodSet writes a configuration value
	MethodSet = "xSet"

	// MethodCommandPrefix is joined with the command path ("xCommand/Dial")
	MethodCommandPrefix = "xCommand"

	// MethodSubscribe registers a feedback query on the device
	MethodSubscribe = "xFeedback/Subscribe"

	// MethodUnsubscribe removes a feedback query from the device
	MethodUnsubscribe = "xFeedback/Unsubscribe"

	// FeedbackEventMethod is the method of pushed feedback notifications
	FeedbackEventMethod = "xFeedback/Event"
)

// JSONRPCVersion is the protocol version sent in every envelope
const JSONRPCVersion = "2.0"

// maxFrameInError limits how much of a bad frame is kept in a DecodeError
const maxFrameInError = 256

// CommandMethod returns the method name for the command at path
//
// Example:
//
//	xows.CommandMethod(xows.Path{"Audio", "Volume", "Set"}) // "xCommand/Audio/Volume/Set"
func CommandMethod(path Path) string {
	return MethodCommandPrefix + "/" + strings.Join(path, "/")
}

// messageKind classifies a decoded frame
type messageKind int

const (
	kindResponse messageKind = iota
	kindNotification
	kindOrphanError
)

// message is a decoded incoming frame
type message struct {
	kind messageKind

	// Response fields
	id     uint64
	result Value
	err    *ProtocolError

	// Notification fields
	method string
	params gjson.Result
}

// encodeRequest builds the request envelope. A non-nil path is placed at
// params.Path, after any members of params.
func encodeRequest(id uint64, method string, path Path, params Body) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("method cannot be empty")
	}
	if err := params.Err(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	body := params.json()
	if path != nil {
		raw, err := path.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		body, err = sjson.SetRaw(body, "Path", string(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
	}

	env := `{"jsonrpc":"` + JSONRPCVersion + `"}`
	env, err := sjson.Set(env, "id", id)
	if err != nil {
		return nil, err
	}
	env, err = sjson.Set(env, "method", method)
	if err != nil {
		return nil, err
	}
	env, err = sjson.SetRaw(env, "params", body)
	if err != nil {
		return nil, err
	}
	return []byte(env), nil
}

// decodeMessage classifies an incoming frame.
//
// A non-null id marks a response; no id and a string method mark a
// notification; an error member without a usable id is an orphan error.
// Anything else yields a *DecodeError.
func decodeMessage(frame []byte) (message, error) {
	if !gjson.ValidBytes(frame) {
		return message{}, newDecodeError(frame, "invalid JSON")
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return message{}, newDecodeError(frame, "frame is not a JSON object")
	}

	id := root.Get("id")
	errObj := root.Get("error")

	if id.Exists() && id.Type != gjson.Null {
		n, ok := parseID(id)
		if !ok {
			if errObj.Exists() {
				return message{kind: kindOrphanError, err: decodeProtocolError("", errObj)}, nil
			}
			return message{}, newDecodeError(frame, fmt.Sprintf("unsupported id %s", id.Raw))
		}
		msg := message{kind: kindResponse, id: n}
		switch {
		case errObj.Exists() && errObj.Type != gjson.Null:
			msg.err = decodeProtocolError("", errObj)
		case root.Get("result").Exists():
			msg.result = valueFromResult(root.Get("result"))
		default:
			return message{}, newDecodeError(frame, "response has neither result nor error")
		}
		return msg, nil
	}

	if errObj.Exists() && errObj.Type != gjson.Null {
		return message{kind: kindOrphanError, err: decodeProtocolError("", errObj)}, nil
	}

	method := root.Get("method")
	if method.Type != gjson.String || method.Str == "" {
		return message{}, newDecodeError(frame, "frame has no id and no method")
	}
	return message{kind: kindNotification, method: method.Str, params: root.Get("params")}, nil
}

// parseID accepts the unsigned integer ids this client issues
func parseID(id gjson.Result) (uint64, bool) {
	if id.Type != gjson.Number {
		return 0, false
	}
	if strings.ContainsAny(id.Raw, ".eE-") {
		return 0, false
	}
	return id.Uint(), true
}

func decodeProtocolError(method string, obj gjson.Result) *ProtocolError {
	pe := &ProtocolError{Method: method}
	if !obj.IsObject() {
		pe.Code = CodeInternalError
		pe.Message = obj.String()
		return pe
	}
	pe.Code = int(obj.Get("code").Int())
	pe.Message = obj.Get("message").String()
	if pe.Message == "" {
		pe.Message = defaultProtocolMessage(pe.Code)
	}
	if data := obj.Get("data"); data.Exists() {
		pe.Data = valueFromResult(data)
	}
	return pe
}

func newDecodeError(frame []byte, reason string) *DecodeError {
	s := string(frame)
	if len(s) > maxFrameInError {
		s = s[:maxFrameInError] + "...[TRUNCATED]"
	}
	return &DecodeError{Frame: s, Reason: reason}
}

// feedback is a decoded xFeedback/Event notification
type feedback struct {
	// remoteID is the device's subscription id, valid when hasRemoteID
	remoteID    int64
	hasRemoteID bool

	path    Path
	value   Value
	payload Value
}

// decodeFeedback extracts the remote id, concrete path and value from the
// params of a feedback notification.
//
// Explicit Path and Value members are used when present. Otherwise the path
// is derived from the nested document the device pushes, e.g.
// {"Id":1,"Status":{"Audio":{"Volume":50}}} yields Status/Audio/Volume = 50.
// Descent stops at the first node with more than one member. A single list
// item carrying an "id" member contributes that id as an index segment.
func decodeFeedback(params gjson.Result) (feedback, error) {
	if !params.IsObject() {
		return feedback{}, &DecodeError{Frame: params.Raw, Reason: "feedback params is not an object"}
	}

	fb := feedback{}
	if id := params.Get("Id"); id.Exists() && id.Type == gjson.Number {
		fb.remoteID = id.Int()
		fb.hasRemoteID = true
	}

	// Payload is the params without the remote id
	fields := []Field{}
	params.ForEach(func(key, val gjson.Result) bool {
		if key.Str != "Id" {
			fields = append(fields, Field{Key: key.Str, Value: valueFromResult(val)})
		}
		return true
	})
	fb.payload = Map(fields...)

	if p, v := params.Get("Path"), params.Get("Value"); p.IsArray() && v.Exists() {
		var path Path
		if err := path.UnmarshalJSON([]byte(p.Raw)); err != nil {
			return feedback{}, &DecodeError{Frame: params.Raw, Reason: fmt.Sprintf("invalid feedback path: %v", err)}
		}
		fb.path = path
		fb.value = valueFromResult(v)
		return fb, nil
	}

	fb.path, fb.value = derivePath(fb.payload)
	return fb, nil
}

// derivePath descends single-member maps and single-item lists
func derivePath(doc Value) (Path, Value) {
	path := Path{}
	cur := doc
	for {
		switch cur.Kind() {
		case KindMap:
			if cur.Len() != 1 {
				return path, cur
			}
			f := cur.Fields()[0]
			path = append(path, f.Key)
			cur = f.Value
		case KindList:
			if cur.Len() != 1 {
				return path, cur
			}
			item := cur.Items()[0]
			id, ok := item.Lookup("id")
			if !ok || (id.Kind() != KindNumber && id.Kind() != KindString) {
				return path, cur
			}
			if s, isStr := id.Str(); isStr {
				path = append(path, s)
			} else {
				path = append(path, id.String())
			}
			rest := []Field{}
			for _, f := range item.Fields() {
				if f.Key != "id" {
					rest = append(rest, f)
				}
			}
			cur = Map(rest...)
		default:
			return path, cur
		}
	}
}
