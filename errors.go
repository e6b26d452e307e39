// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrConnectionClosed is returned for calls that are pending when the session
// closes and for every call issued afterwards. Errors carrying the cause of
// an abnormal closure wrap it, so use errors.Is.
var ErrConnectionClosed = errors.New("xows: connection closed")

// JSON-RPC and xAPI error codes reported by the device
const (
	CodeInvalidRequest          = -32600
	CodeMethodNotFound          = -32601
	CodeInvalidParameter        = -32602
	CodeInternalError           = -32603
	CodeParseError              = -32700
	CodePermissionDenied        = -31999
	CodeSubscriberCountExceeded = -31998
	CodeNotReady                = -31997
	CodeCommandError            = 1
)

// Sentinel errors matched by *ProtocolError via errors.Is
var (
	ErrInvalidRequest          = &ProtocolError{Code: CodeInvalidRequest, Message: "the request was invalid or unsupported"}
	ErrMethodNotFound          = &ProtocolError{Code: CodeMethodNotFound, Message: "the supplied method doesn't exist"}
	ErrInvalidParameter        = &ProtocolError{Code: CodeInvalidParameter, Message: "a parameter was missing or invalid"}
	ErrInternal                = &ProtocolError{Code: CodeInternalError, Message: "internal server error"}
	ErrParse                   = &ProtocolError{Code: CodeParseError, Message: "server couldn't parse the message"}
	ErrPermissionDenied        = &ProtocolError{Code: CodePermissionDenied, Message: "permission was denied for current user"}
	ErrSubscriberCountExceeded = &ProtocolError{Code: CodeSubscriberCountExceeded, Message: "global subscription count exceeded"}
	ErrNotReady                = &ProtocolError{Code: CodeNotReady, Message: "system not ready to accept requests"}
	ErrCommand                 = &ProtocolError{Code: CodeCommandError, Message: "command returned an error"}
)

var knownProtocolErrors = []*ProtocolError{
	ErrInvalidRequest,
	ErrMethodNotFound,
	ErrInvalidParameter,
	ErrInternal,
	ErrParse,
	ErrPermissionDenied,
	ErrSubscriberCountExceeded,
	ErrNotReady,
	ErrCommand,
}

// ProtocolError is an error response returned by the device for one call.
// It is surfaced to the issuing caller only; the session stays open.
type ProtocolError struct {
	// Method of the call that failed
	Method string

	// Code is the JSON-RPC error code
	Code int

	// Message is the error message sent by the device
	Message string

	// Data holds the optional error data member
	Data Value
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultProtocolMessage(e.Code)
	}
	if e.Method == "" {
		return fmt.Sprintf("xows: %s (code %d)", msg, e.Code)
	}
	return fmt.Sprintf("xows: %s failed: %s (code %d)", e.Method, msg, e.Code)
}

// Is matches another *ProtocolError with the same code, so
// errors.Is(err, xows.ErrPermissionDenied) works for any message.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.Code == e.Code
}

// DetailedError includes the error data member, which may carry device
// specific details (for commands, the reason the command failed).
//
// This should only be used in logging contexts where disclosing device
// output is acceptable.
func (e *ProtocolError) DetailedError() string {
	if e.Data.IsNull() {
		return e.Error()
	}
	return fmt.Sprintf("%s: %s", e.Error(), e.Data.String())
}

func defaultProtocolMessage(code int) string {
	for _, known := range knownProtocolErrors {
		if known.Code == code {
			return known.Message
		}
	}
	return "unknown error"
}

// ConnectFailure classifies why the connection could not be established
type ConnectFailure int

const (
	// ConnectNetwork covers DNS, TCP and TLS failures before any HTTP status
	ConnectNetwork ConnectFailure = iota

	// ConnectAuthentication is an invalid username or password (HTTP 403)
	ConnectAuthentication

	// ConnectHTTPNotEnabled is a 401 on a ws:// URL: the device likely only
	// accepts HTTPS
	ConnectHTTPNotEnabled

	// ConnectRateLimited is the device's connection rate limit (HTTP 503)
	ConnectRateLimited

	// ConnectProxy is a proxy error (HTTP 502), typically during a reboot
	ConnectProxy

	// ConnectNotEnabled means the WebSocket service may be disabled
	ConnectNotEnabled
)

// String returns a human-readable description
func (f ConnectFailure) String() string {
	switch f {
	case ConnectNetwork:
		return "network error"
	case ConnectAuthentication:
		return "invalid username or password"
	case ConnectHTTPNotEnabled:
		return "HTTP not enabled, you may have connected to an HTTPS-only endpoint over HTTP"
	case ConnectRateLimited:
		return "connection rate limit exceeded"
	case ConnectProxy:
		return "proxy error, most likely cause is a device reboot"
	case ConnectNotEnabled:
		return "WebSocket not enabled, you may need to enable NetworkServices Websocket"
	default:
		return fmt.Sprintf("ConnectFailure(%d)", int(f))
	}
}

// ConnectError reports a failed handshake. The session never reaches Open.
type ConnectError struct {
	// URL that was dialed (without credentials)
	URL string

	// Failure classification
	Failure ConnectFailure

	// StatusCode is the HTTP status of the rejected upgrade (0 if none)
	StatusCode int

	// Err is the underlying dial error
	Err error
}

// Error implements the error interface
func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("xows: connect %s failed: %s (HTTP %d)", e.URL, e.Failure, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("xows: connect %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("xows: connect %s failed: %s", e.URL, e.Failure)
}

// Unwrap returns the underlying dial error
func (e *ConnectError) Unwrap() error { return e.Err }

// Transient reports whether a later attempt may succeed
func (e *ConnectError) Transient() bool {
	return e.Failure == ConnectRateLimited || e.Failure == ConnectProxy
}

// classifyHandshake maps an HTTP status of a rejected upgrade
func classifyHandshake(status int, plainWS bool) ConnectFailure {
	switch {
	case status == http.StatusUnauthorized && plainWS:
		return ConnectHTTPNotEnabled
	case status == http.StatusForbidden:
		return ConnectAuthentication
	case status == http.StatusBadGateway:
		return ConnectProxy
	case status == http.StatusServiceUnavailable:
		return ConnectRateLimited
	default:
		return ConnectNotEnabled
	}
}

// DecodeError reports an incoming frame that could not be parsed.
// It is logged and the frame dropped; the session stays open.
type DecodeError struct {
	// Frame is the offending frame, truncated for logging
	Frame string

	// Reason describes what was wrong
	Reason string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	return fmt.Sprintf("xows: cannot decode frame: %s", e.Reason)
}

// CallbackError reports a feedback handler that returned an error or
// panicked. Other handlers and the receive loop are unaffected.
type CallbackError struct {
	// SubscriptionID of the failing handler
	SubscriptionID SubscriptionID

	// Err is the returned error, or a description of the panic
	Err error

	// Panicked is set when the handler panicked
	Panicked bool
}

// Error implements the error interface
func (e *CallbackError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("xows: feedback handler %d panicked: %v", e.SubscriptionID, e.Err)
	}
	return fmt.Sprintf("xows: feedback handler %d failed: %v", e.SubscriptionID, e.Err)
}

// Unwrap returns the handler error
func (e *CallbackError) Unwrap() error { return e.Err }
