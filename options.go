// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import "time"

// Client configuration options using the functional options pattern

// Username sets the username for basic authentication (default: admin)
func Username(username string) func(*Client) {
	return func(c *Client) {
		c.username = username
	}
}

// Password sets the password for basic authentication
func Password(password string) func(*Client) {
	return func(c *Client) {
		c.password = password
	}
}

// VerifyCertificate enables or disables TLS certificate verification (default: false)
//
// Devices usually present self-signed certificates, so verification is off
// by default. Enable it when the device certificate chains to a trusted CA.
//
// Example:
//
//	client, _ := xows.NewClient("codec.example.com",
//	    xows.Username("admin"),
//	    xows.Password("secret"),
//	    xows.VerifyCertificate(true))
func VerifyCertificate(verify bool) func(*Client) {
	return func(c *Client) {
		c.VerifyCertificate = verify
	}
}

// ConnectTimeout sets the WebSocket handshake timeout (default: 30s)
func ConnectTimeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.ConnectTimeout = duration
	}
}

// OperationTimeout sets the default call timeout (default: 15s)
func OperationTimeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.OperationTimeout = duration
	}
}

// MaxRetries sets the maximum number of connection attempts retried after
// transient handshake failures (default: 3). Calls are never retried.
func MaxRetries(retries int) func(*Client) {
	return func(c *Client) {
		c.MaxRetries = retries
	}
}

// BackoffMinDelay sets the minimum backoff delay (default: 1s)
func BackoffMinDelay(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.BackoffMinDelay = duration
	}
}

// BackoffMaxDelay sets the maximum backoff delay (default: 60s)
func BackoffMaxDelay(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.BackoffMaxDelay = duration
	}
}

// BackoffDelayFactor sets the backoff multiplication factor (default: 2.0)
func BackoffDelayFactor(factor float64) func(*Client) {
	return func(c *Client) {
		c.BackoffDelayFactor = factor
	}
}

// CallbackQueueSize sets how many feedback events are buffered per
// subscription before new events are dropped (default: 1024)
func CallbackQueueSize(size int) func(*Client) {
	return func(c *Client) {
		c.CallbackQueueSize = size
	}
}

// WithDialer replaces the WebSocket dialer, e.g. with an in-memory channel
// in tests. Username, Password and VerifyCertificate are not used then.
func WithDialer(dialer Dialer) func(*Client) {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithCallHook installs a CallHook observing every call
//
// Example:
//
//	client, _ := xows.NewClient("10.0.0.1",
//	    xows.WithCallHook(xowsotel.NewHook(xowsotel.DefaultConfig())))
func WithCallHook(hook CallHook) func(*Client) {
	return func(c *Client) {
		c.hook = hook
	}
}

// WithLogger configures a custom logger for the client
//
// By default, the client uses NoOpLogger which discards all log messages.
// Use this option to enable logging with DefaultLogger or a custom logger.
//
// Frames logged at Debug level are redacted to remove sensitive data
// (passwords, passphrases, secrets, PINs, tokens).
//
// Example:
//
//	logger := xows.NewDefaultLogger(xows.LogLevelInfo)
//	client, _ := xows.NewClient("10.0.0.1",
//	    xows.Username("admin"),
//	    xows.Password("secret"),
//	    xows.WithLogger(logger))
func WithLogger(logger Logger) func(*Client) {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPrettyPrintLogs enables/disables JSON pretty printing in logs
//
// When enabled, frames in debug logs are indented for readability.
// Default: disabled (false)
func WithPrettyPrintLogs(enabled bool) func(*Client) {
	return func(c *Client) {
		c.prettyPrintLogs = enabled
	}
}

// Request modifiers for individual operations

// Timeout returns a request modifier that sets a custom timeout for the operation.
//
// The timeout priority model is:
//  1. Request-specific timeout (this modifier) - highest priority
//  2. Context deadline (if already set) - medium priority
//  3. Client.OperationTimeout - fallback default
//
// Example:
//
//	// Dial may take a while to be acknowledged
//	res, err := client.Command(ctx, xows.Path{"Dial"}, args,
//	    xows.Timeout(30*time.Second))
func Timeout(duration time.Duration) func(*Req) {
	return func(req *Req) {
		req.Timeout = duration
	}
}

// EmitCurrentValue returns a subscription modifier delivering the current
// value to the handler before any pushed change.
//
// Example:
//
//	id, err := client.Subscribe(ctx, xows.Pattern{"Status", "Audio", "Volume"},
//	    handler, xows.EmitCurrentValue())
func EmitCurrentValue() func(*Req) {
	return func(req *Req) {
		req.EmitCurrentValue = true
	}
}
