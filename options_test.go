// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

// TestUsernameOption tests the Username functional option
func TestUsernameOption(t *testing.T) {
	client := &Client{}
	Username("integrator")(client)

	if client.username != "integrator" {
		t.Errorf("Username() set username to %q, want %q", client.username, "integrator")
	}
}

// TestPasswordOption tests the Password functional option
func TestPasswordOption(t *testing.T) {
	client := &Client{}
	Password("secret123")(client)

	if client.password != "secret123" {
		t.Errorf("Password() set password to %q, want %q", client.password, "secret123")
	}
}

// TestDurationOptions tests the timeout and backoff functional options
func TestDurationOptions(t *testing.T) {
	tests := []struct {
		name  string
		opt   func(time.Duration) func(*Client)
		value time.Duration
		get   func(*Client) time.Duration
	}{
		{
			name:  "ConnectTimeout",
			opt:   ConnectTimeout,
			value: 10 * time.Second,
			get:   func(c *Client) time.Duration { return c.ConnectTimeout },
		},
		{
			name:  "OperationTimeout",
			opt:   OperationTimeout,
			value: 90 * time.Second,
			get:   func(c *Client) time.Duration { return c.OperationTimeout },
		},
		{
			name:  "BackoffMinDelay",
			opt:   BackoffMinDelay,
			value: 500 * time.Millisecond,
			get:   func(c *Client) time.Duration { return c.BackoffMinDelay },
		},
		{
			name:  "BackoffMaxDelay",
			opt:   BackoffMaxDelay,
			value: 2 * time.Minute,
			get:   func(c *Client) time.Duration { return c.BackoffMaxDelay },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &Client{}
			tt.opt(tt.value)(client)
			if got := tt.get(client); got != tt.value {
				t.Errorf("%s() set %v, want %v", tt.name, got, tt.value)
			}
		})
	}
}

// TestScalarOptions tests the remaining scalar functional options
func TestScalarOptions(t *testing.T) {
	client := &Client{}
	VerifyCertificate(true)(client)
	MaxRetries(7)(client)
	BackoffDelayFactor(1.5)(client)
	CallbackQueueSize(16)(client)
	WithPrettyPrintLogs(true)(client)

	if !client.VerifyCertificate {
		t.Error("VerifyCertificate(true) not applied")
	}
	if client.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", client.MaxRetries)
	}
	if client.BackoffDelayFactor != 1.5 {
		t.Errorf("BackoffDelayFactor = %v, want 1.5", client.BackoffDelayFactor)
	}
	if client.CallbackQueueSize != 16 {
		t.Errorf("CallbackQueueSize = %d, want 16", client.CallbackQueueSize)
	}
	if !client.prettyPrintLogs {
		t.Error("WithPrettyPrintLogs(true) not applied")
	}
}

// TestWithLoggerOption tests that a nil logger keeps the current one
func TestWithLoggerOption(t *testing.T) {
	logger := NewDefaultLogger(LogLevelDebug)
	client := &Client{logger: &NoOpLogger{}}

	WithLogger(nil)(client)
	if _, ok := client.logger.(*NoOpLogger); !ok {
		t.Errorf("WithLogger(nil) replaced the logger with %T", client.logger)
	}

	WithLogger(logger)(client)
	if client.logger != Logger(logger) {
		t.Error("WithLogger() did not install the logger")
	}
}

// TestWithDialerAndHookOptions tests replacement of the transport and call hook
func TestWithDialerAndHookOptions(t *testing.T) {
	dialer := DialerFunc(func(context.Context) (Channel, error) { return nil, nil })
	hook := &recordingHook{}

	client, err := NewClient("", WithDialer(dialer), WithCallHook(hook))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.dialer == nil {
		t.Fatal("Expected dialer to be set")
	}
	if _, ok := client.dialer.(*WebSocketDialer); ok {
		t.Error("Expected custom dialer, got WebSocketDialer")
	}
	if client.hook != CallHook(hook) {
		t.Error("WithCallHook() did not install the hook")
	}
}

// TestOptionsCombination tests that options compose in NewClient
func TestOptionsCombination(t *testing.T) {
	client, err := NewClient("codec.example.com",
		Username("integrator"),
		Password("secret"),
		VerifyCertificate(true),
		ConnectTimeout(5*time.Second),
		OperationTimeout(20*time.Second),
		MaxRetries(1),
		BackoffMinDelay(100*time.Millisecond),
		BackoffMaxDelay(time.Second),
		CallbackQueueSize(8),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	d, ok := client.dialer.(*WebSocketDialer)
	if !ok {
		t.Fatalf("Expected *WebSocketDialer, got %T", client.dialer)
	}
	if d.URL != "wss://codec.example.com/ws" {
		t.Errorf("dialer URL = %q", d.URL)
	}
	if d.Username != "integrator" || d.Password != "secret" {
		t.Error("credentials not passed to the dialer")
	}
	if !d.VerifyCertificate {
		t.Error("VerifyCertificate not passed to the dialer")
	}
	if d.HandshakeTimeout != 5*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 5s", d.HandshakeTimeout)
	}
	if client.OperationTimeout != 20*time.Second || client.MaxRetries != 1 || client.CallbackQueueSize != 8 {
		t.Errorf("options not applied: %+v", client)
	}
}

// TestSecurityWarnings tests warnings for insecure configurations
func TestSecurityWarnings(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		opts     []func(*Client)
		contains []string
		absent   []string
	}{
		{
			name:     "plain websocket",
			host:     "ws://10.0.0.1/ws",
			opts:     []func(*Client){Password("secret")},
			contains: []string{"Plain WebSocket"},
			absent:   []string{"No password"},
		},
		{
			name:     "no password",
			host:     "10.0.0.1",
			contains: []string{"No password configured"},
			absent:   []string{"Plain WebSocket"},
		},
		{
			name:   "secure with password",
			host:   "10.0.0.1",
			opts:   []func(*Client){Password("secret"), VerifyCertificate(true)},
			absent: []string{"[WARN]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			opts := append([]func(*Client){WithLogger(NewDefaultLoggerTo(&buf, LogLevelWarn))}, tt.opts...)
			if _, err := NewClient(tt.host, opts...); err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			out := buf.String()
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("Expected log to contain %q, got %q", want, out)
				}
			}
			for _, unwanted := range tt.absent {
				if strings.Contains(out, unwanted) {
					t.Errorf("Expected log not to contain %q, got %q", unwanted, out)
				}
			}
		})
	}
}
