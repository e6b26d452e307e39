// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Default client configuration values
const (
	DefaultUsername           = "admin"
	DefaultMaxRetries         = 3
	DefaultBackoffMinDelay    = 1 * time.Second
	DefaultBackoffMaxDelay    = 60 * time.Second
	DefaultBackoffDelayFactor = 2
	DefaultConnectTimeout     = 30 * time.Second
	DefaultOperationTimeout   = 15 * time.Second
	DefaultVerifyCertificate  = false
	DefaultPrettyPrintLogs    = false
)

// Security limits for JSON processing and logging
const (
	MaxJSONSizeForLogging = 1 * 1024 * 1024 // 1MB limit to prevent ReDoS attacks
	MaxSensitiveFields    = 1000            // Max redaction operations to prevent DoS
)

// Logging message constants
const (
	JSONTooLargeMessage     = "[JSON TOO LARGE FOR LOGGING]"
	JSONTooManySensitiveMsg = "[JSON CONTAINS TOO MANY SENSITIVE FIELDS]"
)

// sensitiveFieldPattern matches string members whose value must not be
// logged. xAPI commands carry secrets as Password, Passphrase, Secret or Pin
// arguments.
var sensitiveFieldPattern = regexp.MustCompile(`(?i)"(password|passphrase|secret|pin|token|auth)"\s*:\s*"(?:[^"\\]|\\.)*"`)

// Client represents an xAPI client for one device
type Client struct {
	// session is the current connection (lazy, never reconnected)
	session *Session

	// closed is set by Close; the client cannot be reused afterwards
	closed bool

	// mu synchronizes access to session and closed
	mu sync.Mutex

	// Connection parameters
	URL      string
	username string // unexported for security
	password string // unexported for security

	// TLS options
	VerifyCertificate bool

	// Timeout configuration
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration

	// Connection retry configuration
	MaxRetries         int
	BackoffMinDelay    time.Duration
	BackoffMaxDelay    time.Duration
	BackoffDelayFactor float64

	// CallbackQueueSize bounds each subscription's event queue
	CallbackQueueSize int

	dialer Dialer
	hook   CallHook

	// Logging configuration
	logger          Logger
	prettyPrintLogs bool
}

// NewClient creates a new xAPI client for the given host or WebSocket URL
//
// A bare host becomes wss://host/ws. The client does NOT connect
// immediately; the connection is established on the first operation (lazy
// connection) or by an explicit Connect. Once the connection is lost it is
// not re-established: create a new client.
//
// Example:
//
//	client, err := xows.NewClient("10.0.0.1",
//	    xows.Username("admin"),
//	    xows.Password("secret"),
//	)
//	if err != nil {
//	    log.Fatal(err)  // Configuration error
//	}
//	defer client.Close()
//
//	res, err := client.Get(ctx, xows.Path{"Status", "Audio", "Volume"})
//
// Returns a configured Client or an error if configuration validation fails.
func NewClient(hostOrURL string, opts ...func(*Client)) (*Client, error) {
	client := &Client{
		username:           DefaultUsername,
		VerifyCertificate:  DefaultVerifyCertificate,
		ConnectTimeout:     DefaultConnectTimeout,
		OperationTimeout:   DefaultOperationTimeout,
		MaxRetries:         DefaultMaxRetries,
		BackoffMinDelay:    DefaultBackoffMinDelay,
		BackoffMaxDelay:    DefaultBackoffMaxDelay,
		BackoffDelayFactor: DefaultBackoffDelayFactor,
		CallbackQueueSize:  DefaultCallbackQueueSize,
		logger:             &NoOpLogger{},
		prettyPrintLogs:    DefaultPrettyPrintLogs,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.dialer == nil || strings.TrimSpace(hostOrURL) != "" {
		u, err := NormalizeURL(hostOrURL)
		if err != nil {
			return nil, err
		}
		client.URL = u
	}

	if err := client.validateConfig(); err != nil {
		return nil, err
	}

	if client.dialer == nil {
		client.dialer = &WebSocketDialer{
			URL:               client.URL,
			Username:          client.username,
			Password:          client.password,
			VerifyCertificate: client.VerifyCertificate,
			HandshakeTimeout:  client.ConnectTimeout,
		}
	}

	client.logger.Info(context.Background(), "xAPI client created",
		"url", client.URL,
		"connection", "lazy")

	return client, nil
}

// validateConfig validates the client configuration
//
// Validates:
//   - Positive timeouts (ConnectTimeout, OperationTimeout > 0)
//   - Retry params (MaxRetries >= 0, BackoffMinDelay > 0, BackoffMaxDelay > BackoffMinDelay)
//   - BackoffDelayFactor >= 1.0
//   - CallbackQueueSize > 0
//
// Returns an error if validation fails.
func (c *Client) validateConfig() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got: %v", c.ConnectTimeout)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got: %v", c.OperationTimeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got: %d", c.MaxRetries)
	}
	if c.BackoffMinDelay <= 0 {
		return fmt.Errorf("backoff min delay must be positive, got: %v", c.BackoffMinDelay)
	}
	if c.BackoffMaxDelay <= c.BackoffMinDelay {
		return fmt.Errorf("backoff max delay (%v) must be greater than min delay (%v)",
			c.BackoffMaxDelay, c.BackoffMinDelay)
	}
	if c.BackoffDelayFactor < 1.0 {
		return fmt.Errorf("backoff delay factor must be >= 1.0, got: %f", c.BackoffDelayFactor)
	}
	if c.CallbackQueueSize <= 0 {
		return fmt.Errorf("callback queue size must be positive, got: %d", c.CallbackQueueSize)
	}

	if c.dialer == nil {
		if !c.VerifyCertificate && strings.HasPrefix(c.URL, "wss://") {
			c.logger.Debug(context.Background(), "TLS certificate verification disabled",
				"url", c.URL)
		}
		if strings.HasPrefix(c.URL, "ws://") {
			c.logger.Warn(context.Background(), "Plain WebSocket - connection is not encrypted",
				"url", c.URL,
				"security_risk", "Credentials and data transmitted in clear text")
		}
		if c.password == "" {
			c.logger.Warn(context.Background(), "No password configured",
				"url", c.URL,
				"message", "device may reject connection")
		}
	}

	return nil
}

// HasCredentials returns true if a password is configured
//
// This method only indicates if credentials exist without exposing
// the actual values.
func (c *Client) HasCredentials() bool {
	return c.password != ""
}

// Connect establishes the connection explicitly
//
// Operations connect lazily, so calling Connect is optional. It is useful to
// surface authentication problems early. Handshake failures that are
// transient (HTTP 502 while the device reboots, HTTP 503 rate limiting) are
// retried up to MaxRetries times with exponential backoff.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.ensureConnected(ctx)
	return err
}

// ensureConnected returns the open session, connecting on first use
//
// Thread-safe: concurrent first operations share one connection attempt.
func (c *Client) ensureConnected(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client closed: %w", ErrConnectionClosed)
	}
	if c.session != nil {
		if c.session.State() == StateOpen {
			return c.session, nil
		}
		return nil, c.session.closedError()
	}

	c.logger.Debug(ctx, "Establishing xAPI connection", "url", c.URL)

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if err := checkContextCancellation(ctx); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
		session, err := Connect(attemptCtx, c.dialer, c.sessionConfig())
		cancel()
		if err == nil {
			c.session = session
			c.logger.Info(ctx, "xAPI connection established",
				"url", c.URL,
				"session", session.ID())
			return session, nil
		}
		lastErr = err

		var cerr *ConnectError
		if !errors.As(err, &cerr) || !cerr.Transient() || attempt == c.MaxRetries {
			break
		}

		delay := c.Backoff(attempt)
		c.logger.Warn(ctx, "xAPI connection failed, retrying",
			"url", c.URL,
			"attempt", attempt+1,
			"max_retries", c.MaxRetries,
			"delay", delay.String(),
			"error", err.Error())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	c.logger.Error(ctx, "xAPI connection failed",
		"url", c.URL,
		"error", lastErr.Error())
	return nil, lastErr
}

// sessionConfig builds the configuration for new sessions. Frames are only
// formatted for logging when the logger emits debug messages.
func (c *Client) sessionConfig() SessionConfig {
	cfg := SessionConfig{
		Logger:            c.logger,
		Hook:              c.hook,
		OperationTimeout:  c.OperationTimeout,
		CallbackQueueSize: c.CallbackQueueSize,
	}
	if debugEnabled(c.logger) {
		cfg.FormatFrame = func(frame []byte) string {
			return c.prepareJSONForLogging(string(frame))
		}
	}
	return cfg
}

// LevelLogger is a Logger reporting its threshold. Loggers without it are
// assumed to log debug messages.
type LevelLogger interface {
	Logger
	Level() LogLevel
}

// debugEnabled reports whether l emits debug messages
func debugEnabled(l Logger) bool {
	switch lg := l.(type) {
	case nil, *NoOpLogger:
		return false
	case LevelLogger:
		return lg.Level() <= LogLevelDebug
	default:
		return true
	}
}

// Session returns the current session, or nil before the first connection
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Wait blocks until the connection is closed, by Close or by the device.
//
// Useful for programs that only react to feedback. Returns nil after a clean
// closure and an error wrapping ErrConnectionClosed when the connection
// failed.
//
// Example:
//
//	_, err := client.Subscribe(ctx, xows.Pattern{"Event", "**"}, handler)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Wait(ctx); err != nil {
//	    log.Fatal(err)
//	}
func (c *Client) Wait(ctx context.Context) error {
	session := c.Session()
	if session == nil {
		return fmt.Errorf("client not connected")
	}
	return session.Wait(ctx)
}

// Close closes the connection and releases resources (terminal operation).
//
// Pending calls fail with ErrConnectionClosed and feedback delivery stops.
// Safe to call multiple times (subsequent calls are no-ops).
//
// Example:
//
//	client, err := xows.NewClient("10.0.0.1", opts...)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.session == nil {
		return nil
	}

	err := c.session.Close()
	c.logger.Info(context.Background(), "xAPI connection closed",
		"url", c.URL,
		"session", c.session.ID())
	return err
}

// Backoff calculates the backoff delay for retry attempt using exponential backoff with jitter
//
// The formula is: delay = min(minDelay * (factor ^ attempt) + jitter, maxDelay)
// where jitter is a cryptographically secure random value in [0, delay * 0.1].
//
// If crypto/rand fails, timestamp-based jitter is used instead.
//
// Parameters:
//   - attempt: The retry attempt number (0-indexed)
//
// Returns the duration to wait before retrying.
func (c *Client) Backoff(attempt int) time.Duration {
	delay := float64(c.BackoffMinDelay) * math.Pow(c.BackoffDelayFactor, float64(attempt))
	if math.IsInf(delay, 1) || delay > float64(c.BackoffMaxDelay) {
		delay = float64(c.BackoffMaxDelay)
	}
	baseDelay := delay

	jitterMax := int64(delay * 0.1)
	var jitterVal int64
	if jitterMax > 0 {
		var jitterBytes [8]byte
		if _, err := rand.Read(jitterBytes[:]); err == nil {
			//nolint:gosec // G115: masked to a non-negative int64
			jitterVal = int64(binary.BigEndian.Uint64(jitterBytes[:])&0x7FFFFFFFFFFFFFFF) % jitterMax
		} else {
			jitterVal = (time.Now().UnixNano()%jitterMax + jitterMax) % jitterMax
			c.logger.Warn(context.Background(), "crypto/rand failed, using timestamp-based jitter",
				"error", err.Error(),
				"attempt", attempt)
		}
		delay += float64(jitterVal)
	}

	finalDelay := time.Duration(delay)
	c.logger.Debug(context.Background(), "Backoff calculated",
		"attempt", attempt,
		"base_delay_ms", time.Duration(baseDelay).Milliseconds(),
		"jitter_ms", time.Duration(jitterVal).Milliseconds(),
		"final_delay_ms", finalDelay.Milliseconds())

	return finalDelay
}

// prepareJSONForLogging redacts sensitive data and formats a frame for logging
//
// This method performs security checks and data sanitization:
//  1. Validates JSON size to prevent ReDoS attacks (max 1MB)
//  2. Checks sensitive field count to prevent DoS (max 1000 fields)
//  3. Redacts sensitive members (Password, Passphrase, Secret, Pin, Token, Auth)
//  4. Pretty-prints JSON if prettyPrintLogs is enabled
//
// Returns the processed JSON string safe for logging.
func (c *Client) prepareJSONForLogging(jsonStr string) string {
	if len(jsonStr) > MaxJSONSizeForLogging {
		return JSONTooLargeMessage
	}

	sensitiveCount := len(sensitiveFieldPattern.FindAllStringIndex(jsonStr, MaxSensitiveFields+1))
	if sensitiveCount > MaxSensitiveFields {
		c.logger.Warn(context.Background(), "Too many sensitive fields detected",
			"count", sensitiveCount,
			"max", MaxSensitiveFields)
		return JSONTooManySensitiveMsg
	}

	redacted := redactSensitiveData(jsonStr)

	if c.prettyPrintLogs {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(redacted), "", "  "); err == nil {
			return buf.String()
		}
	}

	return redacted
}

// redactSensitiveData replaces sensitive string members with [REDACTED],
// keeping the member name as sent
func redactSensitiveData(s string) string {
	return sensitiveFieldPattern.ReplaceAllString(s, `"$1":"[REDACTED]"`)
}
