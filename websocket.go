// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWebSocketPath is the endpoint of the xAPI WebSocket service
const DefaultWebSocketPath = "/ws"

// DefaultHandshakeTimeout bounds the WebSocket upgrade
const DefaultHandshakeTimeout = 30 * time.Second

// closeWriteTimeout bounds writing the close frame
const closeWriteTimeout = time.Second

// NormalizeURL turns a host or URL into the device's WebSocket URL.
//
// A bare host ("10.0.0.1" or "codec.example.com:8443") becomes
// "wss://host/ws". Explicit ws:// and wss:// URLs are kept; a missing path
// defaults to /ws.
//
// Example:
//
//	u, _ := xows.NormalizeURL("10.0.0.1")      // wss://10.0.0.1/ws
//	u, _ = xows.NormalizeURL("ws://lab-codec") // ws://lab-codec/ws
func NormalizeURL(hostOrURL string) (string, error) {
	s := strings.TrimSpace(hostOrURL)
	if s == "" {
		return "", fmt.Errorf("host cannot be empty")
	}
	if !strings.HasPrefix(s, "ws://") && !strings.HasPrefix(s, "wss://") {
		if strings.Contains(s, "://") {
			return "", fmt.Errorf("unsupported URL scheme in %q (use ws:// or wss://)", s)
		}
		s = "wss://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", hostOrURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: missing host", hostOrURL)
	}
	if u.User != nil {
		return "", fmt.Errorf("invalid URL %q: credentials must be passed as options", hostOrURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultWebSocketPath
	}
	return u.String(), nil
}

// WebSocketDialer dials the device's xAPI WebSocket endpoint with HTTP basic
// authentication.
//
// Certificate verification is disabled unless VerifyCertificate is set,
// since endpoints commonly use self-signed certificates.
type WebSocketDialer struct {
	// URL of the endpoint (see NormalizeURL)
	URL string

	// Username and Password for basic authentication
	Username string
	Password string

	// VerifyCertificate enables TLS certificate verification
	VerifyCertificate bool

	// TLSConfig overrides the TLS client configuration
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the upgrade (DefaultHandshakeTimeout if zero)
	HandshakeTimeout time.Duration

	// Header holds additional handshake headers
	Header http.Header
}

// Dial performs the WebSocket handshake and maps rejected upgrades to
// *ConnectError
func (d *WebSocketDialer) Dial(ctx context.Context) (Channel, error) {
	if d.URL == "" {
		return nil, &ConnectError{Failure: ConnectNetwork, Err: errors.New("empty URL")}
	}

	tlsConfig := d.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !d.VerifyCertificate, //nolint:gosec // self-signed device certificates
		}
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  tlsConfig,
	}

	header := http.Header{}
	for k, v := range d.Header {
		header[k] = append([]string(nil), v...)
	}
	if d.Username != "" || d.Password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		header.Set("Authorization", "Basic "+creds)
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		cerr := &ConnectError{URL: d.URL, Failure: ConnectNetwork, Err: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
			cerr.Failure = classifyHandshake(resp.StatusCode, strings.HasPrefix(d.URL, "ws://"))
		}
		return nil, cerr
	}
	return newWSChannel(conn), nil
}

// wsChannel adapts a gorilla connection to Channel
type wsChannel struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

// Send writes one text frame
func (c *wsChannel) Send(frame []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Receive reads the next text or binary frame. A normal or going-away
// closure is reported as io.EOF.
func (c *wsChannel) Receive() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// SendClose writes a normal-closure close frame
func (c *wsChannel) SendClose() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
}

// Close closes the underlying connection
func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
