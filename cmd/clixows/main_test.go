// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/netascode/go-xows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func okDevice() *deviceChannel {
	return newDeviceChannel(func(method string, _ gjson.Result) (string, int) {
		switch method {
		case xows.MethodGet:
			return `50`, 0
		case xows.MethodQuery:
			return `{"Status":{"Audio":{"Volume":50}}}`, 0
		case xows.MethodSubscribe:
			return `{"Id":1}`, 0
		default:
			return `{"status":"OK"}`, 0
		}
	})
}

func TestParseCommandArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantPath xows.Path
		wantBody string
		wantErr  string
	}{
		{
			name:     "path only",
			args:     []string{"Standby", "Activate"},
			wantPath: xows.Path{"Standby", "Activate"},
			wantBody: `{}`,
		},
		{
			name:     "arguments",
			args:     []string{"Phonebook", "Search", "Limit=1", "Offset=0"},
			wantPath: xows.Path{"Phonebook", "Search"},
			wantBody: `{"Limit":"1","Offset":"0"}`,
		},
		{
			name:     "slash path and repeated key",
			args:     []string{"Conference/Participant/Add", "Number=1001", "Number=1002", "Number=1003"},
			wantPath: xows.Path{"Conference", "Participant", "Add"},
			wantBody: `{"Number":["1001","1002","1003"]}`,
		},
		{
			name:     "value containing equals",
			args:     []string{"HttpClient", "Post", "Url=http://x/?a=b"},
			wantPath: xows.Path{"HttpClient", "Post"},
			wantBody: `{"Url":"http://x/?a=b"}`,
		},
		{
			name:    "missing path",
			args:    []string{"Limit=1"},
			wantErr: "command path is required",
		},
		{
			name:    "argument without equals after arguments",
			args:    []string{"Phonebook", "Search", "Limit=1", "Offset"},
			wantErr: `must contain "="`,
		},
		{
			name:    "empty key",
			args:    []string{"Dial", "=1"},
			wantErr: "name cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, body, err := parseCommandArgs(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, path)
			s, err := body.String()
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantBody, s)
		})
	}
}

func TestParseSetArgs(t *testing.T) {
	path, value, err := parseSetArgs([]string{"Configuration", "Audio/Ultrasound", "MaxVolume", "70"})
	require.NoError(t, err)
	assert.Equal(t, xows.Path{"Configuration", "Audio", "Ultrasound", "MaxVolume"}, path)
	assert.Equal(t, "70", value)

	_, _, err = parseSetArgs([]string{"70"})
	assert.Error(t, err)
	_, _, err = parseSetArgs([]string{"/", "70"})
	assert.Error(t, err)
}

func TestSplitLine(t *testing.T) {
	tests := []struct {
		line    string
		want    []string
		wantErr bool
	}{
		{line: "get Status Audio Volume", want: []string{"get", "Status", "Audio", "Volume"}},
		{line: "  get\tStatus  ", want: []string{"get", "Status"}},
		{line: `command UserInterface Message Alert Display Text="Hello world"`, want: []string{"command", "UserInterface", "Message", "Alert", "Display", "Text=Hello world"}},
		{line: `set Configuration SystemUnit Name "Room 1"`, want: []string{"set", "Configuration", "SystemUnit", "Name", "Room 1"}},
		{line: `x Text=a\ b`, want: []string{"x", "Text=a b"}},
		{line: `x ""`, want: []string{"x", ""}},
		{line: "", want: nil},
		{line: `x "open`, wantErr: true},
		{line: `x \`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := splitLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "clixows.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`host: file-host
username: file-user
password: file-pass
timeout: 45s
verify_certificate: true
log_level: none
`), 0o600))

	tests := []struct {
		name  string
		env   map[string]string
		args  []string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "defaults",
			args: []string{"get", "Status"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "", cfg.Host)
				assert.Equal(t, "admin", cfg.Username)
				assert.Equal(t, 30*time.Second, cfg.Timeout)
				assert.False(t, cfg.VerifyCertificate)
			},
		},
		{
			name: "config file",
			args: []string{"--config", cfgPath, "get", "Status"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "file-host", cfg.Host)
				assert.Equal(t, "file-user", cfg.Username)
				assert.Equal(t, "file-pass", cfg.Password)
				assert.Equal(t, 45*time.Second, cfg.Timeout)
				assert.True(t, cfg.VerifyCertificate)
			},
		},
		{
			name: "env overrides file",
			env:  map[string]string{EnvHost: "env-host", EnvPassword: "env-pass"},
			args: []string{"--config", cfgPath, "get", "Status"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "env-host", cfg.Host)
				assert.Equal(t, "file-user", cfg.Username)
				assert.Equal(t, "env-pass", cfg.Password)
			},
		},
		{
			name: "flags override env",
			env:  map[string]string{EnvHost: "env-host", EnvUsername: "env-user"},
			args: []string{"--config", cfgPath, "--host", "flag-host", "-u", "flag-user", "--timeout", "5s", "get", "Status"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "flag-host", cfg.Host)
				assert.Equal(t, "flag-user", cfg.Username)
				assert.Equal(t, 5*time.Second, cfg.Timeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := testApp(okDevice(), tt.env)
			require.NoError(t, execute(t, a, tt.args...))
			tt.check(t, a.cfg)
		})
	}
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("timeout: soon\n"), 0o600))

	a, _ := testApp(okDevice(), nil)
	err := execute(t, a, "--config", bad, "get", "Status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")

	a, _ = testApp(okDevice(), nil)
	err = execute(t, a, "--config", filepath.Join(dir, "missing.yaml"), "get", "Status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")

	a, _ = testApp(okDevice(), nil)
	err = execute(t, a, "--log-level", "loud", "get", "Status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	a, _ = testApp(okDevice(), nil)
	a.dialer = nil
	err = execute(t, a, "get", "Status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")
}

func TestGetCommand(t *testing.T) {
	dev := okDevice()
	a, out := testApp(dev, nil)

	require.NoError(t, execute(t, a, "get", "Status/Audio", "Volume"))
	assert.Equal(t, "50\n", out.String())

	reqs := dev.sent()
	require.Len(t, reqs, 1)
	assert.Equal(t, xows.MethodGet, reqs[0].Get("method").String())
	assert.JSONEq(t, `["Status","Audio","Volume"]`, reqs[0].Get("params.Path").Raw)
}

func TestQueryCommand(t *testing.T) {
	dev := okDevice()
	a, out := testApp(dev, nil)

	require.NoError(t, execute(t, a, "query", "Status//Volume"))
	assert.Contains(t, out.String(), `"Volume": 50`)
	assert.JSONEq(t, `["Status","**","Volume"]`, dev.sent()[0].Get("params.Query").Raw)
}

func TestSetCommand(t *testing.T) {
	dev := okDevice()
	a, out := testApp(dev, nil)

	require.NoError(t, execute(t, a, "set", "Configuration", "Audio", "Ultrasound", "MaxVolume", "70"))
	assert.Contains(t, out.String(), `"status": "OK"`)

	params := dev.sent()[0].Get("params")
	assert.Equal(t, "70", params.Get("Value").String())
	assert.JSONEq(t, `["Configuration","Audio","Ultrasound","MaxVolume"]`, params.Get("Path").Raw)
}

func TestCommandCommand(t *testing.T) {
	dev := okDevice()
	a, _ := testApp(dev, nil)

	require.NoError(t, execute(t, a, "command", "Phonebook", "Search", "Limit=1", "Offset=0"))
	req := dev.sent()[0]
	assert.Equal(t, "xCommand/Phonebook/Search", req.Get("method").String())
	assert.JSONEq(t, `{"Limit":"1","Offset":"0"}`, req.Get("params").Raw)
}

func TestCommandFailure(t *testing.T) {
	dev := newDeviceChannel(func(string, gjson.Result) (string, int) {
		return "Command failed", xows.CodeCommandError
	})
	a, _ := testApp(dev, nil)

	err := execute(t, a, "command", "Dial", "Number=x")
	require.Error(t, err)
	assert.ErrorIs(t, err, xows.ErrCommand)
}

func TestFeedbackCommand(t *testing.T) {
	dev := newDeviceChannel(func(method string, _ gjson.Result) (string, int) {
		switch method {
		case xows.MethodSubscribe:
			return `{"Id":4}`, 0
		default:
			return `{}`, 0
		}
	})
	a, out := testApp(dev, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- executeContext(ctx, a, "feedback", "Status", "Audio", "**") }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Subscription Id: 1")
	}, 5*time.Second, 10*time.Millisecond)

	dev.push(`{"jsonrpc":"2.0","method":"xFeedback/Event","params":{"Id":4,"Status":{"Audio":{"Volume":60}}}}`)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `{"Status":{"Audio":{"Volume":60}}}`)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feedback did not return after interrupt")
	}

	sub := dev.sent()[0]
	assert.Equal(t, xows.MethodSubscribe, sub.Get("method").String())
	assert.JSONEq(t, `["Status","Audio","**"]`, sub.Get("params.Query").Raw)
}

func TestFeedbackDefaultPattern(t *testing.T) {
	dev := okDevice()
	a, out := testApp(dev, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- executeContext(ctx, a, "feedback") }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Subscription Id:")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.JSONEq(t, `["**"]`, dev.sent()[0].Get("params.Query").Raw)
}

func TestShellExec(t *testing.T) {
	dev := okDevice()
	a, out := testApp(dev, nil)
	require.NoError(t, a.resolve(newRootCmd(a)))

	client, err := a.newClient()
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect(context.Background()))

	sh := &shell{client: client, out: out}
	ctx := context.Background()

	quit, err := sh.exec(ctx, "get Status Audio Volume")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "50")

	_, err = sh.exec(ctx, `command UserInterface Message TextLine Display Text="Hello world"`)
	require.NoError(t, err)
	last := dev.sent()[len(dev.sent())-1]
	assert.Equal(t, "Hello world", last.Get("params.Text").String())

	_, err = sh.exec(ctx, "feedback Status Audio Volume")
	require.NoError(t, err)
	assert.Len(t, client.Session().Subscriptions(), 1)

	_, err = sh.exec(ctx, "unsubscribe 1")
	require.NoError(t, err)
	assert.Empty(t, client.Session().Subscriptions())

	_, err = sh.exec(ctx, "unsubscribe x")
	assert.Error(t, err)

	_, err = sh.exec(ctx, "get")
	assert.Error(t, err)

	_, err = sh.exec(ctx, "frobnicate")
	assert.ErrorContains(t, err, "unknown command")

	quit, err = sh.exec(ctx, "  ")
	assert.NoError(t, err)
	assert.False(t, quit)

	quit, err = sh.exec(ctx, "quit")
	assert.NoError(t, err)
	assert.True(t, quit)
}

func TestShellStopsWhenSessionCloses(t *testing.T) {
	dev := okDevice()
	a, out := testApp(dev, nil)
	require.NoError(t, a.resolve(newRootCmd(a)))

	client, err := a.newClient()
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect(context.Background()))

	// stdin that never delivers a line
	stdin, stdinWriter := io.Pipe()
	defer stdinWriter.Close()

	done := make(chan error, 1)
	go func() { done <- runShell(context.Background(), client, stdin, out, io.Discard) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Commands:")
	}, 5*time.Second, 10*time.Millisecond)

	// The device goes away while the shell waits for input
	require.NoError(t, dev.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shell did not return after the session closed")
	}
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := newZapLogger(zap.New(core))
	ctx := context.Background()

	logger.Debug(ctx, "frame sent", "session", "abc", "id", 1)
	logger.Info(ctx, "connected")
	logger.Warn(ctx, "queue full", "subscription", 2)
	logger.Error(ctx, "handler failed")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "frame sent", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["session"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, xows.LogLevelDebug, logger.Level())

	warnCore, _ := observer.New(zapcore.WarnLevel)
	assert.Equal(t, xows.LogLevelWarn, newZapLogger(zap.New(warnCore)).Level())
	var _ xows.LevelLogger = logger
}

func TestZapLevel(t *testing.T) {
	tests := []struct {
		name   string
		want   zapcore.Level
		wantOK bool
		errMsg string
	}{
		{name: "debug", want: zapcore.DebugLevel, wantOK: true},
		{name: "INFO", want: zapcore.InfoLevel, wantOK: true},
		{name: "warning", want: zapcore.WarnLevel, wantOK: true},
		{name: "error", want: zapcore.ErrorLevel, wantOK: true},
		{name: "none", wantOK: false},
		{name: "loud", errMsg: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, ok, err := zapLevel(tt.name)
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, level)
			}
		})
	}

	logger, err := buildLogger("off")
	require.NoError(t, err)
	assert.IsType(t, &xows.NoOpLogger{}, logger)
}
