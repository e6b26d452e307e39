// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/netascode/go-xows"
	"github.com/spf13/cobra"
)

// version is set at build time
var version = "dev"

// globalFlags holds the persistent flags
type globalFlags struct {
	host              string
	username          string
	password          string
	configPath        string
	logLevel          string
	timeout           time.Duration
	verifyCertificate bool
}

// app carries the resolved settings and I/O of one invocation
type app struct {
	flags  globalFlags
	cfg    Config
	logger xows.Logger

	out    io.Writer
	errOut io.Writer
	in     io.ReadCloser
	getenv func(string) string

	// dialer replaces the WebSocket transport when set
	dialer xows.Dialer
}

func newApp() *app {
	return &app{
		out:    os.Stdout,
		errOut: os.Stderr,
		in:     os.Stdin,
		getenv: os.Getenv,
	}
}

// newRootCmd builds the command tree
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "clixows",
		Short: "Command-line client for the xAPI WebSocket interface",
		Long: `clixows talks to Cisco collaboration devices over the xAPI
JSON-RPC WebSocket interface.

The host is a hostname or a URL (e.g. ws://example.codec/ws). Paths are given
as separate words or with "/" separators; an empty segment ("//") matches any
depth.

Usage examples:

  clixows --host ws://example.codec/ws get Status SystemUnit Uptime
  clixows --host example.codec set Configuration Audio Ultrasound MaxVolume 70
  clixows --host example.codec command Phonebook Search Limit=1 Offset=0
  clixows --host example.codec feedback -c '**'`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.resolve(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.host, "host", "", "device hostname or WebSocket URL (env "+EnvHost+")")
	pf.StringVarP(&a.flags.username, "username", "u", "admin", "username (env "+EnvUsername+")")
	pf.StringVarP(&a.flags.password, "password", "p", "", "password (env "+EnvPassword+")")
	pf.StringVar(&a.flags.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.flags.logLevel, "log-level", "warn", "log level: debug|info|warn|error|none")
	pf.DurationVar(&a.flags.timeout, "timeout", 30*time.Second, "timeout of each call")
	pf.BoolVar(&a.flags.verifyCertificate, "verify-certificate", false, "verify the device TLS certificate")

	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.AddCommand(
		newGetCmd(a),
		newQueryCmd(a),
		newSetCmd(a),
		newCommandCmd(a),
		newFeedbackCmd(a),
		newDemoCmd(a),
		newShellCmd(a),
	)
	return root
}

// resolve merges defaults, config file, environment and explicit flags in
// that order of precedence
func (a *app) resolve(cmd *cobra.Command) error {
	cfg := defaultConfig()
	if a.flags.configPath != "" {
		fileCfg, err := loadConfig(a.flags.configPath)
		if err != nil {
			return err
		}
		cfg = cfg.merge(fileCfg)
	}
	cfg = cfg.merge(fromEnv(a.getenv))

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = a.flags.host
	}
	if flags.Changed("username") {
		cfg.Username = a.flags.username
	}
	if flags.Changed("password") {
		cfg.Password = a.flags.password
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.flags.timeout
	}
	if flags.Changed("verify-certificate") {
		cfg.VerifyCertificate = a.flags.verifyCertificate
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", cfg.Timeout)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// newClient creates a client from the resolved settings
func (a *app) newClient() (*xows.Client, error) {
	if a.cfg.Host == "" && a.dialer == nil {
		return nil, fmt.Errorf("host is required (--host or %s)", EnvHost)
	}
	opts := []func(*xows.Client){
		xows.Username(a.cfg.Username),
		xows.Password(a.cfg.Password),
		xows.VerifyCertificate(a.cfg.VerifyCertificate),
		xows.OperationTimeout(a.cfg.Timeout),
		xows.WithLogger(a.logger),
	}
	if a.dialer != nil {
		opts = append(opts, xows.WithDialer(a.dialer))
	}
	return xows.NewClient(a.cfg.Host, opts...)
}

// withClient runs fn with a connected client and closes it afterwards
func (a *app) withClient(ctx context.Context, fn func(ctx context.Context, c *xows.Client) error) error {
	client, err := a.newClient()
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck // close errors do not change the outcome
	if err := client.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, client)
}
