// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/netascode/go-xows"
	"github.com/spf13/cobra"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell on one connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, c *xows.Client) error {
				return runShell(ctx, c, a.in, cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}
}

// shell executes lines against one client
type shell struct {
	client *xows.Client
	out    io.Writer
}

func runShell(ctx context.Context, c *xows.Client, in io.ReadCloser, out, errOut io.Writer) error {
	stdin := readline.NewCancelableStdin(in)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "xows> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		HistoryLimit:    500,
		Stdin:           stdin,
		Stdout:          out,
		Stderr:          errOut,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	defer stdin.Close()

	// Unblock Readline when the device drops the connection
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-c.Session().Done():
		case <-ctx.Done():
		case <-stop:
			return
		}
		stdin.Close()
		rl.Close()
	}()

	sh := &shell{client: c, out: &syncWriter{w: rl.Stdout()}}
	sh.printHelp()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Session().Done():
			return c.Wait(ctx)
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			select {
			case <-c.Session().Done():
				return c.Wait(ctx)
			default:
			}
			// EOF
			return nil
		}

		quit, err := sh.exec(ctx, line)
		if err != nil {
			fmt.Fprintln(rl.Stderr(), "Error:", err)
		}
		if quit {
			return nil
		}
	}
}

// exec runs one shell line and reports whether the shell should exit
func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	words, err := splitLine(strings.TrimSpace(line))
	if err != nil {
		return false, err
	}
	if len(words) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(words[0]), words[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "get", "g":
		return false, requireArgs(args, 1, func() error { return runGet(ctx, s.client, s.out, args) })
	case "query", "q":
		return false, requireArgs(args, 1, func() error { return runQuery(ctx, s.client, s.out, args) })
	case "set":
		return false, runSet(ctx, s.client, s.out, args)
	case "command", "cmd", "x":
		return false, requireArgs(args, 1, func() error { return runCommand(ctx, s.client, s.out, args) })
	case "feedback", "fb":
		current := false
		if len(args) > 0 && (args[0] == "-c" || args[0] == "--current-value") {
			current = true
			args = args[1:]
		}
		id, err := subscribePrinter(ctx, s.client, s.out, args, current)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Subscription Id: %d\n", id)
	case "unsubscribe", "unsub":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: unsubscribe ID")
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid subscription id %q", args[0])
		}
		return false, s.client.Unsubscribe(ctx, xows.SubscriptionID(id))
	case "subscriptions", "subs":
		for _, id := range s.client.Session().Subscriptions() {
			fmt.Fprintln(s.out, id)
		}
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}

func requireArgs(args []string, n int, fn func() error) error {
	if len(args) < n {
		return fmt.Errorf("missing path")
	}
	return fn()
}

func (s *shell) printHelp() {
	fmt.Fprint(s.out, `Commands:
  get PATH...                      read a node
  query PATTERN...                 read all nodes matching a pattern
  set PATH... VALUE                write a configuration
  command PATH... [KEY=VALUE...]   run a command
  feedback [-c] [PATTERN...]       print feedback (default '**')
  unsubscribe ID                   stop a feedback subscription
  subscriptions                    list feedback subscriptions
  quit                             leave the shell
`)
}
