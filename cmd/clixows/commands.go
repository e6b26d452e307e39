// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/netascode/go-xows"
	"github.com/spf13/cobra"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH...",
		Short: "Get data from a config/status path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, c *xows.Client) error {
				return runGet(ctx, c, cmd.OutOrStdout(), args)
			})
		},
	}
}

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query PATTERN...",
		Short: "Query config/status documents, '*' and '**' are wildcards",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, c *xows.Client) error {
				return runQuery(ctx, c, cmd.OutOrStdout(), args)
			})
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set PATH... VALUE",
		Short: "Set a single configuration",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, c *xows.Client) error {
				return runSet(ctx, c, cmd.OutOrStdout(), args)
			})
		},
	}
}

func newCommandCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "command PATH... [KEY=VALUE...]",
		Short: "Run a command, e.g. command Phonebook Search Limit=1",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, c *xows.Client) error {
				return runCommand(ctx, c, cmd.OutOrStdout(), args)
			})
		},
	}
}

func newFeedbackCmd(a *app) *cobra.Command {
	var currentValue bool
	cmd := &cobra.Command{
		Use:   "feedback [PATTERN...]",
		Short: "Listen for feedback on a query (default '**')",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, c *xows.Client) error {
				out := &syncWriter{w: cmd.OutOrStdout()}
				id, err := subscribePrinter(ctx, c, out, args, currentValue)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Subscription Id: %d\n", id)
				err = c.Wait(ctx)
				if ctx.Err() != nil {
					// Interrupted by the user
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&currentValue, "current-value", "c", false, "print the current value first")
	return cmd
}

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a quick demo of gets, sets, commands and feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, c *xows.Client) error {
				return runDemo(ctx, c, &syncWriter{w: cmd.OutOrStdout()})
			})
		},
	}
}

func runGet(ctx context.Context, c *xows.Client, w io.Writer, args []string) error {
	res, err := c.Get(ctx, xows.ParsePath(args...))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, res.PrettyJSON())
	return nil
}

func runQuery(ctx context.Context, c *xows.Client, w io.Writer, args []string) error {
	res, err := c.Query(ctx, xows.ParsePattern(args...))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, res.PrettyJSON())
	return nil
}

func runSet(ctx context.Context, c *xows.Client, w io.Writer, args []string) error {
	path, value, err := parseSetArgs(args)
	if err != nil {
		return err
	}
	res, err := c.Set(ctx, path, value)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, res.PrettyJSON())
	return nil
}

func runCommand(ctx context.Context, c *xows.Client, w io.Writer, args []string) error {
	path, body, err := parseCommandArgs(args)
	if err != nil {
		return err
	}
	res, err := c.Command(ctx, path, body)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, res.PrettyJSON())
	return nil
}

// subscribePrinter subscribes to the pattern and prints one compact JSON
// line per event
func subscribePrinter(ctx context.Context, c *xows.Client, w io.Writer, args []string, currentValue bool) (xows.SubscriptionID, error) {
	pattern := xows.ParsePattern(args...)
	if len(pattern) == 0 {
		pattern = xows.Pattern{xows.WildcardAny}
	}
	var mods []func(*xows.Req)
	if currentValue {
		mods = append(mods, xows.EmitCurrentValue())
	}
	handler := xows.HandlerFunc(func(_ context.Context, ev xows.Event) error {
		_, err := fmt.Fprintln(w, ev.Payload.String())
		return err
	})
	return c.Subscribe(ctx, pattern, handler, mods...)
}

// runDemo exercises the main operations against a live device
func runDemo(ctx context.Context, c *xows.Client, w io.Writer) error {
	name, err := c.Get(ctx, xows.Path{"Configuration", "SystemUnit", "Name"})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Get SystemUnit Name:", name.Value)

	ultrasound := xows.Pattern{"Configuration", "Audio", "Ultrasound"}
	id, err := c.Subscribe(ctx, ultrasound, xows.HandlerFunc(func(_ context.Context, ev xows.Event) error {
		fmt.Fprintf(w, "Ultrasound change, Id = %d: %s\n", ev.SubscriptionID, ev.Payload)
		return nil
	}), xows.EmitCurrentValue())
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Subscribe ultrasound: Id =", id)

	maxVolume := xows.Path{"Configuration", "Audio", "Ultrasound", "MaxVolume"}
	for i, v := range []int{69, 70} {
		res, err := c.Set(ctx, maxVolume, v)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Change Ultrasound (%d): %s\n", i+1, res.JSON())
	}

	res, err := c.Command(ctx, xows.Path{"Phonebook", "Search"}, xows.Body{}.Arg("Limit", 1))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Phonebook Search Command:", res.JSON())

	fmt.Fprintln(w, "Bulk processing...")
	results := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			args := xows.Body{}.Arg("Url", "http://example.com/").Arg("body", strconv.Itoa(n))
			res, err := c.Command(ctx, xows.Path{"HttpClient", "Post"}, args)
			if err != nil {
				var perr *xows.ProtocolError
				if !errors.As(err, &perr) {
					results <- "error: " + err.Error()
					return
				}
				results <- perr.DetailedError()
				return
			}
			results <- res.JSON()
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	// Printed in completion order
	for r := range results {
		fmt.Fprintln(w, r)
	}

	return c.Unsubscribe(ctx, id)
}

// syncWriter serializes writes from feedback handlers and callers
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
