// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package xows provides a client for the xAPI of Cisco collaboration
// endpoints over WebSocket (JSON-RPC 2.0).
//
// One Client owns one Session, a persistent WebSocket on which many
// goroutines issue calls concurrently. The session correlates responses with
// calls, routes feedback notifications to subscriptions and never
// reconnects: when the connection is lost, pending and future calls fail
// with ErrConnectionClosed.
//
// # Quick Start
//
//	client, err := xows.NewClient("10.0.0.1",
//	    xows.Username("admin"),
//	    xows.Password("secret"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ctx := context.Background()
//	res, err := client.Get(ctx, xows.Path{"Status", "Audio", "Volume"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Volume:", res.Value)
//
// # Commands and Arguments
//
// Use the Body builder for command arguments:
//
//	args := xows.Body{}.
//	    Arg("Number", "user@example.com").
//	    Arg("Protocol", "Sip")
//	res, err = client.Command(ctx, xows.Path{"Dial"}, args)
//
// # Feedback
//
// Subscriptions take a Pattern where "*" matches one segment and "**" any
// number of segments. Each subscription's handler runs on its own goroutine
// in event order:
//
//	id, err := client.Subscribe(ctx, xows.Pattern{"Status", "Audio", "Volume"},
//	    xows.HandlerFunc(func(ctx context.Context, ev xows.Event) error {
//	        fmt.Println(ev.Path, ev.Value)
//	        return nil
//	    }),
//	    xows.EmitCurrentValue())
//	...
//	client.Wait(ctx) // until the connection closes
//
// # Error Handling
//
// Device errors are *ProtocolError values comparable with errors.Is against
// sentinels such as ErrPermissionDenied. Handshake failures are
// *ConnectError; transient ones (rate limit, proxy error during reboot) are
// retried with exponential backoff before the first call. Calls are never
// retried.
//
// # References
//
//   - xAPI over WebSocket: https://roomos.cisco.com/doc/TechDocs/xAPI
//   - gjson: https://github.com/tidwall/gjson
//   - sjson: https://github.com/tidwall/sjson
//   - gorilla/websocket: https://github.com/gorilla/websocket
package xows
