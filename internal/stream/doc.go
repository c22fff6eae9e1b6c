// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the streaming response pipeline: reading a
// chunked NDJSON chat response, decoding it into text deltas and delivering
// them in order with cooperative cancellation.
//
// # Key Types
//
//   - Decoder: bytes to newline-delimited frames, UTF-8 boundary safe
//   - Event: one parsed frame (ParseEvent)
//   - Session: one request/response exchange with a four-state lifecycle
//   - TransportError, ReadError, FrameError: failure taxonomy
//
// # Usage
//
//	sess := stream.NewSession(client, stream.Options{Model: "llama3"}, logger)
//	go func() { <-interrupt; sess.Cancel() }()
//	text, err := sess.Start(ctx, messages, func(delta string) {
//	    fmt.Print(delta)
//	})
//
// A cancelled session returns the text received so far with a nil error;
// check State to tell it apart from completion.
package stream
