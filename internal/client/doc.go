// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client talks to a rigchat server and keeps a rendered transcript
// consistent while a reply streams in.
//
// A streaming send reads two channels at once: the relay's event stream,
// which is fast but can drop frames, and a poll of the stored conversation,
// which is slow but authoritative. Transcript merges both so the rendered
// reply never gets shorter, and rolls back to the pre-send state when the
// send fails or is cancelled.
//
// # Key Types
//
//   - Client: HTTP client for the conversation, model and chat endpoints
//   - Transcript: the rendered conversation, safe for concurrent updates
//   - Canceller: one cancellation token per send
//   - Result: how a send ended and what to restore
//
// # Usage
//
//	c := client.New(client.DefaultConfig())
//	t := client.NewTranscript(nil, func(conv *model.Conversation) { redraw(conv) })
//	cc := client.NewCanceller()
//	res, err := c.Send(cc.Start(ctx), model.SendRequest{Message: "hi"}, t)
//	defer cc.Clear()
package client
