// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the interactive chat screen of the rigchat TUI.

The chat package implements a terminal chat client using the Bubble Tea
framework. It talks to a rigchat server through client.Client and shows a
client.Transcript, so what is drawn is always the reconciled view of the
pushed stream and the polled store.

# Key Components

## Model (model.go)

The Model struct is the Bubble Tea model. It holds the transcript, the
send's Canceller, a textarea for input, a viewport for the conversation and
a spinner shown while a reply is generated.

## Update Loop (update.go)

  - Enter sends the input; the editor is cleared while the send runs
  - Esc cancels a running send; the input is put back
  - Ctrl+N starts a new conversation
  - A failed send shows its error and puts the input back

## Rendering (view.go, streaming.go)

The transcript's render callback writes into a RenderBuffer. The Update loop
draws the latest render at most 30 times per second, so a fast model does
not flood the terminal. Assistant messages are rendered as markdown with
glamour; incomplete replies are marked.

# Usage

	err := chat.Run(chat.Options{
	    Client: client.New(client.DefaultConfig()),
	    Model:  "llama3",
	    Stream: true,
	})
*/
package chat
