// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package event defines the relay's event stream: a closed set of event
// types and their text/event-stream framing.
//
// # Events
//
// A relay emits, in order:
//
//	Started{ConversationID}    exactly once, first
//	Delta{Content}             zero or more
//	Done{Conversation}         terminal on success
//	Failed{Message}            terminal on failure
//
// On the wire each event is one frame, "data: <json>\n\n", with the
// payload shapes
//
//	{"conversationId": "..."}
//	{"content": "...", "done": false}
//	{"done": true, "conversation": {...}}
//	{"error": "..."}
//
// # Usage
//
//	w, err := event.NewWriter(rw)
//	w.Send(event.Started{ConversationID: id})
//
//	r := event.NewReader(resp.Body)
//	for {
//	    ev, err := r.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    switch ev := ev.(type) {
//	    case event.Delta:
//	        ...
//	    }
//	}
package event
