// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama API.
//
// It is the inference backend behind the relay: a streaming chat call
// exposed as a pull iterator of fragments, a bounded non-streaming chat
// call, model listing and a liveness probe.
//
// # Key Types
//
//   - Client: HTTP client for the Ollama API, safe for concurrent use
//   - Stream: lazy, finite, non-restartable sequence of Fragments
//   - ClientError: typed error, compare with errors.Is against the sentinels
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	stream, err := client.ChatStream(ctx, ollama.ChatRequest{
//	    Model:    "gemma3:12b",
//	    Messages: []ollama.Message{{Role: "user", Content: "Hello"}},
//	    Options:  &ollama.Options{Temperature: 0.7},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    frag, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(frag.Content)
//	}
//
// Lines of the chunked response that are not valid JSON are skipped.
// A body that ends before the done line yields ErrStreamTruncated.
package ollama
