// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay bridges the inference backend to a client event stream
// while persisting the partial reply as it grows.
//
// A send is split in two phases. Prepare validates the request, claims the
// conversation (one active session per conversation) and durably appends
// the user message. The returned Session then either relays a stream
// (Relay) or waits for a whole reply (Complete).
//
// # Relay protocol
//
//  1. Append an empty assistant placeholder and persist it.
//  2. Emit Started with the conversation id.
//  3. For each fragment, persist the accumulated content with a targeted
//     update and emit the fragment as a Delta.
//  4. On the done fragment, flush, mark the message complete, re-read the
//     conversation and emit Done with it.
//  5. On failure emit Failed. The partial reply stays in the store,
//     marked incomplete.
//
// Persisted content is always a prefix of the final content, and when Done
// is emitted it equals the concatenation of every emitted Delta.
//
// Cancelling the context passed to Relay (for example when the HTTP client
// disconnects) stops the backend read. The session then ends Cancelled and
// its placeholder is marked incomplete.
package relay
