// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation and message types shared by the
// relay server, the stores and the client.
//
// # Key Types
//
//   - Conversation: ordered messages plus model, temperature and stream preference
//   - Message: one turn with role, content, timestamp and completion status
//   - MessageStatus: complete, streaming or incomplete
//   - Summary: list projection of a conversation
//
// A conversation is owned by the store. Everything else works on copies
// obtained with Clone.
//
// # Usage
//
//	conv := model.NewConversation(model.DefaultModel, model.DefaultTemperature, true)
//	conv.AppendUserMessage("Why is the sky blue?")
//	idx := conv.AppendPlaceholder()
package model
