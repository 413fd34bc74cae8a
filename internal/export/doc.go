// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations out as Markdown or JSON.
//
// # Key Types
//
//   - Exporter: Converts a conversation to one format
//   - Options: What to include
//
// # Usage
//
// Export to a writer:
//
//	exp, err := export.ForFormat("markdown", nil)
//	data, err := exp.Export(conv)
//
// Export to a file named after the conversation:
//
//	path, err := export.ToFile(conv, exp, ".")
package export
