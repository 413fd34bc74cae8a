// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// export.go - The "rigchat export" command.
//
//	rigchat export ID                     Markdown to stdout
//	rigchat export ID -f json -o conv.json
//	rigchat export ID -o ~/notes/         Named after the title, in a directory
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jeranaias/rigchat/internal/export"
)

// HandleExport writes a conversation as Markdown or JSON.
func HandleExport(ctx context.Context, env *Env, args Args) error {
	id, err := resolveID(ctx, env, "export", args)
	if err != nil {
		return err
	}
	exporter, err := export.ForFormat(args.Format, &export.Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		IncludePartial:    args.Partial,
	})
	if err != nil {
		return errUsage("export", err.Error(), "rigchat export ID --format json")
	}

	conv, err := env.Client.GetConversation(ctx, id)
	if err != nil {
		return wrapCommand("export", "load conversation", err)
	}

	if args.Output == "" || args.Output == "-" {
		content, err := exporter.Export(conv)
		if err != nil {
			return wrapCommand("export", "export conversation", err)
		}
		_, err = env.Stdout.Write(content)
		return err
	}

	path := args.Output
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		path, err = export.ToFile(conv, exporter, path)
	} else {
		var content []byte
		if content, err = exporter.Export(conv); err == nil {
			err = export.WriteFile(path, content)
		}
	}
	if err != nil {
		return wrapCommand("export", "write "+args.Output, err)
	}

	if args.JSON {
		return writeJSON(env.Stdout, map[string]any{"success": true, "path": path, "mime_type": exporter.MimeType()})
	}
	fmt.Fprintf(env.Stdout, "%s %s\n", successStyle.Render("Exported to"), path)
	return nil
}
