// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// conversations.go - Conversation and model commands: ls, show, rm,
// rename, models.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/model"
)

// MaxTitleWidth is the title column width of "rigchat ls".
const MaxTitleWidth = 40

// HandleList prints conversation summaries, most recent first.
func HandleList(ctx context.Context, env *Env, args Args) error {
	list, err := env.Client.ListConversations(ctx)
	if err != nil {
		return wrapCommand("ls", "list conversations", err)
	}
	if args.JSON {
		return writeJSON(env.Stdout, map[string]any{"conversations": list})
	}
	if len(list) == 0 {
		fmt.Fprintln(env.Stdout, mutedStyle.Render("No conversations yet. Start one with `rigchat chat`."))
		return nil
	}

	now := time.Now()
	rows := make([][]string, len(list))
	for i, s := range list {
		rows[i] = []string{
			shortID(s.ID),
			truncateCells(s.Title, MaxTitleWidth),
			s.Model,
			strconv.Itoa(s.MessageCount),
			formatAge(s.UpdatedAt, now),
		}
	}
	writeTable(env.Stdout, []string{"ID", "TITLE", "MODEL", "MSGS", "UPDATED"}, rows)
	return nil
}

// HandleShow prints one conversation.
func HandleShow(ctx context.Context, env *Env, args Args) error {
	id, err := resolveID(ctx, env, "show", args)
	if err != nil {
		return err
	}
	conv, err := env.Client.GetConversation(ctx, id)
	if err != nil {
		return wrapCommand("show", "load conversation", err)
	}
	if args.JSON {
		return writeJSON(env.Stdout, map[string]any{"conversation": conv})
	}

	w := env.Stdout
	fmt.Fprintln(w, headerStyle.Render(conv.Title))
	fmt.Fprintf(w, "%s %s  %s %.1f  %s %t\n",
		labelStyle.Render("model"), conv.Model,
		labelStyle.Render("temperature"), conv.Temperature,
		labelStyle.Render("stream"), conv.Stream)
	fmt.Fprintln(w, mutedStyle.Render(conv.ID))

	for _, msg := range conv.Messages {
		fmt.Fprintln(w)
		if msg.Role == model.RoleUser {
			fmt.Fprintln(w, promptStyle.Render(msg.Role.DisplayName()))
			fmt.Fprintln(w, msg.Content)
			continue
		}
		fmt.Fprintln(w, successStyle.Render(msg.Role.DisplayName()))
		fmt.Fprintln(w, renderMarkdown(msg.Content))
		switch msg.Status {
		case model.StatusIncomplete:
			fmt.Fprintln(w, warningStyle.Render("[incomplete]"))
		case model.StatusStreaming:
			fmt.Fprintln(w, warningStyle.Render("[generating]"))
		}
	}
	return nil
}

// HandleDelete deletes a conversation. --confirm is required.
func HandleDelete(ctx context.Context, env *Env, args Args) error {
	id, err := resolveID(ctx, env, "rm", args)
	if err != nil {
		return err
	}
	if !args.Confirm {
		return errUsage("rm", "deleting a conversation requires --confirm", "rigchat rm "+id+" --confirm")
	}
	if err := env.Client.DeleteConversation(ctx, id); err != nil {
		return wrapCommand("rm", "delete conversation", err)
	}
	if args.JSON {
		return writeJSON(env.Stdout, map[string]any{"success": true, "id": id})
	}
	fmt.Fprintf(env.Stdout, "%s %s\n", successStyle.Render("Deleted"), id)
	return nil
}

// HandleRename sets a conversation's title.
func HandleRename(ctx context.Context, env *Env, args Args) error {
	if len(args.Positional) < 2 {
		return errUsage("rename", "conversation id and title are required", `rigchat rename ID "new title"`)
	}
	id, err := expandID(ctx, env, "rename", args.Positional[0])
	if err != nil {
		return err
	}
	title := strings.Join(args.Positional[1:], " ")

	conv, err := env.Client.UpdateConversation(ctx, id, model.ConversationPatch{Title: model.String(title)})
	if err != nil {
		return wrapCommand("rename", "update conversation", err)
	}
	if args.JSON {
		return writeJSON(env.Stdout, map[string]any{"conversation": conv.Summary()})
	}
	fmt.Fprintf(env.Stdout, "%s %s -> %q\n", successStyle.Render("Renamed"), shortID(conv.ID), conv.Title)
	return nil
}

// HandleModels lists the models the backend can serve.
func HandleModels(ctx context.Context, env *Env, args Args) error {
	models, err := env.Client.ListModels(ctx)
	if err != nil {
		return wrapCommand("models", "list models", err)
	}
	if args.JSON {
		return writeJSON(env.Stdout, map[string]any{"models": models})
	}
	if len(models) == 0 {
		fmt.Fprintln(env.Stdout, mutedStyle.Render("No models installed. Pull one with `ollama pull "+model.DefaultModel+"`."))
		return nil
	}

	now := time.Now()
	rows := make([][]string, len(models))
	for i, m := range models {
		name := m.Name
		if name == env.Config.Client.Model {
			name += " *"
		}
		size := "-"
		if m.Size > 0 {
			size = formatSize(m.Size)
		}
		rows[i] = []string{name, size, formatAge(m.ModifiedAt, now)}
	}
	writeTable(env.Stdout, []string{"NAME", "SIZE", "MODIFIED"}, rows)
	return nil
}

// =============================================================================
// ID RESOLUTION
// =============================================================================

// resolveID returns the single conversation id argument of command.
func resolveID(ctx context.Context, env *Env, command string, args Args) (string, error) {
	if len(args.Positional) != 1 {
		return "", errUsage(command, "one conversation id is required", "rigchat "+command+" ID")
	}
	return expandID(ctx, env, command, args.Positional[0])
}

// expandID accepts a full id or the short prefix "rigchat ls" prints.
func expandID(ctx context.Context, env *Env, command, id string) (string, error) {
	if model.ValidConversationID(id) {
		return id, nil
	}
	list, err := env.Client.ListConversations(ctx)
	if err != nil {
		return "", wrapCommand(command, "list conversations", err)
	}

	var matches []string
	for _, s := range list {
		if strings.HasPrefix(s.ID, id) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", wrapCommand(command, "find conversation", fmt.Errorf("%w: no conversation matches %q", client.ErrNotFound, id))
	default:
		return "", errUsage(command, fmt.Sprintf("%q matches %d conversations", id, len(matches)), "use more of the id")
	}
}
