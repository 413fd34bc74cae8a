// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// settings.go - The "rigchat settings" command.
//
//	rigchat settings                      Show the effective configuration
//	rigchat settings get KEY              Show one value
//	rigchat settings set KEY VALUE        Persist a value to the config file
//	rigchat settings keys                 List every key
//	rigchat settings path                 Show the config file location
//
// Client preferences (client.model, client.temperature, client.stream)
// apply to new conversations; existing conversations keep their own.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/rigchat/internal/config"
)

const settingsUsage = "rigchat settings [show|get KEY|set KEY VALUE|keys|path]"

// HandleSettings shows or changes configuration.
func HandleSettings(ctx context.Context, env *Env, args Args) error {
	sub := "show"
	if len(args.Positional) > 0 {
		sub = strings.ToLower(args.Positional[0])
	}
	rest := args.Positional[min(1, len(args.Positional)):]

	switch sub {
	case "show":
		if args.JSON {
			return writeJSON(env.Stdout, settingsMap(env.Config))
		}
		fmt.Fprintln(env.Stdout, mutedStyle.Render("# "+env.ConfigPath))
		fmt.Fprint(env.Stdout, env.Config.String())
		return nil

	case "get":
		if len(rest) != 1 {
			return errUsage("settings", "get takes one key", settingsUsage)
		}
		value, err := env.Config.Get(rest[0])
		if err != nil {
			return wrapCommand("settings", "get", err)
		}
		if args.JSON {
			return writeJSON(env.Stdout, map[string]any{rest[0]: value})
		}
		fmt.Fprintln(env.Stdout, formatSetting(value))
		return nil

	case "set":
		if len(rest) < 2 {
			return errUsage("settings", "set takes a key and a value", "rigchat settings set client.stream false")
		}
		key, value := rest[0], strings.Join(rest[1:], " ")
		cfg, err := config.SaveSettings(env.ConfigPath, key, value)
		if err != nil {
			return wrapCommand("settings", "set "+key, err)
		}
		saved, _ := cfg.Get(key)
		if args.JSON {
			return writeJSON(env.Stdout, map[string]any{"success": true, key: saved})
		}
		fmt.Fprintf(env.Stdout, "%s %s = %s\n", successStyle.Render("Saved"), key, formatSetting(saved))
		return nil

	case "keys":
		for _, key := range config.Keys() {
			fmt.Fprintln(env.Stdout, key)
		}
		return nil

	case "path":
		fmt.Fprintln(env.Stdout, env.ConfigPath)
		return nil

	default:
		return errUsage("settings", "unknown subcommand "+sub, settingsUsage)
	}
}

// settingsMap flattens cfg into key/value pairs with credentials redacted.
func settingsMap(cfg *config.Config) map[string]any {
	out := make(map[string]any)
	for _, key := range config.Keys() {
		if value, err := cfg.Get(key); err == nil {
			out[key] = value
		}
	}
	if cfg.Storage.URL != "" {
		out["storage.url"] = "[REDACTED]"
	}
	return out
}

func formatSetting(v any) string {
	if items, ok := v.([]string); ok {
		return strings.Join(items, ",")
	}
	return fmt.Sprint(v)
}
