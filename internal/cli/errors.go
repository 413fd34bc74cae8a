// errors.go - Error types and exit codes for rigchat commands.
//
// Command handlers ALWAYS return errors and never exit themselves; Run
// displays the error and maps it to an exit code.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the server or backend could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitConflictError indicates the conversation is busy
	ExitConflictError = 9
	// ExitCancelled indicates the user cancelled the operation
	ExitCancelled = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports a command used incorrectly.
type UsageError struct {
	Command string
	Reason  string
	Usage   string // Example of valid use (optional)
}

func (e *UsageError) Error() string {
	msg := e.Reason
	if e.Command != "" {
		msg = e.Command + ": " + msg
	}
	if e.Usage != "" {
		msg += "\nUsage: " + e.Usage
	}
	return msg
}

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "rm", "rename")
	Action  string // Action being performed (e.g., "delete conversation")
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// errUsage creates a usage error.
func errUsage(command, reason, usage string) error {
	return &UsageError{Command: command, Reason: reason, Usage: usage}
}

// wrapCommand creates a command error; nil stays nil.
func wrapCommand(command, action string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Action: action, Err: err}
}

// errCancelled is returned when a send was cancelled by the user.
var errCancelled = errors.New("cancelled")

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the exit code for an error.
func GetExitCode(err error) int {
	var usageErr *UsageError
	var validationErrs config.ValidateErrors
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errCancelled):
		return ExitCancelled
	case errors.As(err, &usageErr):
		return ExitUsageError
	case errors.As(err, &validationErrs), errors.Is(err, config.ErrUnknownKey):
		return ExitConfigError
	case errors.Is(err, client.ErrNotFound):
		return ExitNotFoundError
	case errors.Is(err, client.ErrConflict), errors.Is(err, client.ErrSendInProgress):
		return ExitConflictError
	case errors.Is(err, client.ErrServerUnreachable), errors.Is(err, client.ErrUnavailable):
		return ExitNetworkError
	case errors.Is(err, model.ErrEmptyMessage), errors.Is(err, model.ErrInvalidTemperature):
		return ExitUsageError
	default:
		return ExitGeneralError
	}
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError writes err in a consistent format. In JSON mode it writes a
// structured object instead.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		output := map[string]any{
			"error":     err.Error(),
			"success":   false,
			"exit_code": GetExitCode(err),
		}
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			output["command"] = cmdErr.Command
			output["action"] = cmdErr.Action
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(output)
		return
	}

	fmt.Fprintf(w, "%s %s\n", errorStyle.Render("[ERROR]"), err.Error())
}
