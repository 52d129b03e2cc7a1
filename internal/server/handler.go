// Package server implements the WebSocket command bridge between the UI
// shell and the backend.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// errInvalidJSON is returned for command data that does not decode.
var errInvalidJSON = types.Validation("decode", "data", "is not valid JSON")

// DecodeAndValidate decodes JSON and validates the struct.
// Returns true if successful, false if an error response was already sent.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	raw := cmd.Data
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, data); err != nil {
		slog.Debug("invalid command data", "command", cmd.Type, "error", err)
		SendError(send, cmd, errInvalidJSON)
		return false
	}

	if err := util.Validator().Struct(data); err != nil {
		SendValidationErrors(send, cmd, err)
		return false
	}

	return true
}

// HandleCommand decodes, validates, and processes a command on the reader
// goroutine with automatic response handling.
//
// Type parameter T is the request data struct (must have validation tags).
// The process function receives the validated data and returns the response
// data or an error.
func HandleCommand[T any](cmd WSCommand, send chan<- any, process func(*T) (any, error)) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}

	result, err := process(&data)
	if err != nil {
		SendError(send, cmd, err)
		return
	}
	SendSuccess(send, cmd, result)
}

// HandleCommandAsync validates a command synchronously and runs process on
// its own goroutine. Use it for commands that block, such as exports.
func HandleCommandAsync[T any](cmd WSCommand, send chan<- any, process func(*T) (any, error)) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}
	HandleActionAsync(cmd, send, func() (any, error) {
		return process(&data)
	})
}

// HandleActionAsync runs a command action asynchronously with panic recovery.
func HandleActionAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(send, cmd, errors.New("internal error"))
			}
		}()

		result, err := action()
		if err != nil {
			SendError(send, cmd, err)
			return
		}
		SendSuccess(send, cmd, result)
	}()
}

// --- Response helpers ---

// SendSuccess sends a success response for a command.
func SendSuccess(send chan<- any, cmd WSCommand, data any) {
	trySend(send, cmd.Type, types.WSCommandResult{
		Type:    cmd.Type + "_result",
		ID:      cmd.ID,
		Success: true,
		Data:    data,
	})
}

// SendError sends an error response for a command. Only the public message
// of err crosses the bridge.
func SendError(send chan<- any, cmd WSCommand, err error) {
	result := types.WSCommandResult{
		Type:    cmd.Type + "_result",
		ID:      cmd.ID,
		Success: false,
		Error:   types.PublicMessage(err),
	}
	// Failures that carry a diagnostic trail (binaries lookup) return it so
	// the UI can show where it searched.
	if trail := types.TrailOf(err); len(trail) > 0 {
		result.Data = types.BinariesInfo{Trail: trail}
	}
	trySend(send, cmd.Type, result)
}

// SendValidationErrors converts validator errors to our format and sends them.
func SendValidationErrors(send chan<- any, cmd WSCommand, err error) {
	verr := types.NewValidationError()

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			verr.Add(e.Field(), formatValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", "invalid request", nil)
	}

	trySend(send, cmd.Type, types.WSCommandResult{
		Type:    cmd.Type + "_result",
		ID:      cmd.ID,
		Success: false,
		Error:   verr,
	})
}

// trySend attempts to send a message, logging a warning if the channel is full.
func trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("failed to send response: channel full or closed", "type", cmdType)
	}
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "date_folder":
		return "may only contain digits and '-'"
	case "stamp":
		return "may only contain digits and '_'"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
