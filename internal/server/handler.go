// Package server provides the WebSocket command handling and status fan-out
// for the optional dictation status server.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// DecodeAndValidate decodes JSON and validates the struct.
// Returns true if successful, false if an error response was already sent.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, data); err != nil {
			SendError(send, cmd, fmt.Errorf("invalid JSON: %w", err))
			return false
		}
	}

	if err := util.Validator().Struct(data); err != nil {
		SendValidationErrors(send, cmd, err)
		return false
	}

	return true
}

// HandleCommand decodes, validates, and processes a command with automatic response handling.
// The process function receives the validated data and returns an optional
// result payload or an error.
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

// --- Response helpers ---

// Response is the reply to a command.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// SendSuccess sends a success response for a command.
func SendSuccess(send chan<- any, cmd WSCommand, data any) {
	trySend(send, cmd.Type, Response{Type: cmd.Type + "_result", ID: cmd.ID, Success: true, Data: data})
}

// SendError sends an error response for a command.
func SendError(send chan<- any, cmd WSCommand, err error) {
	trySend(send, cmd.Type, Response{Type: cmd.Type + "_result", ID: cmd.ID, Error: err.Error()})
}

// SendValidationErrors converts validator errors to our format and sends them.
func SendValidationErrors(send chan<- any, cmd WSCommand, err error) {
	verr := NewValidationError()

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			verr.Add(e.Field(), util.ValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}

	trySend(send, cmd.Type, Response{Type: cmd.Type + "_result", ID: cmd.ID, Error: verr})
}

// trySend attempts to send a message, logging a warning if the channel is full.
func trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("failed to send response: channel full", "type", cmdType)
	}
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`   // JSON name of the field (e.g., "threshold")
	Message string `json:"message"` // Human-readable error message
	Value   any    `json:"value"`   // The invalid value that was provided
}

// ValidationError collects multiple field validation errors.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError creates a new empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{Errors: make([]FieldError, 0)}
}

// Add adds a field error to the collection.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{Field: field, Message: message, Value: value})
}
