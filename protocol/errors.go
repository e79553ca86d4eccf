package protocol

import (
	"fmt"

	"github.com/relativeprotocol/zoneclient/model"
)

// Error codes returned by the zone server.
const (
	CodeZoneNotFound        = "zoneDoesNotExist"
	CodeNotJoined           = "notJoined"
	CodeUnknownMember       = "memberDoesNotExist"
	CodeUnknownAccount      = "accountDoesNotExist"
	CodeNotOwner            = "notOwner"
	CodeInsufficientBalance = "insufficientBalance"
	CodeInvalidName         = "invalidName"
	CodeInvalidValue        = "invalidValue"
	CodeInvalidCommand      = "invalidCommand"
	CodeUnavailable         = "unavailable"
)

// CommandError is the structured failure carried by a response frame.
type CommandError struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return "command failed: " + e.Code
	}
	return fmt.Sprintf("command failed: %s: %s", e.Code, e.Message)
}

// ProtocolError reports a malformed frame or a client/server
// desynchronisation. It is fatal to the session that observes it.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Violation builds a ProtocolError from a formatted reason.
func Violation(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports a command rejected locally before it was sent.
type ValidationError = model.ValidationError
