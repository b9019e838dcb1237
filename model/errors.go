package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure a data access call can produce.
type ErrorKind string

// Error kinds. Each operation's error path yields exactly one of these.
const (
	// KindTransport means no response was received: the server was unreachable,
	// the connection dropped, or the call timed out.
	KindTransport ErrorKind = "TRANSPORT_ERROR"
	// KindServer means the server answered with a non-success status or an
	// explicit rejection.
	KindServer ErrorKind = "SERVER_ERROR"
	// KindProtocol means a response arrived but matched no recognized shape.
	KindProtocol ErrorKind = "PROTOCOL_ERROR"
	// KindValidation means the request was malformed and never left the process.
	KindValidation ErrorKind = "VALIDATION_ERROR"
)

// Field-level validation codes.
const (
	CodeRequired     = "REQUIRED"
	CodeOutOfRange   = "OUT_OF_RANGE"
	CodeInvalid      = "INVALID"
	CodeDuplicate    = "DUPLICATE"
	CodeUnknown      = "UNKNOWN_FIELD"
	CodeNotAllowed   = "NOT_ALLOWED"
	CodeTypeMismatch = "TYPE_MISMATCH"
)

// maxPayloadExcerpt bounds how much of a raw response is kept on an error.
const maxPayloadExcerpt = 4096

// Error is the single error type returned by the query model and the data
// access client. It implements the error interface.
type Error struct {
	Kind    ErrorKind    `json:"kind"`
	Message string       `json:"message"`
	Status  int          `json:"status,omitempty"`
	Details []FieldError `json:"details,omitempty"`

	// Payload holds an excerpt of the raw response body for diagnostics.
	Payload []byte `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewTransportError returns a TRANSPORT_ERROR. The cause is retained for
// logging but never rendered in the message.
func NewTransportError(msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: msg, cause: cause}
}

// NewServerError returns a SERVER_ERROR for the given HTTP status.
func NewServerError(status int, msg string, payload []byte) *Error {
	return &Error{Kind: KindServer, Status: status, Message: msg, Payload: excerpt(payload)}
}

// NewProtocolError returns a PROTOCOL_ERROR carrying an excerpt of the payload.
func NewProtocolError(msg string, payload []byte, cause error) *Error {
	return &Error{Kind: KindProtocol, Message: msg, Payload: excerpt(payload), cause: cause}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *Error {
	msg := "One or more fields are invalid"
	if len(details) == 1 {
		msg = details[0].Message
	}
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

// NewFieldValidationError is shorthand for a single-field VALIDATION_ERROR.
func NewFieldValidationError(field, code, msg string) *Error {
	return NewValidationError([]FieldError{{Field: field, Code: code, Message: msg}})
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func excerpt(payload []byte) []byte {
	if len(payload) <= maxPayloadExcerpt {
		return payload
	}
	out := make([]byte, maxPayloadExcerpt)
	copy(out, payload)
	return out
}
