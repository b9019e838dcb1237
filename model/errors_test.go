package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	e := &Error{Kind: KindServer, Message: "db down"}
	want := "SERVER_ERROR: db down"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_implements_error(t *testing.T) {
	var _ error = (*Error)(nil)
}

func TestNewTransportError_hidesCause(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	e := NewTransportError("server unreachable", cause)
	if e.Kind != KindTransport {
		t.Errorf("Kind = %q, want %q", e.Kind, KindTransport)
	}
	if strings.Contains(e.Error(), "dial tcp") {
		t.Errorf("Error() leaks cause: %q", e.Error())
	}
	if !errors.Is(e, cause) {
		t.Error("errors.Is(e, cause) = false, want true")
	}
}

func TestNewServerError(t *testing.T) {
	e := NewServerError(500, "db down", []byte(`{"detail":"db down"}`))
	if e.Kind != KindServer {
		t.Errorf("Kind = %q, want %q", e.Kind, KindServer)
	}
	if e.Status != 500 {
		t.Errorf("Status = %d, want 500", e.Status)
	}
	if e.Message != "db down" {
		t.Errorf("Message = %q, want %q", e.Message, "db down")
	}
}

func TestNewProtocolError_truncatesPayload(t *testing.T) {
	big := []byte(strings.Repeat("x", maxPayloadExcerpt*2))
	e := NewProtocolError("unrecognized response", big, nil)
	if len(e.Payload) != maxPayloadExcerpt {
		t.Errorf("len(Payload) = %d, want %d", len(e.Payload), maxPayloadExcerpt)
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "page", Code: CodeOutOfRange, Message: "page must be >= 1"},
	}
	e := NewValidationError(details)
	if e.Kind != KindValidation {
		t.Errorf("Kind = %q, want %q", e.Kind, KindValidation)
	}
	if e.Message != "page must be >= 1" {
		t.Errorf("Message = %q", e.Message)
	}
	if len(e.Details) != 1 || e.Details[0].Field != "page" {
		t.Errorf("Details = %+v", e.Details)
	}
}

func TestNewValidationError_multipleDetails(t *testing.T) {
	e := NewValidationError([]FieldError{
		{Field: "page", Code: CodeOutOfRange, Message: "a"},
		{Field: "pageSize", Code: CodeOutOfRange, Message: "b"},
	})
	if e.Message != "One or more fields are invalid" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestKindOf_wrapped(t *testing.T) {
	err := fmt.Errorf("fetch list: %w", NewProtocolError("bad", nil, nil))
	if got := KindOf(err); got != KindProtocol {
		t.Errorf("KindOf = %q, want %q", got, KindProtocol)
	}
	if !IsKind(err, KindProtocol) {
		t.Error("IsKind = false, want true")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf(plain) should be empty")
	}
}
