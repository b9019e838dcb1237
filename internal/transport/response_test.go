package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/tableview/internal/dataset"
	"github.com/pitabwire/tableview/internal/mount"
	"github.com/pitabwire/tableview/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteData_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteData(w, model.AutoAddStatus{Running: true})

	var body struct {
		Success bool                `json:"success"`
		Data    model.AutoAddStatus `json:"data"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if !body.Success || !body.Data.Running {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteError_mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"not ready", dataset.ErrNotReady, 503, msgNotReady},
		{"wrapped not ready", fmt.Errorf("list: %w", dataset.ErrNotReady), 503, msgNotReady},
		{"row not found", fmt.Errorf("%w: 7", dataset.ErrRowNotFound), 404, msgRowNotFound},
		{"no instances", mount.ErrNoInstances, 503, msgNoInstances},
		{"unknown table", fmt.Errorf("%w: x", mount.ErrNotFound), 404, msgTableNotFound},
		{"validation", model.NewFieldValidationError("page", model.CodeOutOfRange, "page must be >= 1"), 400, "page must be >= 1"},
		{"server with status", model.NewServerError(http.StatusConflict, "busy", nil), 409, "busy"},
		{"server without status", model.NewServerError(http.StatusOK, "rejected", nil), 500, "rejected"},
		{"plain error", errors.New("boom"), 500, msgInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body ErrorBody
			json.NewDecoder(w.Body).Decode(&body)
			if body.Success {
				t.Error("success = true on an error body")
			}
			if body.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", body.Detail, tt.wantDetail)
			}
		})
	}
}

func TestWriteError_validationDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewValidationError([]model.FieldError{
		{Field: "page", Code: model.CodeOutOfRange, Message: "page must be >= 1"},
		{Field: "pageSize", Code: model.CodeOutOfRange, Message: "pageSize must be >= 1"},
	}))

	var body ErrorBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Kind != model.KindValidation {
		t.Errorf("kind = %q", body.Kind)
	}
	if len(body.Errors) != 2 || body.Errors[1].Field != "pageSize" {
		t.Errorf("errors = %+v", body.Errors)
	}
}

func TestWriteInvalidBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInvalidBody(w, errors.New("unexpected EOF"))

	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var body ErrorBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Detail != msgInvalidBody || body.Message != "unexpected EOF" {
		t.Errorf("body = %+v", body)
	}

	w = httptest.NewRecorder()
	WriteInvalidBody(w, model.NewFieldValidationError("data", model.CodeRequired, "data is required"))
	json.NewDecoder(w.Body).Decode(&body)
	if w.Code != 400 || body.Detail != "data is required" {
		t.Errorf("status = %d, body = %+v", w.Code, body)
	}
}

func TestDecodeRows(t *testing.T) {
	rows, err := decodeRows(json.RawMessage(`{"name":"a","age":3}`))
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %v, err = %v", rows, err)
	}
	if _, ok := rows[0]["age"].(json.Number); !ok {
		t.Errorf("age = %T, want json.Number", rows[0]["age"])
	}

	rows, err = decodeRows(json.RawMessage(`[{"name":"a"},{"name":"b"}]`))
	if err != nil || len(rows) != 2 {
		t.Fatalf("rows = %v, err = %v", rows, err)
	}

	for _, raw := range []string{``, `null`, `"x"`, `[1,2]`} {
		if _, err := decodeRows(json.RawMessage(raw)); !model.IsKind(err, model.KindValidation) {
			t.Errorf("decodeRows(%q) err = %v, want validation", raw, err)
		}
	}
}
