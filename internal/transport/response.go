// Package transport contains the HTTP router, middleware chain, and request
// handlers of the table data API.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/tableview/internal/dataset"
	"github.com/pitabwire/tableview/internal/mount"
	"github.com/pitabwire/tableview/model"
)

// Envelope is the {success, data} body of every successful response except
// list, which is written bare.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ErrorBody is the body of every failed response. Detail carries the
// human-readable reason; Errors lists field problems of a validation failure.
type ErrorBody struct {
	Success bool               `json:"success"`
	Detail  string             `json:"detail"`
	Message string             `json:"message,omitempty"`
	Kind    model.ErrorKind    `json:"kind,omitempty"`
	Errors  []model.FieldError `json:"errors,omitempty"`
}

// Generic error messages. The backend speaks the viewer's default locale.
const (
	msgNotReady      = "数据尚未加载完成，请稍后重试"
	msgRowNotFound   = "未找到对应的记录"
	msgNoInstances   = "没有可用的数据表"
	msgTableNotFound = "未找到对应的数据表"
	msgInvalidBody   = "请求体不是有效的JSON"
	msgInternal      = "服务器内部错误"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteData writes data inside a {success: true} envelope.
func WriteData(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// WriteError maps err to an HTTP status and writes an ErrorBody. Unknown
// errors become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	WriteJSON(w, status, body)
}

func errorResponse(err error) (int, ErrorBody) {
	switch {
	case errors.Is(err, dataset.ErrNotReady):
		return http.StatusServiceUnavailable, ErrorBody{Detail: msgNotReady}
	case errors.Is(err, dataset.ErrRowNotFound):
		return http.StatusNotFound, ErrorBody{Detail: msgRowNotFound, Message: err.Error()}
	case errors.Is(err, mount.ErrNoInstances):
		return http.StatusServiceUnavailable, ErrorBody{Detail: msgNoInstances}
	case errors.Is(err, mount.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Detail: msgTableNotFound, Message: err.Error()}
	}

	var me *model.Error
	if errors.As(err, &me) {
		body := ErrorBody{Detail: me.Message, Kind: me.Kind, Errors: me.Details}
		switch me.Kind {
		case model.KindValidation:
			return http.StatusBadRequest, body
		case model.KindServer:
			if me.Status >= http.StatusBadRequest {
				return me.Status, body
			}
		}
		return http.StatusInternalServerError, body
	}
	return http.StatusInternalServerError, ErrorBody{Detail: msgInternal}
}

// WriteInvalidBody writes a 400 for a body that could not be decoded. A
// decode failure that already carries a validation error keeps its details.
func WriteInvalidBody(w http.ResponseWriter, err error) {
	var me *model.Error
	if errors.As(err, &me) && me.Kind == model.KindValidation {
		WriteError(w, me)
		return
	}
	WriteJSON(w, http.StatusBadRequest, ErrorBody{Detail: msgInvalidBody, Message: err.Error()})
}
