package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// shape is the tagged result of matching a response payload against the
// layouts an operation accepts.
type shape int

const (
	shapeUnknown shape = iota
	// shapeBare is the inner payload with no wrapper.
	shapeBare
	// shapeEnveloped is {success: true, data: ...}.
	shapeEnveloped
)

func (s shape) String() string {
	switch s {
	case shapeBare:
		return "bare"
	case shapeEnveloped:
		return "enveloped"
	}
	return "unknown"
}

// object is a JSON object with its members left undecoded.
type object map[string]json.RawMessage

// predicate recognizes one payload shape.
type predicate struct {
	shape shape
	match func(object) bool
}

// layout is the ordered set of shapes one operation accepts. The first
// matching predicate wins. Only layouts with rejected set accept a
// {success: false} payload: it becomes a SERVER_ERROR carrying the payload's
// message, or the localized rejected message when it has none. Elsewhere
// {success: false} is an unrecognized payload.
type layout struct {
	shapes   []predicate
	rejected messageKey
}

func (l layout) resolve(obj object) shape {
	for _, p := range l.shapes {
		if p.match(obj) {
			return p.shape
		}
	}
	return shapeUnknown
}

var (
	// The list endpoint answers bare or enveloped. Bare wins when both match.
	listLayout = layout{shapes: []predicate{
		{shapeBare, isBareList},
		{shapeEnveloped, isEnveloped},
	}}

	// Filter options are bare only when no envelope is present.
	optionsLayout = layout{shapes: []predicate{
		{shapeEnveloped, isEnveloped},
		{shapeBare, isBareOptions},
	}}

	// Every other read endpoint is enveloped.
	envelopedLayout = layout{shapes: []predicate{
		{shapeEnveloped, isEnveloped},
	}}

	// Auto-add control acknowledges with success and an optional data member.
	startLayout = layout{shapes: []predicate{{shapeEnveloped, isSuccess}}, rejected: msgStartFailed}
	stopLayout  = layout{shapes: []predicate{{shapeEnveloped, isSuccess}}, rejected: msgStopFailed}
)

func isBareList(obj object) bool {
	return present(obj, "list") && present(obj, "total")
}

func isEnveloped(obj object) bool {
	return isSuccess(obj) && present(obj, "data")
}

func isSuccess(obj object) bool {
	var ok bool
	if err := json.Unmarshal(obj["success"], &ok); err != nil {
		return false
	}
	return ok
}

func isBareOptions(obj object) bool {
	if _, ok := obj["success"]; ok {
		return false
	}
	for _, raw := range obj {
		var values []string
		if err := json.Unmarshal(raw, &values); err != nil || values == nil {
			return false
		}
	}
	return true
}

// isFailure reports whether the payload explicitly says {success: false}.
func isFailure(obj object) bool {
	var ok bool
	if err := json.Unmarshal(obj["success"], &ok); err != nil {
		return false
	}
	return !ok
}

// rejection reports the message of an explicit {success: false} rejection,
// if it carries one.
func rejection(obj object) (string, bool) {
	if !isFailure(obj) {
		return "", false
	}
	for _, key := range []string{"detail", "message"} {
		if msg := stringMember(obj, key); msg != "" {
			return msg, true
		}
	}
	return "", false
}

func present(obj object, key string) bool {
	raw, ok := obj[key]
	return ok && !isNull(raw)
}

func stringMember(obj object, key string) string {
	var s string
	if err := json.Unmarshal(obj[key], &s); err != nil {
		return ""
	}
	return s
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

var errNotObject = errors.New("payload is not a JSON object")

// parseObject decodes the top level of a payload.
func parseObject(payload []byte) (object, error) {
	var obj object
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	return obj, nil
}

// decodeInto decodes an inner payload into T after checking that every
// required member is present and not null.
func decodeInto[T any](raw json.RawMessage, required ...string) (T, error) {
	var out T
	if len(required) > 0 {
		obj, err := parseObject(raw)
		if err != nil {
			return out, err
		}
		for _, key := range required {
			if !present(obj, key) {
				return out, fmt.Errorf("missing member %q", key)
			}
		}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
