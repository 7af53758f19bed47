package tools

import (
	"encoding/json"
	"errors"

	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
)

// Result is the terminal outcome of one invocation. Exactly one of Value and
// the error fields is populated; every request produces a Result, including
// killed engine processes.
type Result struct {
	// Value is the engine's structured payload on success.
	Value map[string]interface{}
	// Code and Message describe the failure kind when Value is nil.
	Code    string
	Message string
	// Details carries diagnostics (captured stderr, raw output) on failure,
	// or in debug mode.
	Details map[string]interface{}
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Code == ""
}

// Success builds a successful result around the engine's payload.
func Success(value map[string]interface{}) Result {
	if value == nil {
		value = map[string]interface{}{}
	}
	if _, ok := value["status"]; !ok {
		value["status"] = "success"
	}
	return Result{Value: value}
}

// Failure builds an error result from err, classifying it by its code.
func Failure(err error, details map[string]interface{}) Result {
	res := Result{
		Code:    apperrors.CodeOf(err),
		Details: details,
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		res.Message = appErr.Message
	} else if err != nil {
		res.Message = err.Error()
	} else {
		res.Message = "unknown error"
	}
	return res
}

// ToMap flattens the result into the wire shape: the engine payload on
// success, or a status/code/message object on failure.
func (r Result) ToMap() map[string]interface{} {
	if r.OK() {
		return r.Value
	}
	out := map[string]interface{}{
		"status":  "error",
		"code":    r.Code,
		"message": r.Message,
	}
	if len(r.Details) > 0 {
		out["details"] = r.Details
	}
	return out
}

// JSON renders the wire shape as pretty-printed JSON.
func (r Result) JSON() string {
	data, err := json.MarshalIndent(r.ToMap(), "", "  ")
	if err != nil {
		// The map came from json.Unmarshal or literals, so this is
		// unreachable in practice.
		return `{"status":"error","code":"` + apperrors.ErrCodeInternal + `","message":"result serialization failed"}`
	}
	return string(data)
}
