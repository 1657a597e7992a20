// Package rpc decodes JSON-RPC 2.0 requests and builds the result and error
// envelopes sent back to clients. It is the only place that knows the wire
// format.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/luciancaetano/tickbridge"
)

// Kind classifies why a frame could not be turned into a Request.
type Kind int

const (
	// KindDecode means the frame is not JSON.
	KindDecode Kind = iota + 1
	// KindValidation means the frame is JSON but not a well-formed request.
	KindValidation
	// KindInternal covers every other failure while handling the frame.
	KindInternal
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindValidation:
		return "validation"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Code returns the JSON-RPC error code reported for the kind.
func (k Kind) Code() int {
	switch k {
	case KindDecode:
		return CodeParseError
	case KindValidation:
		return CodeInvalidRequest
	default:
		return CodeServerError
	}
}

// Error is a request handling failure that has no request id to answer to.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the JSON-RPC error code for the failure.
func (e *Error) Code() int {
	return e.Kind.Code()
}

// AsError reports whether err wraps an *Error and returns it.
func AsError(err error) (*Error, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr, true
	}
	return nil, false
}

// Internal wraps err as a KindInternal failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
}

func invalid(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Request is a decoded JSON-RPC 2.0 request.
type Request struct {
	ID     int64
	Method string
	Params []string
}

// Decode parses a frame payload into a Request.
//
// Failures are always *Error: KindDecode for malformed JSON and KindValidation
// when "jsonrpc", "id", "method" or "params" is missing or mistyped. An
// absent or null "params" decodes as no params.
func Decode(data []byte) (*Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || !json.Valid(data) {
			return nil, &Error{Kind: KindDecode, Message: err.Error(), Err: err}
		}
		return nil, invalid("request must be a JSON object")
	}
	if fields == nil {
		return nil, invalid("request must be a JSON object")
	}

	version, err := stringField(fields, "jsonrpc")
	if err != nil {
		return nil, err
	}
	if version != tickbridge.JSONRPCVersion {
		return nil, invalid("unsupported jsonrpc version %q", version)
	}

	id, err := idField(fields)
	if err != nil {
		return nil, err
	}

	method, err := stringField(fields, "method")
	if err != nil {
		return nil, err
	}

	params, err := paramsField(fields)
	if err != nil {
		return nil, err
	}

	return &Request{ID: id, Method: method, Params: params}, nil
}

func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := present(fields, key)
	if !ok {
		return "", invalid("missing field %q", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid("field %q must be a string", key)
	}
	return s, nil
}

func idField(fields map[string]json.RawMessage) (int64, error) {
	raw, ok := present(fields, "id")
	if !ok {
		return 0, invalid("missing field %q", "id")
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		// Integral numbers written as floats, e.g. 1.0 or 2e3, are accepted.
		f, ferr := strconv.ParseFloat(string(raw), 64)
		if ferr != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, invalid("field %q must be an integer", "id")
		}
		id = int64(f)
	}
	if id < 0 {
		return 0, invalid("field %q must not be negative", "id")
	}
	return id, nil
}

func paramsField(fields map[string]json.RawMessage) ([]string, error) {
	raw, ok := present(fields, "params")
	if !ok {
		return nil, nil
	}
	var params []string
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalid("field %q must be an array of strings", "params")
	}
	return params, nil
}
