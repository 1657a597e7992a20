package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/luciancaetano/tickbridge"
)

// Standard JSON-RPC 2.0 error codes, plus the server-defined ones.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
	CodeRateLimited    = -32001
)

// NoID marks a reply whose request id could not be recovered. Any negative id
// is encoded as null.
const NoID int64 = -1

// fallbackError is sent if an envelope ever fails to marshal.
const fallbackError = `{"jsonrpc":"2.0","error":{"code":-32000,"message":"internal: json marshal failed"},"id":null}`

// ErrorObject is the "error" member of an error envelope.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type resultEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	Result  string `json:"result"`
	ID      int64  `json:"id"`
}

type errorEnvelope struct {
	JSONRPC string      `json:"jsonrpc"`
	Error   ErrorObject `json:"error"`
	ID      *int64      `json:"id"`
}

type requestEnvelope struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int64    `json:"id"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

// ResponseEnvelope is the decoded form of either envelope, used by clients.
type ResponseEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      *int64          `json:"id"`
}

// Codec builds JSON-RPC envelopes. Result text is transcoded from the
// configured source encoding to UTF-8 before it is embedded.
//
// A Codec is safe for concurrent use. The zero value treats input as UTF-8.
type Codec struct {
	enc  encoding.Encoding
	name string
}

// NewCodec returns a codec for host output in the named encoding. The name is
// a WHATWG label such as "windows-1252" or "shift_jis"; "" and "utf-8" mean
// the host already emits UTF-8.
func NewCodec(sourceEncoding string) (*Codec, error) {
	label := strings.ToLower(strings.TrimSpace(sourceEncoding))
	if label == "" || label == "utf-8" || label == "utf8" {
		return &Codec{name: "utf-8"}, nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown source encoding %q: %w", sourceEncoding, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = label
	}
	if name == "utf-8" {
		return &Codec{name: name}, nil
	}
	return &Codec{enc: enc, name: name}, nil
}

// SourceEncoding returns the canonical name of the source encoding.
func (c *Codec) SourceEncoding() string {
	if c == nil || c.name == "" {
		return "utf-8"
	}
	return c.name
}

// Transcode converts s to valid UTF-8.
func (c *Codec) Transcode(s string) string {
	if c != nil && c.enc != nil {
		if out, err := c.enc.NewDecoder().String(s); err == nil {
			return out
		}
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// EncodeResult builds {"jsonrpc":"2.0","result":<result>,"id":<id>}.
func (c *Codec) EncodeResult(id int64, result string) []byte {
	return marshal(resultEnvelope{
		JSONRPC: tickbridge.JSONRPCVersion,
		Result:  c.Transcode(result),
		ID:      id,
	})
}

// EncodeError builds {"jsonrpc":"2.0","error":{"code":..,"message":..},"id":..}.
// A negative id is encoded as null.
func (c *Codec) EncodeError(id int64, code int, message string) []byte {
	env := errorEnvelope{
		JSONRPC: tickbridge.JSONRPCVersion,
		Error: ErrorObject{
			Code:    code,
			Message: strings.ToValidUTF8(message, "\uFFFD"),
		},
	}
	if id >= 0 {
		env.ID = &id
	}
	return marshal(env)
}

// EncodeFailure renders err as an error envelope with a null id. A *Error
// keeps its kind's code; anything else is a server error.
func (c *Codec) EncodeFailure(err error) []byte {
	if rerr, ok := AsError(err); ok {
		return c.EncodeError(NoID, rerr.Code(), rerr.Message)
	}
	return c.EncodeError(NoID, CodeServerError, err.Error())
}

var defaultCodec = &Codec{name: "utf-8"}

// EncodeResult encodes a result envelope treating result as UTF-8.
func EncodeResult(id int64, result string) []byte {
	return defaultCodec.EncodeResult(id, result)
}

// EncodeError encodes an error envelope.
func EncodeError(id int64, code int, message string) []byte {
	return defaultCodec.EncodeError(id, code, message)
}

// EncodeRequest builds a request envelope. nil params are sent as [].
func EncodeRequest(id int64, method string, params []string) []byte {
	if params == nil {
		params = []string{}
	}
	return marshal(requestEnvelope{
		JSONRPC: tickbridge.JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
}

// DecodeResponse parses a reply envelope.
func DecodeResponse(data []byte) (*ResponseEnvelope, error) {
	var env ResponseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Error == nil && env.Result == nil {
		return nil, fmt.Errorf("decode response: neither result nor error present")
	}
	return &env, nil
}

func marshal(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return []byte(fallbackError)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}
