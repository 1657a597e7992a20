package rpc

import (
	"encoding/json"
	"testing"
	"unicode/utf8"
)

// TestEncodeResult tests the result envelope format
func TestEncodeResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		id     int64
		result string
		want   string
	}{
		{
			name:   "pong",
			id:     1,
			result: "pong",
			want:   `{"jsonrpc":"2.0","result":"pong","id":1}`,
		},
		{
			name:   "empty result is kept",
			id:     7,
			result: "",
			want:   `{"jsonrpc":"2.0","result":"","id":7}`,
		},
		{
			name:   "zero id",
			id:     0,
			result: "ok",
			want:   `{"jsonrpc":"2.0","result":"ok","id":0}`,
		},
		{
			name:   "html characters are not escaped",
			id:     2,
			result: "a<b>&c",
			want:   `{"jsonrpc":"2.0","result":"a<b>&c","id":2}`,
		},
		{
			name:   "quotes are escaped",
			id:     3,
			result: `say "hi"`,
			want:   `{"jsonrpc":"2.0","result":"say \"hi\"","id":3}`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := string(EncodeResult(tt.id, tt.result))
			if got != tt.want {
				t.Errorf("EncodeResult() = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestEncodeError tests the error envelope format and null id handling
func TestEncodeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      int64
		code    int
		message string
		want    string
	}{
		{
			name:    "method not found keeps id",
			id:      5,
			code:    CodeMethodNotFound,
			message: "Method not found",
			want:    `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":5}`,
		},
		{
			name:    "no id becomes null",
			id:      NoID,
			code:    CodeParseError,
			message: "bad json",
			want:    `{"jsonrpc":"2.0","error":{"code":-32700,"message":"bad json"},"id":null}`,
		},
		{
			name:    "any negative id becomes null",
			id:      -42,
			code:    CodeInvalidRequest,
			message: "nope",
			want:    `{"jsonrpc":"2.0","error":{"code":-32600,"message":"nope"},"id":null}`,
		},
		{
			name:    "zero id is kept",
			id:      0,
			code:    CodeServerError,
			message: "boom",
			want:    `{"jsonrpc":"2.0","error":{"code":-32000,"message":"boom"},"id":0}`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := string(EncodeError(tt.id, tt.code, tt.message))
			if got != tt.want {
				t.Errorf("EncodeError() = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestErrorCodes pins the wire values of the error codes
func TestErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  int
		want int
	}{
		{"parse error", CodeParseError, -32700},
		{"invalid request", CodeInvalidRequest, -32600},
		{"method not found", CodeMethodNotFound, -32601},
		{"invalid params", CodeInvalidParams, -32602},
		{"server error", CodeServerError, -32000},
		{"rate limited", CodeRateLimited, -32001},
	}

	for _, tt := range tests {
		tt := tt
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

// TestCodecTranscode tests conversion of host output to UTF-8
func TestCodecTranscode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		encoding string
		input    string
		want     string
	}{
		{
			name:     "utf-8 passthrough",
			encoding: "",
			input:    "café",
			want:     "café",
		},
		{
			name:     "windows-1252 e acute",
			encoding: "windows-1252",
			input:    "caf\xe9",
			want:     "café",
		},
		{
			name:     "windows-1252 euro sign",
			encoding: "cp1252",
			input:    "\x80 5",
			want:     "€ 5",
		},
		{
			name:     "latin1 label",
			encoding: "latin1",
			input:    "na\xefve",
			want:     "naïve",
		},
		{
			name:     "invalid utf-8 is replaced",
			encoding: "utf-8",
			input:    "ok\xffok",
			want:     "ok�ok",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			codec, err := NewCodec(tt.encoding)
			if err != nil {
				t.Fatalf("NewCodec(%q) error = %v", tt.encoding, err)
			}

			if got := codec.Transcode(tt.input); got != tt.want {
				t.Errorf("Transcode() = %q, want %q", got, tt.want)
			}

			data := codec.EncodeResult(1, tt.input)
			if !utf8.Valid(data) || !json.Valid(data) {
				t.Fatalf("EncodeResult() produced invalid output: %q", data)
			}

			var env struct {
				Result string `json:"result"`
			}
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if env.Result != tt.want {
				t.Errorf("result = %q, want %q", env.Result, tt.want)
			}
		})
	}
}

func TestNewCodecUnknownEncoding(t *testing.T) {
	t.Parallel()

	if _, err := NewCodec("klingon-8"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestCodecSourceEncoding(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec("CP1252")
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	if got := codec.SourceEncoding(); got != "windows-1252" {
		t.Errorf("SourceEncoding() = %q, want windows-1252", got)
	}

	var zero *Codec
	if got := zero.SourceEncoding(); got != "utf-8" {
		t.Errorf("nil SourceEncoding() = %q, want utf-8", got)
	}
}

func TestEncodeFailure(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("{"))
	if err == nil {
		t.Fatal("Decode() expected error")
	}

	var env ResponseEnvelope
	if err := json.Unmarshal(defaultCodec.EncodeFailure(err), &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if env.ID != nil {
		t.Errorf("id = %v, want null", *env.ID)
	}
	if env.Error == nil || env.Error.Code != CodeParseError {
		t.Errorf("error = %+v, want code %d", env.Error, CodeParseError)
	}
}

func TestEncodeRequest(t *testing.T) {
	t.Parallel()

	got := string(EncodeRequest(3, "ping", nil))
	want := `{"jsonrpc":"2.0","id":3,"method":"ping","params":[]}`
	if got != want {
		t.Errorf("EncodeRequest() = %s, want %s", got, want)
	}

	req, err := Decode(EncodeRequest(9, "execute_george", []string{"tv_GetWidth"}))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if req.ID != 9 || req.Method != "execute_george" || len(req.Params) != 1 || req.Params[0] != "tv_GetWidth" {
		t.Errorf("Decode() = %+v", req)
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	env, err := DecodeResponse(EncodeResult(4, "done"))
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if env.ID == nil || *env.ID != 4 {
		t.Errorf("id = %v, want 4", env.ID)
	}
	var result string
	if err := json.Unmarshal(env.Result, &result); err != nil || result != "done" {
		t.Errorf("result = %q (%v), want done", result, err)
	}

	env, err = DecodeResponse(EncodeError(NoID, CodeParseError, "x"))
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if env.ID != nil || env.Error == nil || env.Error.Code != CodeParseError {
		t.Errorf("DecodeResponse() = %+v", env)
	}

	if _, err := DecodeResponse([]byte(`{"jsonrpc":"2.0","id":1}`)); err == nil {
		t.Error("expected error for envelope without result or error")
	}
}
