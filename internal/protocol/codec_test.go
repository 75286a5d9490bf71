package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "call request",
			msg: &ToolCallRequest{
				ID:       "abc-123",
				ToolName: "search",
				Args:     map[string]any{"query": "go"},
				Context:  ToolContext{Mode: "cli", DataDir: "/data", DBPath: "/data/lore.db"},
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"type":"call"`) {
					t.Error("missing type field")
				}
				if !strings.Contains(output, `"id":"abc-123"`) {
					t.Error("missing id field")
				}
				if !strings.Contains(output, `"tool_name":"search"`) {
					t.Error("missing tool_name field")
				}
				if !strings.Contains(output, `"db_path":"/data/lore.db"`) {
					t.Error("missing context.db_path")
				}
			},
		},
		{
			name: "result",
			msg:  &ToolCallResult{ID: "r1", Result: map[string]any{"n": 1}},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"result":{"n":1}`) {
					t.Errorf("unexpected output: %s", output)
				}
			},
		},
		{
			name: "error",
			msg:  &ToolCallError{ID: "e1", Error: "boom"},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"type":"error"`) || !strings.Contains(output, `"error":"boom"`) {
					t.Errorf("unexpected output: %s", output)
				}
			},
		},
		{
			name:    "unserializable result",
			msg:     &ToolCallResult{ID: "bad", Result: func() {}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := NewEncoder(&buf).Encode(tt.msg)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrUnencodable) {
					t.Errorf("expected ErrUnencodable, got %v", err)
				}
				if buf.Len() != 0 {
					t.Errorf("nothing should be written on error, got %q", buf.String())
				}
				return
			}
			if !strings.HasSuffix(buf.String(), "\n") {
				t.Error("encoded message must be newline-terminated")
			}
			if tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeStream(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"call","id":"1","tool_name":"echo","args":{"value":"hi"},"context":{"mode":"cli"}}`,
		``,
		`{"type":"result","id":"2","result":"hi"}`,
		`{"type":"error","id":"3","error":"EXTENSION_LOAD_FAILED:no export"}`,
	}, "\n")

	dec := NewDecoder(strings.NewReader(input))

	m, err := dec.Decode()
	if err != nil {
		t.Fatalf("decode call: %v", err)
	}
	call, ok := m.(*ToolCallRequest)
	if !ok {
		t.Fatalf("expected *ToolCallRequest, got %T", m)
	}
	if call.ToolName != "echo" || call.Args["value"] != "hi" || call.Context.Mode != "cli" {
		t.Errorf("unexpected call: %+v", call)
	}

	m, err = dec.Decode()
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	res, ok := m.(*ToolCallResult)
	if !ok || res.ID != "2" || res.Result != "hi" {
		t.Errorf("unexpected result: %#v", m)
	}

	m, err = dec.Decode()
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	errMsg, ok := m.(*ToolCallError)
	if !ok {
		t.Fatalf("expected *ToolCallError, got %T", m)
	}
	reason, isLoad := ParseLoadFailure(errMsg.Error)
	if !isLoad || reason != "no export" {
		t.Errorf("ParseLoadFailure(%q) = %q, %v", errMsg.Error, reason, isLoad)
	}

	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestDecodeMalformedLinesAreSkippable(t *testing.T) {
	input := strings.Join([]string{
		`not json`,
		`{"id":"no-type"}`,
		`{"type":"call"}`,
		`{"type":"ping","id":"x"}`,
		`{"type":"result","id":"ok","result":true}`,
	}, "\n")

	dec := NewDecoder(strings.NewReader(input))
	for i := 0; i < 4; i++ {
		_, err := dec.Decode()
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("line %d: expected ErrMalformed, got %v", i, err)
		}
	}

	m, err := dec.Decode()
	if err != nil {
		t.Fatalf("decode after malformed lines: %v", err)
	}
	if m.CorrelationID() != "ok" || m.Type() != TypeResult {
		t.Errorf("unexpected message: %#v", m)
	}
}

func TestRoundTripPreservesID(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	ids := []string{"a", "0d5f6c2e-1b6a-4c7e-8f0e-1a2b3c4d5e6f", "with spaces", "ünïcode"}
	for _, id := range ids {
		if err := enc.Encode(&ToolCallError{ID: id, Error: "x"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for _, want := range ids {
		m, err := dec.Decode()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if m.CorrelationID() != want {
			t.Errorf("id = %q, want %q", m.CorrelationID(), want)
		}
	}
}

func TestLoadFailureHelpers(t *testing.T) {
	msg := LoadFailure("plugin.Open: no such file")
	if !strings.HasPrefix(msg, LoadFailedPrefix) {
		t.Fatalf("missing prefix: %q", msg)
	}
	reason, ok := ParseLoadFailure(msg)
	if !ok || reason != "plugin.Open: no such file" {
		t.Errorf("ParseLoadFailure = %q, %v", reason, ok)
	}
	if _, ok := ParseLoadFailure("Tool not found: x"); ok {
		t.Error("plain error must not parse as load failure")
	}
}
