package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxMessageBytes caps a single encoded message line.
const MaxMessageBytes = 16 * 1024 * 1024

// ErrMalformed is returned by Decode for a line that is not a usable message.
// The stream itself is still healthy; callers skip the line and keep reading.
var ErrMalformed = errors.New("malformed message")

// ErrUnencodable is returned when a message payload cannot be serialized.
var ErrUnencodable = errors.New("payload is not serializable")

// envelope is the wire form shared by all message types.
type envelope struct {
	Type     MessageType     `json:"type"`
	ID       string          `json:"id"`
	ToolName string          `json:"tool_name,omitempty"`
	Args     map[string]any  `json:"args,omitempty"`
	Context  *ToolContext    `json:"context,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Marshal encodes a message as a single JSON object (no trailing newline).
func Marshal(m Message) ([]byte, error) {
	var env envelope
	switch msg := m.(type) {
	case *ToolCallRequest:
		ctx := msg.Context
		env = envelope{Type: TypeCall, ID: msg.ID, ToolName: msg.ToolName, Args: msg.Args, Context: &ctx}
	case *ToolCallResult:
		raw, err := json.Marshal(msg.Result)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
		}
		env = envelope{Type: TypeResult, ID: msg.ID, Result: raw}
	case *ToolCallError:
		env = envelope{Type: TypeError, ID: msg.ID, Error: msg.Error}
	default:
		return nil, fmt.Errorf("unsupported message type %T", m)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Unmarshal decodes one JSON object into its concrete message type.
// Lines without a known type or without an id yield ErrMalformed.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformed)
	}

	switch env.Type {
	case TypeCall:
		req := &ToolCallRequest{ID: env.ID, ToolName: env.ToolName, Args: env.Args}
		if env.Context != nil {
			req.Context = *env.Context
		}
		return req, nil
	case TypeResult:
		res := &ToolCallResult{ID: env.ID}
		if len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, &res.Result); err != nil {
				return nil, fmt.Errorf("%w: result: %v", ErrMalformed, err)
			}
		}
		return res, nil
	case TypeError:
		return &ToolCallError{ID: env.ID, Error: env.Error}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
}

// Encoder writes newline-delimited messages. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes m followed by a newline.
func (e *Encoder) Encode(m Message) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited messages.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxMessageBytes)
	return &Decoder{sc: sc}
}

// Decode returns the next message. It returns io.EOF when the stream ends,
// an error wrapping ErrMalformed for an unusable line, and any other error
// when the stream is broken.
func (d *Decoder) Decode() (Message, error) {
	for d.sc.Scan() {
		line := bytes.TrimSpace(d.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		return Unmarshal(line)
	}
	if err := d.sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return nil, io.EOF
}
