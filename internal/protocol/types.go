package protocol

import "strings"

// MessageType tags a wire message.
type MessageType string

const (
	TypeCall   MessageType = "call"
	TypeResult MessageType = "result"
	TypeError  MessageType = "error"
)

// LoadFailedPrefix marks a ToolCallError as a permanent module load failure.
// Every call to a worker whose module failed to resolve carries it.
const LoadFailedPrefix = "EXTENSION_LOAD_FAILED:"

// Message is one of *ToolCallRequest, *ToolCallResult or *ToolCallError.
type Message interface {
	Type() MessageType
	CorrelationID() string
}

// ToolContext is the part of a caller's tool context that may cross the
// worker boundary. It deliberately has no function-valued fields.
type ToolContext struct {
	Mode    string `json:"mode,omitempty"`
	DataDir string `json:"data_dir,omitempty"`
	DBPath  string `json:"db_path,omitempty"`
}

// ToolCallRequest asks a worker to run one tool. Sent host -> worker.
type ToolCallRequest struct {
	ID       string         `json:"id"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args,omitempty"`
	Context  ToolContext    `json:"context"`
}

// ToolCallResult carries a handler's return value. Sent worker -> host.
type ToolCallResult struct {
	ID     string `json:"id"`
	Result any    `json:"result"`
}

// ToolCallError carries a failure for one call. Sent worker -> host.
type ToolCallError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (*ToolCallRequest) Type() MessageType { return TypeCall }
func (*ToolCallResult) Type() MessageType  { return TypeResult }
func (*ToolCallError) Type() MessageType   { return TypeError }

func (m *ToolCallRequest) CorrelationID() string { return m.ID }
func (m *ToolCallResult) CorrelationID() string  { return m.ID }
func (m *ToolCallError) CorrelationID() string   { return m.ID }

// LoadFailure returns reason prefixed with LoadFailedPrefix.
func LoadFailure(reason string) string {
	return LoadFailedPrefix + reason
}

// ParseLoadFailure reports whether msg is a load failure and returns the
// reason without the prefix.
func ParseLoadFailure(msg string) (string, bool) {
	if !strings.HasPrefix(msg, LoadFailedPrefix) {
		return "", false
	}
	return strings.TrimPrefix(msg, LoadFailedPrefix), true
}
