package types

import "time"

// MessageType classifies inter-agent messages.
type MessageType string

const (
	MessageTypeTask         MessageType = "task"
	MessageTypeData         MessageType = "data"
	MessageTypeCoordination MessageType = "coordination"
	MessageTypeStatus       MessageType = "status"
	MessageTypeError        MessageType = "error"
)

// AgentMessage is the unit of inter-agent communication, including
// change notifications emitted by the state store.
type AgentMessage struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MessageType    `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TaskResult is the structured outcome of a task execution. Failures are
// reported through Status and Error, never as raw unhandled faults.
type TaskResult struct {
	TaskID string         `json:"taskId"`
	Status TaskStatus     `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}
