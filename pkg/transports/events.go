package transports

import (
	"encoding/json"

	"github.com/harunnryd/mcpchat/pkg/tools"
)

type EventType string

// Client to server.
const (
	EventUserMessage   EventType = "user_message"
	EventMCPConnect    EventType = "mcp_connect"
	EventMCPDisconnect EventType = "mcp_disconnect"
)

// Server to client.
const (
	EventSession      EventType = "session"
	EventMessageStart EventType = "message_start"
	EventToken        EventType = "token"
	EventMessageEnd   EventType = "message_end"
	EventNotification EventType = "notification"
	EventStep         EventType = "step"
	EventError        EventType = "error"
)

// Generated by transports when a client connects or goes away.
const (
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
)

// Event is one JSON frame of the chat protocol.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	TraceID   string       `json:"trace_id,omitempty"`
	MessageID string       `json:"message_id,omitempty"`
	Text      string       `json:"text,omitempty"`
	Name      string       `json:"name,omitempty"`
	Spec      string       `json:"spec,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Step      *StepPayload `json:"step,omitempty"`
}

type StepPayload struct {
	ID         string          `json:"id"`
	Phase      string          `json:"phase"`
	Tool       string          `json:"tool"`
	Provider   string          `json:"provider,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	IsError    bool            `json:"is_error"`
	DurationMS int64           `json:"duration_ms"`
}

func NewStepPayload(step tools.Step) *StepPayload {
	return &StepPayload{
		ID:         step.ID,
		Phase:      string(step.Phase),
		Tool:       step.Tool,
		Provider:   step.Provider,
		Input:      step.Input,
		Output:     step.Output,
		IsError:    step.IsError,
		DurationMS: step.DurationMillis(),
	}
}

// Inbound reports whether a client is allowed to send t.
func (t EventType) Inbound() bool {
	switch t {
	case EventUserMessage, EventMCPConnect, EventMCPDisconnect:
		return true
	default:
		return false
	}
}
