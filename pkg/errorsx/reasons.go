package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfig ReasonCode = "config"

	ReasonLLMStream      ReasonCode = "llm_stream"
	ReasonLLMRateLimit   ReasonCode = "llm_rate_limit"
	ReasonLLMCircuitOpen ReasonCode = "llm_circuit_open"

	ReasonToolNotFound   ReasonCode = "tool_not_found"
	ReasonToolConnection ReasonCode = "tool_connection"
	ReasonToolCall       ReasonCode = "tool_call"
	ReasonToolTimeout    ReasonCode = "tool_timeout"
	ReasonToolTurnLimit  ReasonCode = "tool_turn_limit"

	ReasonMCPConnect   ReasonCode = "mcp_connect"
	ReasonMCPListTools ReasonCode = "mcp_list_tools"

	ReasonSessionNotFound ReasonCode = "session_not_found"
	ReasonSessionBusy     ReasonCode = "session_busy"
	ReasonTransportSend   ReasonCode = "transport_send"
)
