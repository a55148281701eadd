/*
Package core contains the request/response types exchanged between the chat
widget, the HTTP surface and the chat service.

Key type categories:
- Chat API types (ChatMessage, ChatResponse)
- Turn types used by the orchestrator (TurnInput, TurnOutput, ToolCall, ToolResult)
- Operational types (StatusResponse, AgentSummary)
*/
package core

// ChatMessage is the body of POST /chat/:agentId.
type ChatMessage struct {
	Message            string `json:"message"`                        // The user's message
	ConversationID     string `json:"conversation_id,omitempty"`      // Client conversation id, generated when empty
	PreviousResponseID string `json:"previous_response_id,omitempty"` // Continuation token from an earlier LLM reply
}

// ChatResponse is returned by POST /chat/:agentId.
type ChatResponse struct {
	Response       string `json:"response"`              // Rendered (HTML) reply
	ConversationID string `json:"conversation_id"`       // Conversation id echoed or taken from the backend
	ResponseID     string `json:"response_id,omitempty"` // Continuation token for LLM agents
	Partial        bool   `json:"partial,omitempty"`     // True when the tool loop hit its round cap
}

// TurnInput is a single user message routed to an agent's backend.
type TurnInput struct {
	Message            string
	ConversationID     string
	PreviousResponseID string
}

// TurnOutput is the normalized reply of one turn.
type TurnOutput struct {
	Response       string
	ConversationID string
	ResponseID     string
	Partial        bool
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string // Raw JSON text as sent by the model
}

// ToolResult is the output of one resolved ToolCall.
type ToolResult struct {
	CallID string
	Output string
}

// AgentSummary is one entry of GET /agents.
type AgentSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Status      string   `json:"status"`
	Agents      int      `json:"agents"`
	ActiveTurns []string `json:"activeTurns"`
	ToolRounds  int      `json:"maxToolRounds"`
	Search      bool     `json:"searchEnabled"`
	Timestamp   string   `json:"timestamp"`
}

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
