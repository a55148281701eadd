package core

import (
	"encoding/json"
	"fmt"

	localtools "chatproxy/tools"
)

// SamplingReservedModel is the one model identifier that rejects temperature and top_p.
const SamplingReservedModel = "o4-mini"

type inputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputMessage struct {
	Role    string      `json:"role"`
	Content []inputText `json:"content"`
}

type functionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type textFormat struct {
	Type string `json:"type"`
}

type textOptions struct {
	Format textFormat `json:"format"`
}

// responsesRequest is the body posted to the Responses API on every round.
type responsesRequest struct {
	Model              string      `json:"model"`
	Input              []any       `json:"input"`
	Text               textOptions `json:"text"`
	Reasoning          struct{}    `json:"reasoning"`
	Tools              []any       `json:"tools"`
	Temperature        *float64    `json:"temperature,omitempty"`
	MaxOutputTokens    int         `json:"max_output_tokens,omitempty"`
	TopP               *float64    `json:"top_p,omitempty"`
	Store              bool        `json:"store"`
	PreviousResponseID string      `json:"previous_response_id,omitempty"`
}

// buildInitialRequest builds the round-1 request: the system instructions and
// the user text as two input blocks, the agent's declared tools plus whatever
// the dispatcher advertises, and the optional continuation token.
func buildInitialRequest(cfg *LLMConfig, input TurnInput, dispatcher *localtools.Dispatcher) *responsesRequest {
	req := &responsesRequest{
		Model: cfg.Model,
		Input: []any{
			inputMessage{Role: "system", Content: []inputText{{Type: "input_text", Text: cfg.Instructions}}},
			inputMessage{Role: "user", Content: []inputText{{Type: "input_text", Text: input.Message}}},
		},
		Text:               textOptions{Format: textFormat{Type: "text"}},
		Tools:              advertisedTools(cfg.Tools, dispatcher),
		MaxOutputTokens:    cfg.MaxOutputTokens,
		Store:              true,
		PreviousResponseID: input.PreviousResponseID,
	}
	if cfg.Model != SamplingReservedModel {
		req.Temperature = cfg.Temperature
		req.TopP = cfg.TopP
	}
	return req
}

// buildFollowUpRequest reuses the round-1 settings but carries only the tool
// results; the continuation token stands in for the conversation so far.
func buildFollowUpRequest(initial *responsesRequest, results []ToolResult, previousResponseID string) *responsesRequest {
	next := *initial
	next.Input = make([]any, 0, len(results))
	for _, result := range results {
		next.Input = append(next.Input, functionCallOutput{
			Type:   "function_call_output",
			CallID: result.CallID,
			Output: result.Output,
		})
	}
	next.PreviousResponseID = previousResponseID
	return &next
}

// advertisedTools returns the declared tools minus any entry claiming the
// retrieval tool's name, followed by the dispatcher's own definitions. The
// retrieval tool is only ever advertised through the dispatcher.
func advertisedTools(declared []map[string]any, dispatcher *localtools.Dispatcher) []any {
	out := make([]any, 0, len(declared)+dispatcher.Len())
	for _, tool := range declared {
		if declaredToolName(tool) == localtools.SemanticSearchName {
			continue
		}
		out = append(out, tool)
	}
	for _, def := range dispatcher.Definitions() {
		out = append(out, def)
	}
	return out
}

// declaredToolName reads a tool's name from either the flat Responses shape
// or the nested {"function": {"name": ...}} shape.
func declaredToolName(tool map[string]any) string {
	if name, ok := tool["name"].(string); ok {
		return name
	}
	if fn, ok := tool["function"].(map[string]any); ok {
		if name, ok := fn["name"].(string); ok {
			return name
		}
	}
	return ""
}

// responsesPayload is a decoded Responses API reply. Output items are kept raw
// and decoded one by one, so one odd item does not discard the rest.
type responsesPayload struct {
	ID     string            `json:"id"`
	Output []json.RawMessage `json:"output"`
}

type outputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outputItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   []outputContent `json:"content"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func decodeResponsesPayload(data []byte) (*responsesPayload, error) {
	var payload responsesPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &Error{Kind: MalformedBackendPayload, Backend: AgentTypeOpenAI, Err: fmt.Errorf("decode responses payload: %w", err)}
	}
	return &payload, nil
}

func (p *responsesPayload) items() []outputItem {
	items := make([]outputItem, 0, len(p.Output))
	for _, raw := range p.Output {
		var item outputItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items
}

// toolCalls returns the function_call items of the payload in output order.
func (p *responsesPayload) toolCalls() []ToolCall {
	var calls []ToolCall
	for _, item := range p.items() {
		if item.Type != "function_call" {
			continue
		}
		calls = append(calls, ToolCall{
			CallID:    item.CallID,
			Name:      item.Name,
			Arguments: argumentsText(item.Arguments),
		})
	}
	return calls
}

// argumentsText unwraps arguments sent as a JSON string and passes any other
// JSON value through as its raw text.
func argumentsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
