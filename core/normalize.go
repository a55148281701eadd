package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Fallback replies used when a backend payload carries no usable answer.
const (
	LLMFallbackText     = "Error processing response: no assistant message found"
	WebhookFallbackText = "Error: no response found in webhook data"
)

// webhookAlternateKeys are checked, in order, when a webhook object has no "output".
var webhookAlternateKeys = []string{"response", "message", "text", "result"}

// NormalizeLLM extracts the first assistant output_text and the continuation
// token from a Responses API payload. It never fails: an unusable payload
// yields LLMFallbackText and an empty token.
func NormalizeLLM(data []byte) (text, responseID string) {
	payload, err := decodeResponsesPayload(data)
	if err != nil {
		return LLMFallbackText, ""
	}
	for _, item := range payload.items() {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, block := range item.Content {
			if block.Type == "output_text" && block.Text != "" {
				return block.Text, payload.ID
			}
		}
	}
	return LLMFallbackText, payload.ID
}

// NormalizeWebhook extracts the reply from a workflow webhook payload, which
// may be an object or a list whose first element is used.
func NormalizeWebhook(data []byte) string {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return WebhookFallbackText
	}

	if list, ok := decoded.([]any); ok {
		if len(list) == 0 {
			return WebhookFallbackText
		}
		decoded = list[0]
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return WebhookFallbackText
	}

	if text := leafText(obj["output"]); text != "" {
		return text
	}
	// Only the first alternate key present is consulted, even when its
	// value is empty.
	for _, key := range webhookAlternateKeys {
		if value, exists := obj[key]; exists {
			if text := leafText(value); text != "" {
				return text
			}
			break
		}
	}
	return WebhookFallbackText
}

// NormalizeCustom extracts the value at a dotted path. Any resolution failure
// returns the JSON encoding of the whole payload. The second result is the
// payload's top-level conversation_id, if it has a string one.
func NormalizeCustom(data []byte, path string) (text, conversationID string) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return strings.TrimSpace(string(data)), ""
	}

	if obj, ok := decoded.(map[string]any); ok {
		if id, ok := obj["conversation_id"].(string); ok {
			conversationID = id
		}
	}

	if value, ok := ResolvePath(decoded, path); ok {
		return stringify(value), conversationID
	}
	return stringify(decoded), conversationID
}

// ResolvePath walks a dotted path through nested JSON objects.
func ResolvePath(data any, path string) (any, bool) {
	current := data
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// leafText returns strings as-is and JSON-encodes other non-null values.
func leafText(value any) string {
	if value == nil {
		return ""
	}
	return stringify(value)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return "null"
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}
