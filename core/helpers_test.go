package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chatproxy/search"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(backendURL string) *Config {
	return &Config{
		ResponsesURL:      backendURL,
		APIKeyHeader:      "api-key",
		OpenAIAPIKey:      "test-key",
		BackendTimeout:    5 * time.Second,
		MaxToolParallel:   4,
		SearchTopK:        20,
		LogTruncateLength: 200,
	}
}

func newTestChatService(cfg *Config, searcher *stubSearcher) *ChatService {
	logger := quietLogger()
	backend := NewBackendClient(cfg.BackendTimeout, false, nil, logger)
	orchestrator := NewOrchestrator(backend, nil, cfg, nil, logger)
	if searcher != nil {
		orchestrator = NewOrchestrator(backend, searcher, cfg, nil, logger)
	}
	return NewChatService(orchestrator, backend, EnvCredentials{APIKey: cfg.OpenAIAPIKey}, NewTurnTracker(), nil, cfg, logger)
}

func llmAgent(id string, cfg LLMConfig) *Agent {
	agent := &Agent{ID: id, Name: id, Type: AgentTypeOpenAI, OpenAIConfig: &cfg}
	agent.applyDefaults()
	return agent
}

// fakeBackend records every request body and answers through reply, which
// receives the 1-based request number.
type fakeBackend struct {
	mu      sync.Mutex
	bodies  []map[string]any
	headers []http.Header
	reply   func(n int, body map[string]any) (int, any)
}

func newFakeBackend(t *testing.T, reply func(n int, body map[string]any) (int, any)) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		fb.mu.Lock()
		fb.bodies = append(fb.bodies, body)
		fb.headers = append(fb.headers, r.Header.Clone())
		n := len(fb.bodies)
		fb.mu.Unlock()

		status, payload := fb.reply(n, body)
		w.WriteHeader(status)
		switch p := payload.(type) {
		case string:
			_, _ = w.Write([]byte(p))
		default:
			_ = json.NewEncoder(w).Encode(p)
		}
	}))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) requests() []map[string]any {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]map[string]any, len(fb.bodies))
	copy(out, fb.bodies)
	return out
}

func (fb *fakeBackend) header(n int) http.Header {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.headers[n]
}

func messagePayload(id, text string) map[string]any {
	return map[string]any{
		"id": id,
		"output": []any{
			map[string]any{
				"type": "message",
				"role": "assistant",
				"content": []any{
					map[string]any{"type": "output_text", "text": text},
				},
			},
		},
	}
}

func toolCallPayload(id string, calls ...map[string]any) map[string]any {
	output := make([]any, 0, len(calls))
	for _, call := range calls {
		output = append(output, call)
	}
	return map[string]any{"id": id, "output": output}
}

func functionCall(callID, name, arguments string) map[string]any {
	return map[string]any{
		"type":      "function_call",
		"call_id":   callID,
		"name":      name,
		"arguments": arguments,
	}
}

type stubSearcher struct {
	mu      sync.Mutex
	matches []search.Match
	err     error
	queries []string
	indexes []string
	topKs   []int
}

func (s *stubSearcher) Search(_ context.Context, index, query string, k int) ([]search.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = append(s.indexes, index)
	s.queries = append(s.queries, query)
	s.topKs = append(s.topKs, k)
	return s.matches, s.err
}

func (s *stubSearcher) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

func inputItems(t *testing.T, body map[string]any) []map[string]any {
	t.Helper()
	raw, ok := body["input"].([]any)
	require.True(t, ok, "input must be a list")
	items := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		require.True(t, ok)
		items = append(items, m)
	}
	return items
}
