package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"chatproxy/search"
	localtools "chatproxy/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageConfigurationMissingMakesNoNetworkCall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	agents := []*Agent{
		{ID: "llm", Type: AgentTypeOpenAI},
		{ID: "webhook", Type: AgentTypeN8N},
		{ID: "webhook-empty", Type: AgentTypeN8N, N8NConfig: &WebhookConfig{}},
		{ID: "custom-no-endpoint", Type: AgentTypeCustom, CustomConfig: &CustomConfig{}},
		{ID: "custom-no-config", Type: AgentTypeCustom, ChatEndpoint: srv.URL},
		{ID: "unknown", Type: "smoke-signals"},
	}

	service := newTestChatService(testConfig(srv.URL), nil)
	for _, agent := range agents {
		_, err := service.SendMessage(context.Background(), agent, TurnInput{Message: "hi", ConversationID: "c"})
		require.Error(t, err, agent.ID)
		assert.True(t, IsKind(err, ConfigurationMissing), agent.ID)
	}
	assert.Zero(t, hits.Load())
}

func TestSendMessageRequiresCredential(t *testing.T) {
	fb, srv := newFakeBackend(t, func(n int, _ map[string]any) (int, any) {
		return http.StatusOK, messagePayload("resp_1", "unused")
	})
	cfg := testConfig(srv.URL)
	cfg.OpenAIAPIKey = ""
	service := newTestChatService(cfg, nil)

	_, err := service.SendMessage(context.Background(), llmAgent("a", LLMConfig{}), TurnInput{Message: "hi"})
	require.Error(t, err)
	assert.True(t, IsKind(err, ConfigurationMissing))
	assert.Empty(t, fb.requests())
}

func TestSendMessageAgentKeyOverridesEnvironment(t *testing.T) {
	fb, srv := newFakeBackend(t, func(n int, _ map[string]any) (int, any) {
		return http.StatusOK, messagePayload("resp_1", "ok")
	})
	service := newTestChatService(testConfig(srv.URL), nil)

	_, err := service.SendMessage(context.Background(), llmAgent("a", LLMConfig{APIKey: "agent-key"}), TurnInput{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "agent-key", fb.header(0).Get("api-key"))
}

func TestSendMessageLLMRendersReply(t *testing.T) {
	_, srv := newFakeBackend(t, func(n int, _ map[string]any) (int, any) {
		return http.StatusOK, messagePayload("resp_1", "**Hola**\n- uno\n- dos")
	})
	service := newTestChatService(testConfig(srv.URL), nil)

	out, err := service.SendMessage(context.Background(), llmAgent("a", LLMConfig{}), TurnInput{
		Message:        "hi",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "<strong>Hola</strong><ul><li>uno</li><li>dos</li></ul>", out.Response)
	assert.Equal(t, "conv-1", out.ConversationID)
	assert.Equal(t, "resp_1", out.ResponseID)
	assert.False(t, out.Partial)
}

func TestSendMessageWebhook(t *testing.T) {
	fb, srv := newFakeBackend(t, func(n int, _ map[string]any) (int, any) {
		return http.StatusOK, []any{map[string]any{"output": "Hello from *n8n*"}}
	})
	service := newTestChatService(testConfig(""), nil)
	agent := &Agent{ID: "flow", Type: AgentTypeN8N, N8NConfig: &WebhookConfig{WebhookURL: srv.URL}}

	out, err := service.SendMessage(context.Background(), agent, TurnInput{Message: "hi", ConversationID: "sess-1"})
	require.NoError(t, err)
	assert.Equal(t, "Hello from <em>n8n</em>", out.Response)
	assert.Equal(t, "sess-1", out.ConversationID)
	assert.Empty(t, out.ResponseID)

	require.Len(t, fb.requests(), 1)
	assert.Equal(t, map[string]any{
		"action":    "sendMessage",
		"sessionId": "sess-1",
		"chatInput": "hi",
	}, fb.requests()[0])
}

func TestSendMessageCustom(t *testing.T) {
	fb, srv := newFakeBackend(t, func(n int, _ map[string]any) (int, any) {
		return http.StatusOK, map[string]any{
			"data":            map[string]any{"reply": "hi"},
			"conversation_id": "backend-conv",
		}
	})
	service := newTestChatService(testConfig(""), nil)
	agent := &Agent{
		ID:           "custom",
		Type:         AgentTypeCustom,
		ChatEndpoint: srv.URL,
		CustomConfig: &CustomConfig{
			Headers:       map[string]string{"X-Token": "secret"},
			BodyStructure: map[string]any{"q": "{message}", "cid": "{conversation_id}", "lang": "es"},
			ResponsePath:  "data.reply",
		},
	}

	out, err := service.SendMessage(context.Background(), agent, TurnInput{Message: "hola", ConversationID: "conv-7"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Response)
	assert.Equal(t, "backend-conv", out.ConversationID)

	assert.Equal(t, map[string]any{"q": "hola", "cid": "conv-7", "lang": "es"}, fb.requests()[0])
	assert.Equal(t, "secret", fb.header(0).Get("X-Token"))
}

func TestSendMessageBackendRejected(t *testing.T) {
	_, srv := newFakeBackend(t, func(n int, _ map[string]any) (int, any) {
		return http.StatusServiceUnavailable, "down"
	})
	service := newTestChatService(testConfig(""), nil)
	agent := &Agent{ID: "flow", Type: AgentTypeN8N, N8NConfig: &WebhookConfig{WebhookURL: srv.URL}}

	_, err := service.SendMessage(context.Background(), agent, TurnInput{Message: "hi"})
	require.Error(t, err)
	assert.True(t, IsKind(err, BackendRejected))

	status, detail := httpError(err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "chatbot error: 503", detail)
}

func TestSendMessageSurvivesCallerCancellation(t *testing.T) {
	_, srv := newFakeBackend(t, func(n int, _ map[string]any) (int, any) {
		return http.StatusOK, messagePayload("resp_1", "finished anyway")
	})
	service := newTestChatService(testConfig(srv.URL), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := service.SendMessage(ctx, llmAgent("a", LLMConfig{}), TurnInput{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "finished anyway", out.Response)
}

func TestSendMessageEmbeddingOutageIsNotMaskedAsReply(t *testing.T) {
	_, srv := newFakeBackend(t, func(n int, _ map[string]any) (int, any) {
		return http.StatusOK, toolCallPayload("resp_1", functionCall("call_1", localtools.SemanticSearchName, `{"query":"refunds"}`))
	})
	searcher := &stubSearcher{err: fmt.Errorf("%w: embed: 401 unauthorized", search.ErrEmbedding)}
	service := newTestChatService(testConfig(srv.URL), searcher)
	agent := llmAgent("shop", LLMConfig{VectorIndex: "catalog"})

	out, err := service.SendMessage(context.Background(), agent, TurnInput{Message: "refund policy?"})
	require.Error(t, err)
	assert.Empty(t, out.Response)
	assert.True(t, IsKind(err, BackendUnreachable))

	status, detail := httpError(err)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "search service unavailable", detail)
}
