package core

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CredentialProvider supplies the default LLM credential.
type CredentialProvider interface {
	LLMAPIKey() (string, error)
}

// EnvCredentials serves the key loaded from OPENAI_API_KEY.
type EnvCredentials struct {
	APIKey string
}

func (e EnvCredentials) LLMAPIKey() (string, error) {
	if e.APIKey == "" {
		return "", newError(ConfigurationMissing, AgentTypeOpenAI, errors.New("OPENAI_API_KEY is not set"))
	}
	return e.APIKey, nil
}

type loggerKey struct{}

// WithRequestLogger attaches a request-scoped logger used by SendMessage.
func WithRequestLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry)
}

// ChatService routes a message to the agent's backend and normalizes the reply.
type ChatService struct {
	orchestrator *Orchestrator
	backend      *BackendClient
	credentials  CredentialProvider
	tracker      *TurnTracker
	metrics      *Metrics
	config       *Config
	logger       *logrus.Logger
}

func NewChatService(orchestrator *Orchestrator, backend *BackendClient, credentials CredentialProvider, tracker *TurnTracker, metrics *Metrics, config *Config, logger *logrus.Logger) *ChatService {
	return &ChatService{
		orchestrator: orchestrator,
		backend:      backend,
		credentials:  credentials,
		tracker:      tracker,
		metrics:      metrics,
		config:       config,
		logger:       logger,
	}
}

func (s *ChatService) requestLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok && entry != nil {
		return entry
	}
	return logrus.NewEntry(s.logger)
}

// SendMessage runs one turn against the agent's backend. The agent is
// validated before any network call. Once started, a turn is not cancelled
// by the caller going away; each backend call is still bounded by the
// configured timeout. The reply text is rendered from markdown exactly once.
func (s *ChatService) SendMessage(ctx context.Context, agent *Agent, input TurnInput) (TurnOutput, error) {
	if err := agent.Validate(); err != nil {
		s.metrics.ObserveTurn(agent.Type, turnOutcome(err, false))
		return TurnOutput{}, err
	}

	turnLogger := s.requestLogger(ctx).WithFields(logrus.Fields{
		"agentId":   agent.ID,
		"agentType": agent.Type,
	})
	ctx = context.WithoutCancel(ctx)

	turnID := uuid.NewString()
	s.tracker.Start(turnID, agent.ID)
	defer s.tracker.Finish(turnID)

	var (
		out TurnOutput
		err error
	)
	switch agent.Type {
	case AgentTypeOpenAI:
		out, err = s.sendLLM(ctx, agent, input, turnLogger)
	case AgentTypeN8N:
		out, err = s.sendWebhook(ctx, agent, input, turnLogger)
	case AgentTypeCustom:
		out, err = s.sendCustom(ctx, agent, input, turnLogger)
	}

	s.metrics.ObserveTurn(agent.Type, turnOutcome(err, out.Partial))
	if err != nil {
		return TurnOutput{}, err
	}

	out.Response = RenderMarkdown(out.Response)
	turnLogger.WithFields(logrus.Fields{
		"turnId":         turnID,
		"conversationId": out.ConversationID,
		"partial":        out.Partial,
		"responseLength": len(out.Response),
	}).Info("Turn completed")
	return out, nil
}

func (s *ChatService) sendLLM(ctx context.Context, agent *Agent, input TurnInput, turnLogger *logrus.Entry) (TurnOutput, error) {
	apiKey := agent.OpenAIConfig.APIKey
	if apiKey == "" {
		key, err := s.credentials.LLMAPIKey()
		if err != nil {
			return TurnOutput{}, err
		}
		apiKey = key
	}

	handler := NewVerboseCallbackHandler(turnLogger, s.config)
	turn, err := s.orchestrator.Run(ctx, agent, apiKey, input, handler)
	if err != nil {
		return TurnOutput{}, err
	}

	text, responseID := NormalizeLLM(turn.Payload)
	if text == LLMFallbackText {
		turnLogger.WithField("errorKind", MalformedBackendPayload).Warn("No assistant text in LLM payload")
	}
	return TurnOutput{
		Response:       text,
		ConversationID: input.ConversationID,
		ResponseID:     responseID,
		Partial:        turn.Partial,
	}, nil
}

func (s *ChatService) sendWebhook(ctx context.Context, agent *Agent, input TurnInput, turnLogger *logrus.Entry) (TurnOutput, error) {
	body := map[string]any{
		"action":    "sendMessage",
		"sessionId": input.ConversationID,
		"chatInput": input.Message,
	}
	data, err := s.backend.PostJSON(ctx, AgentTypeN8N, agent.N8NConfig.WebhookURL, nil, body)
	if err != nil {
		return TurnOutput{}, err
	}

	text := NormalizeWebhook(data)
	if text == WebhookFallbackText {
		turnLogger.WithField("errorKind", MalformedBackendPayload).Warn("No reply field in webhook payload")
	}
	return TurnOutput{Response: text, ConversationID: input.ConversationID}, nil
}

func (s *ChatService) sendCustom(ctx context.Context, agent *Agent, input TurnInput, turnLogger *logrus.Entry) (TurnOutput, error) {
	cfg := agent.CustomConfig
	body := BuildCustomBody(cfg.BodyStructure, input)
	data, err := s.backend.PostJSON(ctx, AgentTypeCustom, agent.ChatEndpoint, cfg.Headers, body)
	if err != nil {
		return TurnOutput{}, err
	}

	path := cfg.ResponsePath
	if path == "" {
		path = DefaultResponsePath
	}
	text, conversationID := NormalizeCustom(data, path)
	if conversationID == "" {
		conversationID = input.ConversationID
	}
	turnLogger.WithField("responsePath", path).Debug("Custom backend reply extracted")
	return TurnOutput{Response: text, ConversationID: conversationID}, nil
}

// BuildCustomBody copies structure, replacing the exact values "{message}"
// and "{conversation_id}" with the turn's message and conversation id.
func BuildCustomBody(structure map[string]any, input TurnInput) map[string]any {
	body := make(map[string]any, len(structure))
	for key, value := range structure {
		placeholder, _ := value.(string)
		switch placeholder {
		case "{message}":
			body[key] = input.Message
		case "{conversation_id}":
			body[key] = input.ConversationID
		default:
			body[key] = value
		}
	}
	return body
}
