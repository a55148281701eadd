/*
Package core drives the multi-round tool-calling exchange with the LLM backend.

A turn starts with one request carrying the system instructions and the user
message. While the model answers with function_call items that resolve to a
registered tool, the tools are run and their outputs submitted in a follow-up
request chained through previous_response_id. The turn ends when a payload
has no tool calls, when none of the requested tools resolves, or when the
round cap is reached, in which case the last payload is returned as partial.
*/
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatproxy/search"
	localtools "chatproxy/tools"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("chatproxy/core")

// MaxToolRounds is the fixed number of backend requests a turn may make.
const MaxToolRounds = 5

// EmbeddingBackend names the embedding provider in errors raised by retrieval.
const EmbeddingBackend = "embedding"

// LLMTurn is the raw outcome of an orchestrated turn.
type LLMTurn struct {
	Payload []byte // Final backend payload, handed to NormalizeLLM
	Rounds  int    // Requests submitted
	Partial bool   // Round cap reached with tool calls still pending
}

// Orchestrator runs the tool-calling loop against the Responses API.
type Orchestrator struct {
	backend  *BackendClient
	searcher localtools.Searcher // nil disables semantic_search
	config   *Config
	metrics  *Metrics
	logger   *logrus.Logger
}

// NewOrchestrator creates an orchestrator. searcher may be nil.
func NewOrchestrator(backend *BackendClient, searcher localtools.Searcher, config *Config, metrics *Metrics, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		backend:  backend,
		searcher: searcher,
		config:   config,
		metrics:  metrics,
		logger:   logger,
	}
}

// dispatcherFor registers the tools the agent may call in this turn.
func (o *Orchestrator) dispatcherFor(agent *Agent, handler callbacks.Handler, turnLogger *logrus.Entry) *localtools.Dispatcher {
	index := agent.OpenAIConfig.VectorIndex
	if index == "" {
		return localtools.NewDispatcher()
	}
	if o.searcher == nil {
		turnLogger.WithField("vectorIndex", index).Warn("Agent names a vector index but vector search is not configured")
		return localtools.NewDispatcher()
	}

	search := localtools.NewSemanticSearchTool(o.searcher, index, o.config.SearchTopK)
	search.CallbacksHandler = handler
	return localtools.NewDispatcher(search)
}

// Run executes one LLM turn for agent. The agent must carry an LLM config.
func (o *Orchestrator) Run(ctx context.Context, agent *Agent, apiKey string, input TurnInput, handler callbacks.Handler) (*LLMTurn, error) {
	cfg := agent.OpenAIConfig
	turnLogger := o.logger.WithFields(logrus.Fields{
		"agentId":        agent.ID,
		"model":          cfg.Model,
		"conversationId": input.ConversationID,
	})

	ctx, span := tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("agent.id", agent.ID),
		attribute.String("llm.model", cfg.Model),
		attribute.Bool("llm.retrieval", cfg.VectorIndex != ""),
	))
	defer span.End()

	dispatcher := o.dispatcherFor(agent, handler, turnLogger)
	initial := buildInitialRequest(cfg, input, dispatcher)
	headers := map[string]string{o.config.APIKeyHeader: apiKey}

	handler.HandleChainStart(ctx, map[string]any{
		"agentId": agent.ID,
		"message": input.Message,
		"tools":   len(initial.Tools),
	})

	req := initial
	prompt := []string{input.Message}
	for round := 1; ; round++ {
		handler.HandleLLMStart(ctx, prompt)

		roundCtx, roundSpan := tracer.Start(ctx, "chat.round", trace.WithAttributes(attribute.Int("round", round)))
		data, err := o.backend.PostJSON(roundCtx, AgentTypeOpenAI, o.config.ResponsesURL, headers, req)
		if err != nil {
			roundSpan.RecordError(err)
			roundSpan.SetStatus(codes.Error, "backend request failed")
			roundSpan.End()
			span.RecordError(err)
			span.SetStatus(codes.Error, "turn failed")
			handler.HandleLLMError(ctx, err)
			handler.HandleChainError(ctx, err)
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		handler.HandleText(ctx, string(data))

		payload, err := decodeResponsesPayload(data)
		if err != nil {
			// Undecodable payloads end the turn; the normalizer turns them into fallback text.
			roundSpan.End()
			turnLogger.WithError(err).WithFields(logrus.Fields{
				"round":     round,
				"errorKind": MalformedBackendPayload,
			}).Warn("Backend payload could not be decoded, treating it as final")
			return o.finish(ctx, span, handler, data, round, false), nil
		}

		calls := payload.toolCalls()
		handler.HandleLLMGenerateContentEnd(ctx, contentResponse(payload, calls))
		roundSpan.SetAttributes(attribute.Int("tool_calls", len(calls)))
		roundSpan.End()

		if len(calls) == 0 {
			return o.finish(ctx, span, handler, data, round, false), nil
		}

		if round >= MaxToolRounds {
			turnLogger.WithFields(logrus.Fields{
				"round":        round,
				"pendingCalls": len(calls),
				"errorKind":    IterationBudgetExceeded,
			}).Warn("Tool round cap reached, returning last payload")
			return o.finish(ctx, span, handler, data, round, true), nil
		}

		results, err := o.executeTools(ctx, dispatcher, calls, handler, turnLogger.WithField("round", round))
		if err != nil {
			err = newError(BackendUnreachable, EmbeddingBackend, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool dependency failed")
			handler.HandleChainError(ctx, err)
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		if len(results) == 0 {
			turnLogger.WithFields(logrus.Fields{
				"round":        round,
				"pendingCalls": len(calls),
			}).Info("No tool call produced a result, treating payload as final")
			return o.finish(ctx, span, handler, data, round, false), nil
		}

		if payload.ID == "" {
			turnLogger.WithFields(logrus.Fields{
				"round":     round,
				"errorKind": MalformedBackendPayload,
			}).Warn("Payload has no id, follow-up request cannot continue the response chain")
		}
		req = buildFollowUpRequest(initial, results, payload.ID)
		prompt = make([]string, 0, len(results))
		for _, result := range results {
			prompt = append(prompt, result.Output)
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, handler callbacks.Handler, data []byte, rounds int, partial bool) *LLMTurn {
	span.SetAttributes(
		attribute.Int("rounds", rounds),
		attribute.Bool("partial", partial),
	)
	handler.HandleChainEnd(ctx, map[string]any{
		"rounds":  rounds,
		"partial": partial,
	})
	o.metrics.ObserveRounds(rounds)
	return &LLMTurn{Payload: data, Rounds: rounds, Partial: partial}
}

// executeTools runs every resolvable call of a round concurrently and returns
// the produced results in call order. Unresolvable calls and failed calls
// produce no result, except an embedding failure, which fails the round once
// every call has finished.
func (o *Orchestrator) executeTools(ctx context.Context, dispatcher *localtools.Dispatcher, calls []ToolCall, handler callbacks.Handler, roundLogger *logrus.Entry) ([]ToolResult, error) {
	produced := make([]*ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(max(o.config.MaxToolParallel, 1))

	for i, call := range calls {
		handler.HandleAgentAction(ctx, schema.AgentAction{
			Tool:      call.Name,
			ToolInput: call.Arguments,
			Log:       call.CallID,
		})

		tool, ok := dispatcher.Lookup(call.Name)
		if !ok {
			roundLogger.WithFields(logrus.Fields{
				"tool":   call.Name,
				"callId": call.CallID,
			}).Info("Tool call does not resolve to a registered tool, skipping")
			o.metrics.ObserveToolCall(call.Name, "unresolved")
			continue
		}

		g.Go(func() error {
			startTime := time.Now()
			output, err := tool.Call(ctx, call.Arguments)
			if err != nil {
				o.metrics.ObserveToolCall(call.Name, "error")
				if errors.Is(err, search.ErrEmbedding) {
					roundLogger.WithError(err).WithFields(logrus.Fields{
						"tool":   call.Name,
						"callId": call.CallID,
					}).Error("Embedding provider failed, aborting turn")
					return err
				}
				roundLogger.WithError(err).WithFields(logrus.Fields{
					"tool":   call.Name,
					"callId": call.CallID,
				}).Error("Tool call failed, no result submitted")
				return nil
			}
			roundLogger.WithFields(logrus.Fields{
				"tool":          call.Name,
				"callId":        call.CallID,
				"executionTime": time.Since(startTime),
			}).Debug("Tool call completed")
			o.metrics.ObserveToolCall(call.Name, "ok")
			produced[i] = &ToolResult{CallID: call.CallID, Output: output}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]ToolResult, 0, len(calls))
	for _, result := range produced {
		if result != nil {
			results = append(results, *result)
		}
	}
	return results, nil
}

// contentResponse adapts a Responses payload for the langchaingo callback interface.
func contentResponse(payload *responsesPayload, calls []ToolCall) *llms.ContentResponse {
	choice := &llms.ContentChoice{}
	for _, item := range payload.items() {
		if item.Type == "message" && item.Role == "assistant" {
			for _, block := range item.Content {
				if block.Type == "output_text" {
					choice.Content = block.Text
					break
				}
			}
			break
		}
	}
	for _, call := range calls {
		choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
			ID:   call.CallID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}
}
