package core

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// VerboseCallbackHandler logs turn progress: one iteration per backend round,
// one step per tool event within it. Tools of a round run concurrently, so the
// counters are atomic. Create one per turn.
type VerboseCallbackHandler struct {
	callbacks.SimpleHandler

	requestLogger *logrus.Entry
	iteration     atomic.Int32
	step          atomic.Int32
	truncateAt    int
}

func NewVerboseCallbackHandler(requestLogger *logrus.Entry, config *Config) *VerboseCallbackHandler {
	return &VerboseCallbackHandler{
		requestLogger: requestLogger,
		truncateAt:    config.LogTruncateLength,
	}
}

// Iterations reports how many backend rounds the handler has seen.
func (h *VerboseCallbackHandler) Iterations() int {
	return int(h.iteration.Load())
}

// Helper function to truncate text for logging with configurable length
func (h *VerboseCallbackHandler) truncateForLog(text string) string {
	return truncate(text, h.truncateAt)
}

func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

func (h *VerboseCallbackHandler) fields() logrus.Fields {
	return logrus.Fields{
		"iteration": h.iteration.Load(),
		"step":      h.step.Load(),
	}
}

func (h *VerboseCallbackHandler) HandleText(ctx context.Context, text string) {
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"text":       h.truncateForLog(text),
		"textLength": len(text),
	}).Debug("Backend payload received")
}

func (h *VerboseCallbackHandler) HandleLLMStart(ctx context.Context, prompts []string) {
	h.iteration.Add(1)
	h.step.Store(0) // Reset step counter for new iteration
	firstPrompt := ""
	if len(prompts) > 0 {
		firstPrompt = h.truncateForLog(prompts[0])
	}
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"inputCount":  len(prompts),
		"firstPrompt": firstPrompt,
	}).Info("Backend round started")
}

func (h *VerboseCallbackHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	response := ""
	toolCalls := 0
	if res != nil && len(res.Choices) > 0 {
		response = h.truncateForLog(res.Choices[0].Content)
		toolCalls = len(res.Choices[0].ToolCalls)
	}
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"response":  response,
		"toolCalls": toolCalls,
	}).Info("Backend round completed")
}

func (h *VerboseCallbackHandler) HandleLLMError(ctx context.Context, err error) {
	h.requestLogger.WithFields(h.fields()).WithError(err).Error("Backend round failed")
}

func (h *VerboseCallbackHandler) HandleChainStart(ctx context.Context, inputs map[string]any) {
	h.requestLogger.WithFields(h.fields()).WithField("inputs", inputs).Info("Turn started")
}

func (h *VerboseCallbackHandler) HandleChainEnd(ctx context.Context, outputs map[string]any) {
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"outputs":         outputs,
		"totalIterations": h.iteration.Load(),
	}).Info("Turn completed")
}

func (h *VerboseCallbackHandler) HandleChainError(ctx context.Context, err error) {
	h.requestLogger.WithFields(h.fields()).WithError(err).WithField("totalIterations", h.iteration.Load()).
		Error("Turn failed")
}

func (h *VerboseCallbackHandler) HandleToolStart(ctx context.Context, input string) {
	h.step.Add(1)
	h.requestLogger.WithFields(h.fields()).WithField("input", h.truncateForLog(input)).Info("Tool execution started")
}

func (h *VerboseCallbackHandler) HandleToolEnd(ctx context.Context, output string) {
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"output":       h.truncateForLog(output),
		"outputLength": len(output),
	}).Info("Tool execution completed")
}

func (h *VerboseCallbackHandler) HandleToolError(ctx context.Context, err error) {
	h.requestLogger.WithFields(h.fields()).WithError(err).Error("Tool execution failed")
}

func (h *VerboseCallbackHandler) HandleAgentAction(ctx context.Context, action schema.AgentAction) {
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"action": action.Tool,
		"input":  h.truncateForLog(action.ToolInput),
		"callId": action.Log,
	}).Info("Model requested tool call")
}

func (h *VerboseCallbackHandler) HandleRetrieverStart(ctx context.Context, query string) {
	h.requestLogger.WithFields(h.fields()).WithField("query", query).Debug("Retriever started")
}

func (h *VerboseCallbackHandler) HandleRetrieverEnd(ctx context.Context, query string, documents []schema.Document) {
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"query":         query,
		"documentCount": len(documents),
	}).Debug("Retriever completed")
}

var _ callbacks.Handler = (*VerboseCallbackHandler)(nil)
