package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatproxy/search"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/tools"
)

// SemanticSearchName is the tool name the model uses to request retrieval.
const SemanticSearchName = "semantic_search"

var semanticSearchLogger = logrus.WithField("tool", SemanticSearchName)

// Searcher runs a semantic search against a named vector index.
type Searcher interface {
	Search(ctx context.Context, index, query string, k int) ([]search.Match, error)
}

// SemanticSearchTool exposes a vector index to the model. Its output is the
// JSON list of the matched entries' metadata; ids and scores are not
// surfaced and entries without metadata are dropped.
type SemanticSearchTool struct {
	CallbacksHandler callbacks.Handler

	searcher Searcher
	index    string
	topK     int
}

type semanticSearchArgs struct {
	Query string `json:"query"`
}

func NewSemanticSearchTool(searcher Searcher, index string, topK int) *SemanticSearchTool {
	semanticSearchLogger.WithField("index", index).Debug("Initializing semantic search tool")
	return &SemanticSearchTool{searcher: searcher, index: index, topK: topK}
}

func (s *SemanticSearchTool) Name() string {
	return SemanticSearchName
}

func (s *SemanticSearchTool) Description() string {
	return semanticSearchDescription(s.index)
}

func (s *SemanticSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Natural language search query.",
			},
		},
		"required": []string{"query"},
	}
}

// Call runs the search. input is the raw argument JSON sent by the model;
// unparseable arguments are searched as an empty query rather than failing
// the call.
func (s *SemanticSearchTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := semanticSearchLogger.WithFields(logrus.Fields{
		"index": s.index,
		"input": input,
	})
	toolLogger.Info("Semantic search tool called")
	startTime := time.Now()

	if s.CallbacksHandler != nil {
		s.CallbacksHandler.HandleToolStart(ctx, input)
	}

	query, err := ParseQuery(input)
	if err != nil {
		toolLogger.WithError(err).WithField("errorKind", "tool_argument_unparseable").
			Warn("Unparseable tool arguments, searching with empty query")
		query = ""
	}

	if s.CallbacksHandler != nil {
		s.CallbacksHandler.HandleRetrieverStart(ctx, query)
	}

	matches, err := s.searcher.Search(ctx, s.index, query, s.topK)
	if err != nil {
		toolLogger.WithError(err).Error("Semantic search failed")
		if s.CallbacksHandler != nil {
			s.CallbacksHandler.HandleToolError(ctx, err)
		}
		return "", fmt.Errorf("semantic search on %q: %w", s.index, err)
	}

	if s.CallbacksHandler != nil {
		s.CallbacksHandler.HandleRetrieverEnd(ctx, query, matchDocuments(matches))
	}

	output, err := json.Marshal(MetadataPayload(matches))
	if err != nil {
		return "", fmt.Errorf("encode search results: %w", err)
	}

	toolLogger.WithFields(logrus.Fields{
		"query":         query,
		"matchCount":    len(matches),
		"executionTime": time.Since(startTime),
		"outputLength":  len(output),
	}).Info("Semantic search completed")

	if s.CallbacksHandler != nil {
		s.CallbacksHandler.HandleToolEnd(ctx, string(output))
	}
	return string(output), nil
}

// ParseQuery extracts the query string from the tool argument JSON.
func ParseQuery(input string) (string, error) {
	var args semanticSearchArgs
	if err := json.Unmarshal([]byte(strings.TrimSpace(input)), &args); err != nil {
		return "", fmt.Errorf("parse semantic search arguments: %w", err)
	}
	return args.Query, nil
}

// MetadataPayload keeps the metadata of each match, in rank order, skipping
// matches with no metadata.
func MetadataPayload(matches []search.Match) []map[string]any {
	payload := make([]map[string]any, 0, len(matches))
	for _, match := range matches {
		if len(match.Metadata) == 0 {
			continue
		}
		payload = append(payload, match.Metadata)
	}
	return payload
}

func matchDocuments(matches []search.Match) []schema.Document {
	docs := make([]schema.Document, 0, len(matches))
	for _, match := range matches {
		docs = append(docs, schema.Document{
			Metadata: match.Metadata,
			Score:    match.Score,
		})
	}
	return docs
}

var _ tools.Tool = (*SemanticSearchTool)(nil)
