package tools

import (
	"context"
	"errors"
	"testing"

	"chatproxy/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/callbacks"
)

type stubSearcher struct {
	matches []search.Match
	err     error
	queries []string
	indexes []string
	topKs   []int
}

func (s *stubSearcher) Search(_ context.Context, index, query string, k int) ([]search.Match, error) {
	s.indexes = append(s.indexes, index)
	s.queries = append(s.queries, query)
	s.topKs = append(s.topKs, k)
	return s.matches, s.err
}

type recordingHandler struct {
	callbacks.SimpleHandler
	retrieverQueries []string
	toolErrors       int
}

func (h *recordingHandler) HandleRetrieverStart(_ context.Context, query string) {
	h.retrieverQueries = append(h.retrieverQueries, query)
}

func (h *recordingHandler) HandleToolError(_ context.Context, _ error) {
	h.toolErrors++
}

func TestSemanticSearchDropsEmptyMetadata(t *testing.T) {
	searcher := &stubSearcher{matches: []search.Match{
		{ID: "1", Score: 0.9, Metadata: map[string]any{"a": 1}},
		{ID: "2", Score: 0.8, Metadata: map[string]any{"b": 2}},
		{ID: "3", Score: 0.7, Metadata: map[string]any{}},
	}}
	tool := NewSemanticSearchTool(searcher, "catalog", 20)

	out, err := tool.Call(context.Background(), `{"query":"red shoes"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"a":1},{"b":2}]`, out)
	assert.Equal(t, []string{"red shoes"}, searcher.queries)
	assert.Equal(t, []string{"catalog"}, searcher.indexes)
	assert.Equal(t, []int{20}, searcher.topKs)
}

func TestSemanticSearchUnparseableArgumentsUseEmptyQuery(t *testing.T) {
	searcher := &stubSearcher{}
	handler := &recordingHandler{}
	tool := NewSemanticSearchTool(searcher, "catalog", 5)
	tool.CallbacksHandler = handler

	out, err := tool.Call(context.Background(), `{"query": "unterminated`)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
	assert.Equal(t, []string{""}, searcher.queries)
	assert.Equal(t, []string{""}, handler.retrieverQueries)
}

func TestSemanticSearchPropagatesSearchFailure(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("embedding provider down")}
	handler := &recordingHandler{}
	tool := NewSemanticSearchTool(searcher, "catalog", 5)
	tool.CallbacksHandler = handler

	_, err := tool.Call(context.Background(), `{"query":"x"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding provider down")
	assert.Equal(t, 1, handler.toolErrors)
}

func TestSemanticSearchDescriptionNamesIndex(t *testing.T) {
	tool := NewSemanticSearchTool(&stubSearcher{}, "support-articles", 5)
	assert.Contains(t, tool.Description(), `"support-articles"`)
	assert.Equal(t, SemanticSearchName, tool.Name())
}

func TestParseQuery(t *testing.T) {
	query, err := ParseQuery(` {"query":"opening hours"} `)
	require.NoError(t, err)
	assert.Equal(t, "opening hours", query)

	_, err = ParseQuery("not json")
	assert.Error(t, err)
}

func TestDispatcherLookupAndDefinitions(t *testing.T) {
	tool := NewSemanticSearchTool(&stubSearcher{}, "faq", 5)
	d := NewDispatcher(tool, nil)

	found, ok := d.Lookup(SemanticSearchName)
	require.True(t, ok)
	assert.Same(t, tool, found)

	_, ok = d.Lookup("get_weather")
	assert.False(t, ok)

	defs := d.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, SemanticSearchName, defs[0].Name)
	assert.Equal(t, []string{"query"}, defs[0].Parameters["required"])
	assert.Equal(t, 1, d.Len())
}

func TestEmptyDispatcher(t *testing.T) {
	var d *Dispatcher
	_, ok := d.Lookup(SemanticSearchName)
	assert.False(t, ok)
	assert.Empty(t, d.Definitions())
	assert.Equal(t, 0, NewDispatcher().Len())
}
