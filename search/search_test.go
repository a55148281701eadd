package search

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vector []float32
	err    error
	calls  []string
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	s.calls = append(s.calls, text)
	return s.vector, s.err
}

type stubIndex struct {
	matches []Match
	err     error
	got     Query
	called  bool
}

func (s *stubIndex) Query(_ context.Context, q Query) ([]Match, error) {
	s.called = true
	s.got = q
	return s.matches, s.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestClientSearchDefaultsTopK(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{0.1, 0.2}}
	index := &stubIndex{matches: []Match{{ID: "a", Score: 0.9}}}
	client := NewClient(embedder, index, quietLogger())

	matches, err := client.Search(context.Background(), "docs", "refund policy", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, []string{"refund policy"}, embedder.calls)
	assert.Equal(t, Query{
		Index:           "docs",
		Vector:          []float32{0.1, 0.2},
		TopK:            DefaultTopK,
		IncludeMetadata: true,
		IncludeValues:   false,
	}, index.got)
}

func TestClientSearchPropagatesEmbeddingFailure(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("401 unauthorized")}
	index := &stubIndex{}
	client := NewClient(embedder, index, quietLogger())

	_, err := client.Search(context.Background(), "docs", "anything", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 unauthorized")
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.False(t, index.called, "index must not be queried without a vector")
}

func TestClientSearchAbsorbsIndexFailure(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1}}
	index := &stubIndex{err: errors.New("connection refused")}
	client := NewClient(embedder, index, quietLogger())

	matches, err := client.Search(context.Background(), "docs", "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestMemoryIndexRanksByCosineSimilarity(t *testing.T) {
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(
		Entry{Index: "docs", ID: "far", Values: []float32{0, 1}, Metadata: map[string]any{"title": "far"}},
		Entry{Index: "docs", ID: "near", Values: []float32{1, 0.1}, Metadata: map[string]any{"title": "near"}},
		Entry{Index: "docs", ID: "exact", Values: []float32{1, 0}, Metadata: map[string]any{"title": "exact"}},
		Entry{Index: "other", ID: "elsewhere", Values: []float32{1, 0}},
	))

	matches, err := idx.Query(context.Background(), Query{
		Index:           "docs",
		Vector:          []float32{1, 0},
		TopK:            2,
		IncludeMetadata: true,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].ID)
	assert.Equal(t, "near", matches[1].ID)
	assert.Equal(t, map[string]any{"title": "exact"}, matches[0].Metadata)
	assert.Nil(t, matches[0].Values)
}

func TestMemoryIndexUnknownIndex(t *testing.T) {
	idx := NewMemoryIndex()
	_, err := idx.Query(context.Background(), Query{Index: "missing", Vector: []float32{1}})
	assert.Error(t, err)
}

func TestMemoryIndexRejectsIncompleteEntries(t *testing.T) {
	idx := NewMemoryIndex()
	assert.Error(t, idx.Upsert(Entry{ID: "x", Values: []float32{1}}))
	assert.Error(t, idx.Upsert(Entry{Index: "docs", ID: "x"}))
	assert.Equal(t, 0, idx.Count("docs"))
}
