/*
Package search turns free text into a ranked set of semantically similar
vector index entries.

A Client pairs an Embedder, which converts the query into a vector, with an
Index, which runs the nearest-neighbour lookup against a named index. Two
Index implementations ship with the proxy:
- PGVectorIndex: Postgres with the pgvector extension
- MemoryIndex: brute-force cosine similarity, for development and tests
*/
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DefaultTopK is the number of matches requested when the caller passes k <= 0.
const DefaultTopK = 20

// ErrEmbedding marks a search that failed before the index was queried
// because no query vector could be computed.
var ErrEmbedding = errors.New("embedding provider failed")

// Match is one ranked entry returned by a vector index.
type Match struct {
	ID       string         `json:"id"`               // Entry identifier inside the index
	Score    float32        `json:"score"`            // Similarity score, higher is closer
	Metadata map[string]any `json:"metadata"`         // Arbitrary metadata stored with the entry
	Values   []float32      `json:"values,omitempty"` // Raw vector, only when requested
}

// Query describes a nearest-neighbour lookup.
type Query struct {
	Index           string
	Vector          []float32
	TopK            int
	IncludeMetadata bool
	IncludeValues   bool
}

// Embedder computes an embedding vector for a query text.
// langchaingo's embeddings.Embedder satisfies it.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index runs nearest-neighbour queries against named vector indexes.
type Index interface {
	Query(ctx context.Context, q Query) ([]Match, error)
}

// Client wraps embedding generation and the index query behind one call.
type Client struct {
	embedder Embedder
	index    Index
	logger   *logrus.Entry
}

// NewClient creates a search client over the given embedder and index.
func NewClient(embedder Embedder, index Index, logger *logrus.Logger) *Client {
	return &Client{
		embedder: embedder,
		index:    index,
		logger:   logger.WithField("component", "search"),
	}
}

// Search embeds the query and returns up to k matches from the named index.
//
// An embedding failure is returned to the caller wrapped in ErrEmbedding.
// A failure of the index query itself is logged and reported as an empty
// result set, so callers cannot tell "no results" from "index unavailable".
func (c *Client) Search(ctx context.Context, index, query string, k int) ([]Match, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	matches, err := c.index.Query(ctx, Query{
		Index:           index,
		Vector:          vector,
		TopK:            k,
		IncludeMetadata: true,
		IncludeValues:   false,
	})
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"index": index,
			"topK":  k,
		}).Warn("Vector index query failed, returning no matches")
		return []Match{}, nil
	}

	c.logger.WithFields(logrus.Fields{
		"index":      index,
		"topK":       k,
		"matchCount": len(matches),
	}).Debug("Vector search completed")

	return matches, nil
}
