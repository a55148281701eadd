package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
)

// Entry is one vector stored in a MemoryIndex.
type Entry struct {
	Index    string         `json:"index"`
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemoryIndex is an in-process vector index using brute-force cosine
// similarity. Suitable for development and small corpora.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry // index name -> entry id -> entry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]map[string]Entry)}
}

// LoadMemoryIndex reads a JSON array of entries from path.
func LoadMemoryIndex(path string) (*MemoryIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vector seed file: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode vector seed file: %w", err)
	}
	idx := NewMemoryIndex()
	if err := idx.Upsert(entries...); err != nil {
		return nil, err
	}
	return idx, nil
}

// Upsert inserts or replaces entries, keyed by index name and id.
func (m *MemoryIndex) Upsert(entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if e.Index == "" || e.ID == "" {
			return errors.New("entry index and id are required")
		}
		if len(e.Values) == 0 {
			return fmt.Errorf("entry %s/%s has no values", e.Index, e.ID)
		}
		byID, ok := m.entries[e.Index]
		if !ok {
			byID = make(map[string]Entry)
			m.entries[e.Index] = byID
		}
		byID[e.ID] = e
	}
	return nil
}

// Count returns the number of entries stored under the named index.
func (m *MemoryIndex) Count(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[index])
}

func (m *MemoryIndex) Query(_ context.Context, q Query) ([]Match, error) {
	if q.Index == "" {
		return nil, errors.New("index name is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	byID, ok := m.entries[q.Index]
	if !ok {
		return nil, fmt.Errorf("index %q not found", q.Index)
	}

	matches := make([]Match, 0, len(byID))
	for _, e := range byID {
		if len(e.Values) != len(q.Vector) {
			continue
		}
		match := Match{ID: e.ID, Score: cosineSimilarity(q.Vector, e.Values)}
		if q.IncludeMetadata {
			match.Metadata = e.Metadata
		}
		if q.IncludeValues {
			match.Values = append([]float32(nil), e.Values...)
		}
		matches = append(matches, match)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
