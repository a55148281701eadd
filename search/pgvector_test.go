package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGVectorIndexQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id, 1 - (embedding <=> $2) AS score, metadata FROM vector_entries WHERE index_name = $1 ORDER BY embedding <=> $2 LIMIT $3",
	)).
		WithArgs("faq", sqlmock.AnyArg(), 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "score", "metadata"}).
			AddRow("doc-1", 0.92, []byte(`{"title":"Shipping","url":"https://example.com/shipping"}`)).
			AddRow("doc-2", 0.71, nil))

	idx := NewPGVectorIndex(db)
	matches, err := idx.Query(context.Background(), Query{
		Index:           "faq",
		Vector:          []float32{0.1, 0.2, 0.3},
		TopK:            3,
		IncludeMetadata: true,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc-1", matches[0].ID)
	assert.InDelta(t, 0.92, matches[0].Score, 0.0001)
	assert.Equal(t, "Shipping", matches[0].Metadata["title"])
	assert.Nil(t, matches[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorIndexQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id").WillReturnError(errors.New("relation does not exist"))

	idx := NewPGVectorIndex(db)
	_, err = idx.Query(context.Background(), Query{Index: "faq", Vector: []float32{1}, TopK: 1, IncludeMetadata: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
}

func TestPGVectorIndexValidatesQuery(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	idx := NewPGVectorIndex(db)
	_, err = idx.Query(context.Background(), Query{Vector: []float32{1}})
	assert.Error(t, err)
	_, err = idx.Query(context.Background(), Query{Index: "faq"})
	assert.Error(t, err)
}

func TestLoadMemoryIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"index":"faq","id":"1","values":[1,0],"metadata":{"q":"hours"}},
		{"index":"faq","id":"2","values":[0,1]}
	]`), 0o644))

	idx, err := LoadMemoryIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Count("faq"))
}
