package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreduce/internal/doctree"
	"github.com/dgallion1/docreduce/internal/index"
)

func openTemp(t *testing.T, dim int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(context.Background(), path, dim)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_AddSearch(t *testing.T) {
	s, _ := openTemp(t, 2)
	ctx := context.Background()
	err := s.Add(ctx,
		[][]float32{{0, 0}, {3, 4}, {1, 1}},
		[]doctree.Record{
			{FileName: "a.txt", PageNumber: 1, ChunkNumber: 1, Text: "origin"},
			{FileName: "a.txt", PageNumber: 1, ChunkNumber: 2, Text: "far"},
			{FileName: "b.docx", PageNumber: 1, ChunkNumber: 1, Text: "table", SectionType: "table",
				TableID: "Table 1", Header: []string{"k", "v"}, Rows: [][]string{{"x", "1"}}},
		})
	require.NoError(t, err)

	hits, err := s.Search(ctx, []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "origin", hits[0].Record.Text)
	assert.Equal(t, 0, hits[0].Row)
	assert.Equal(t, "table", hits[1].Record.Text)
	assert.Equal(t, []string{"k", "v"}, hits[1].Record.Header)
	assert.Equal(t, [][]string{{"x", "1"}}, hits[1].Record.Rows)
	assert.Equal(t, float32(25), hits[2].Distance)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	s, path := openTemp(t, 3)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, [][]float32{{1, 2, 3}}, []doctree.Record{{FileName: "x", ChunkNumber: 1, Text: "kept"}}))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path, 3)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_RejectsDimensionChange(t *testing.T) {
	s, path := openTemp(t, 3)
	require.NoError(t, s.Close())

	_, err := Open(context.Background(), path, 4)
	assert.ErrorIs(t, err, index.ErrDimension)
}

func TestStore_DimensionMismatchOnAdd(t *testing.T) {
	s, _ := openTemp(t, 3)
	err := s.Add(context.Background(), [][]float32{{1}}, []doctree.Record{{Text: "a"}})
	assert.ErrorIs(t, err, index.ErrDimension)
}

func TestEncodeDecode(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, v, decode(encode(v)))
}
