package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreduce/internal/doctree"
)

func sampleChunks() []doctree.Chunk {
	return []doctree.Chunk{
		{SourceID: "report.docx", Sequence: 1, Page: 1, Text: "intro <b> مرحبا", SectionType: doctree.SectionText},
		{SourceID: "report.docx", Sequence: 2, Page: 1, Text: "body", SectionType: doctree.SectionText},
		{SourceID: "report.docx", Sequence: 3, Page: 1, Text: "a | b", SectionType: doctree.SectionTable,
			TableID: "Table 1", Header: []string{"a", "b"}, Rows: [][]string{{"a", "b"}}},
	}
}

func TestSaveChunks_SplitsTables(t *testing.T) {
	s := New(t.TempDir())
	paths, err := s.SaveChunks("docs/report.docx", sampleChunks())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, s.Path(ChunksDir, "report.json"), paths[0])
	assert.Equal(t, s.Path(ChunksDir, "report_tables.json"), paths[1])

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "مرحبا")
	assert.Contains(t, string(data), "<b>")
	assert.Contains(t, string(data), "\n    {")

	var recs []map[string]any
	require.NoError(t, json.Unmarshal(data, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "report.docx", recs[0]["file_name"])
	assert.EqualValues(t, 1, recs[0]["chunk_number"])
	assert.NotContains(t, recs[0], "rows")

	tables, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Contains(t, string(tables), `"table_id": "Table 1"`)
	assert.Contains(t, string(tables), `"section_type": "table"`)
}

func TestSaveChunks_TextOnly(t *testing.T) {
	s := New(t.TempDir())
	paths, err := s.SaveChunks("notes.txt", sampleChunks()[:1])
	require.NoError(t, err)
	assert.Len(t, paths, 1)
	_, err = os.Stat(s.Path(ChunksDir, "notes_tables.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadAndList(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.SaveChunks("report.docx", sampleChunks())
	require.NoError(t, err)
	_, err = s.SaveChunks("a.txt", sampleChunks()[:1])
	require.NoError(t, err)

	recs, err := s.LoadChunks("report")
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	_, err = s.LoadChunks("missing")
	assert.ErrorIs(t, err, ErrNoDocument)

	docs, err := s.ListDocuments()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Stem)
	assert.Equal(t, 1, docs[0].Chunks)
	assert.Equal(t, "report", docs[1].Stem)
	assert.Equal(t, 3, docs[1].Chunks)
	assert.True(t, docs[1].HasTables)
}

func TestListDocuments_NoDir(t *testing.T) {
	docs, err := New(filepath.Join(t.TempDir(), "nope")).ListDocuments()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestTextOutputs(t *testing.T) {
	s := New(t.TempDir())

	p, err := s.SaveTranslation("in/paper.pdf", "ar", "نص")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, filepath.Join(TranslatedDir, "paper_ar.txt")))

	p, err = s.SaveSummary("paper.pdf", "extractive", "short")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, filepath.Join(SummariesDir, "paper_extractive.txt")))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))

	p, err = s.SaveExtracted("paper.pdf", "raw")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, filepath.Join(ExtractedDir, "paper.txt")))
}

func TestEnsureDirs(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.EnsureDirs())
	for _, d := range []string{ChunksDir, ExtractedDir, TranslatedDir, SummariesDir} {
		info, err := os.Stat(s.Path(d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
