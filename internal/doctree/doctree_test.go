package doctree

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDocTree_TextOrder(t *testing.T) {
	tree := &DocTree{
		Children: []*DocNode{
			{Title: "A", Text: "alpha", Children: []*DocNode{{Text: "alpha child"}}},
			{Title: "B"},
			{Text: "gamma"},
		},
	}
	want := "alpha\n\nalpha child\n\ngamma"
	if got := tree.Text(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestDocTree_FullTextAppendsTableRows(t *testing.T) {
	tree := &DocTree{
		Children: []*DocNode{{Text: "intro"}},
		Tables: []Table{{
			ID:     "Table 1",
			Header: []string{"Name", "Age"},
			Rows:   [][]string{{"Name", "Age"}, {"Ann", "31"}},
		}},
	}
	got := tree.FullText()
	if !strings.HasSuffix(got, "Name | Age\nAnn | 31") {
		t.Errorf("expected table rows at end, got %q", got)
	}
}

func TestChunk_RecordJSON(t *testing.T) {
	c := Chunk{SourceID: "report.pdf", Sequence: 2, Page: 1, Text: "body"}
	data, err := json.Marshal(c.Record())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"file_name":"report.pdf","page_number":1,"chunk_number":2,"text":"body"}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestStem(t *testing.T) {
	tests := map[string]string{
		"docs/report.pdf": "report",
		"notes.txt":       "notes",
		"archive.tar.gz":  "archive.tar",
		"README":          "README",
	}
	for in, want := range tests {
		if got := Stem(in); got != want {
			t.Errorf("Stem(%q): expected %q, got %q", in, want, got)
		}
	}
}
