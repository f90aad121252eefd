package doctree

import (
	"path/filepath"
	"strings"
)

// DocTree is the root of a parsed document.
type DocTree struct {
	Title    string     // Document title (from metadata or filename)
	Children []*DocNode // Top-level sections
	Tables   []Table    // Tabular content, kept apart from prose
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // Source page (0 if N/A)
	Children []*DocNode // Subsections
}

// Table is a header plus data rows extracted from a document.
type Table struct {
	ID     string     // "Table 1", "Table 2", ...
	Header []string
	Rows   [][]string
}

// Section types carried on chunks.
const (
	SectionText  = "text"
	SectionTable = "table"
)

// Chunk is a bounded, immutable slice of a source document.
type Chunk struct {
	SourceID    string // File name of the source document
	Sequence    int    // 1-based, gapless within a source
	Page        int    // Estimated page, >= 1, non-decreasing with Sequence
	Text        string
	StartOffset int // Character offset of the window start in the source text
	TokenCount  int

	SectionType string
	TableID     string
	Header      []string
	Rows        [][]string
}

// Record is the persisted JSON form of a chunk.
type Record struct {
	FileName    string     `json:"file_name"`
	PageNumber  int        `json:"page_number"`
	ChunkNumber int        `json:"chunk_number"`
	Text        string     `json:"text"`
	TableID     string     `json:"table_id,omitempty"`
	Header      []string   `json:"header,omitempty"`
	Rows        [][]string `json:"rows,omitempty"`
	SectionType string     `json:"section_type,omitempty"`
}

// Record converts the chunk to its persisted form.
func (c Chunk) Record() Record {
	return Record{
		FileName:    c.SourceID,
		PageNumber:  c.Page,
		ChunkNumber: c.Sequence,
		Text:        c.Text,
		TableID:     c.TableID,
		Header:      c.Header,
		Rows:        c.Rows,
		SectionType: c.SectionType,
	}
}

// Records converts a slice of chunks.
func Records(chunks []Chunk) []Record {
	out := make([]Record, len(chunks))
	for i, c := range chunks {
		out[i] = c.Record()
	}
	return out
}

// Text flattens all node text in document order, separated by blank lines.
func (t *DocTree) Text() string {
	var sb strings.Builder
	var walk func(nodes []*DocNode)
	walk = func(nodes []*DocNode) {
		for _, n := range nodes {
			if n.Text != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n\n")
				}
				sb.WriteString(n.Text)
			}
			walk(n.Children)
		}
	}
	walk(t.Children)
	return sb.String()
}

// FullText is Text followed by every table row rendered as "a | b | c".
func (t *DocTree) FullText() string {
	var sb strings.Builder
	sb.WriteString(t.Text())
	for _, tbl := range t.Tables {
		for _, row := range tbl.Rows {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.Join(row, " | "))
		}
	}
	return sb.String()
}

// Stem returns a file name without directory or extension.
func Stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
