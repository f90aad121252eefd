package parser

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dgallion1/docreduce/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files: heading-styled paragraphs shape the
// section tree and tables are extracted separately.
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	// go-docx needs a ReadSeeker+size, so write to temp file.
	tmp, err := os.CreateTemp("", "docreduce-docx-*.docx")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("seek temp file: %w", err)
	}

	doc, err := docx.Parse(tmp, int64(size))
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	tree := &doctree.DocTree{
		Title: strings.TrimSuffix(filename, ".docx"),
	}

	o := newOutline()
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Table:
			if t, ok := docxTable(it, len(tree.Tables)+1); ok {
				tree.Tables = append(tree.Tables, t)
			}
		case *docx.Paragraph:
			text := docxParagraphText(it)
			if level := docxHeadingLevel(it); level > 0 && text != "" {
				o.heading(level, text)
			} else {
				o.text(text)
			}
		}
	}
	tree.Children = o.nodes()

	return tree, nil
}

// docxHeadingLevel maps "Heading1" or "heading 1" style names to 1..6.
func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if len(style) != len("heading1") || !strings.HasPrefix(style, "heading") {
		return 0
	}
	if d := style[len(style)-1]; d >= '1' && d <= '6' {
		return int(d - '0')
	}
	return 0
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

// docxTable reads a table with its first row as the header. Cells repeated
// within a row (merged cells) are kept once and blank rows are dropped.
func docxTable(tbl *docx.Table, n int) (doctree.Table, bool) {
	if len(tbl.TableRows) == 0 {
		return doctree.Table{}, false
	}
	t := doctree.Table{
		ID:     fmt.Sprintf("Table %d", n),
		Header: docxRowCells(tbl.TableRows[0], false),
	}
	for _, row := range tbl.TableRows[1:] {
		cells := docxRowCells(row, true)
		if !hasText(cells) {
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, true
}

func docxRowCells(row *docx.WTableRow, dedupe bool) []string {
	seen := make(map[string]bool)
	var cells []string
	for _, cell := range row.TableCells {
		var parts []string
		for _, p := range cell.Paragraphs {
			if t := docxParagraphText(p); t != "" {
				parts = append(parts, t)
			}
		}
		text := strings.Join(parts, " ")
		if dedupe {
			if seen[text] {
				continue
			}
			seen[text] = true
		}
		cells = append(cells, text)
	}
	return cells
}

func hasText(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}
