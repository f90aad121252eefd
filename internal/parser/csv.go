package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/dgallion1/docreduce/internal/doctree"
)

// csvBatchRows is how many data rows go into one node.
const csvBatchRows = 20

// CSVParser renders CSV files as aligned text tables, one node per batch of
// rows, with the header repeated on each.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	tree := &doctree.DocTree{
		Title: strings.TrimSuffix(filename, ".csv"),
	}

	if len(records) == 0 {
		return tree, nil
	}

	headers := records[0]
	dataRows := records[1:]
	widths := columnWidths(records)

	if len(dataRows) == 0 {
		tree.Children = []*doctree.DocNode{{Text: renderRow(headers, widths)}}
		return tree, nil
	}

	for i := 0; i < len(dataRows); i += csvBatchRows {
		end := min(i+csvBatchRows, len(dataRows))

		var text strings.Builder
		text.WriteString(renderRow(headers, widths))
		for _, row := range dataRows[i:end] {
			text.WriteString("\n")
			text.WriteString(renderRow(row, widths))
		}

		tree.Children = append(tree.Children, &doctree.DocNode{
			Title: fmt.Sprintf("Rows %d-%d", i+2, end+1), // 1-indexed, skip header
			Text:  text.String(),
		})
	}

	return tree, nil
}

func columnWidths(records [][]string) []int {
	var widths []int
	for _, row := range records {
		for j, cell := range row {
			if j >= len(widths) {
				widths = append(widths, 0)
			}
			widths[j] = max(widths[j], runewidth.StringWidth(cell))
		}
	}
	return widths
}

// renderRow right-aligns each cell to its column width, two spaces apart.
func renderRow(row []string, widths []int) string {
	cells := make([]string, len(row))
	for j, cell := range row {
		cells[j] = runewidth.FillLeft(cell, widths[j])
	}
	return strings.TrimRight(strings.Join(cells, "  "), " ")
}
