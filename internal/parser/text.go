package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/docreduce/internal/doctree"
)

// TextParser handles plain text files. Blank lines separate paragraphs and
// a form feed starts a new page.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	tree := &doctree.DocTree{
		Title: strings.TrimSuffix(filename, ".txt"),
	}

	page := 1
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		tree.Children = append(tree.Children, &doctree.DocNode{Text: current.String(), Page: page})
		current.Reset()
	}

	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), "\f")
		for i, line := range parts {
			if i > 0 {
				flush()
				page++
			}
			if strings.TrimSpace(line) == "" {
				if len(parts) == 1 {
					flush()
				}
				continue
			}
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return tree, nil
}
