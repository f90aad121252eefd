package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dgallion1/docreduce/internal/doctree"
)

// MarkdownParser handles Markdown files using goldmark. GFM tables are
// extracted into DocTree.Tables rather than the prose.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	tree := &doctree.DocTree{
		Title: strings.TrimSuffix(strings.TrimSuffix(filename, ".md"), ".markdown"),
	}

	o := newOutline()
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			o.heading(node.Level, extractText(node, src))
		case *extast.Table:
			tree.Tables = append(tree.Tables, markdownTable(node, src, len(tree.Tables)+1))
		default:
			o.text(extractText(n, src))
		}
	}
	tree.Children = o.nodes()

	return tree, nil
}

func markdownTable(tbl *extast.Table, src []byte, n int) doctree.Table {
	t := doctree.Table{ID: fmt.Sprintf("Table %d", n)}
	for row := tbl.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, extractText(cell, src))
		}
		if _, ok := row.(*extast.TableHeader); ok {
			t.Header = cells
			continue
		}
		if hasText(cells) {
			t.Rows = append(t.Rows, cells)
		}
	}
	return t
}

// extractText gets the text content of a goldmark AST node. Leaf blocks
// such as code blocks contribute their raw lines; everything else is built
// from its inline children.
func extractText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && !n.HasChildren() {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			if c.Type() == ast.TypeBlock && buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(extractText(c, src))
		}
	}
	return strings.TrimSpace(buf.String())
}
