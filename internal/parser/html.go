package parser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgallion1/docreduce/internal/doctree"
)

// HTMLParser handles HTML files. Headings drive the section hierarchy and
// <table> elements are extracted into DocTree.Tables.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	tree := &doctree.DocTree{
		Title: strings.TrimSuffix(strings.TrimSuffix(filename, ".html"), ".htm"),
	}
	if title := findTitle(doc); title != "" {
		tree.Title = title
	}

	o := newOutline()
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.Data); level > 0 {
				o.heading(level, textContent(n))
				return
			}

			switch n.Data {
			case "script", "style", "nav", "footer", "header":
				return
			case "table":
				if t, ok := htmlTable(n, len(tree.Tables)+1); ok {
					tree.Tables = append(tree.Tables, t)
				}
				return
			case "p", "li", "blockquote", "pre":
				o.text(textContent(n))
				return
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if body := findElement(doc, "body"); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	tree.Children = o.nodes()

	return tree, nil
}

// htmlTable reads rows in document order. The first row is the header,
// whether it uses <th> or <td>.
func htmlTable(tbl *html.Node, n int) (doctree.Table, bool) {
	var rows [][]string
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "tr":
				var cells []string
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
						cells = append(cells, textContent(cell))
					}
				}
				rows = append(rows, cells)
			case "table":
				// Nested tables are not flattened into the outer one.
			default:
				collect(c)
			}
		}
	}
	collect(tbl)

	if len(rows) == 0 {
		return doctree.Table{}, false
	}
	t := doctree.Table{ID: fmt.Sprintf("Table %d", n), Header: rows[0]}
	for _, row := range rows[1:] {
		if hasText(row) {
			t.Rows = append(t.Rows, row)
		}
	}
	return t, true
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// textContent concatenates descendant text, collapsing runs of whitespace.
func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

func findTitle(n *html.Node) string {
	if t := findElement(n, "title"); t != nil {
		return textContent(t)
	}
	return ""
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
