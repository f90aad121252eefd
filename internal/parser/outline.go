package parser

import (
	"strings"

	"github.com/dgallion1/docreduce/internal/doctree"
)

// outline turns a flat stream of headings and paragraphs into a section
// hierarchy. Text before the first heading becomes a leading untitled node.
type outline struct {
	root    *doctree.DocNode
	stack   []outlineEntry
	pending strings.Builder
}

type outlineEntry struct {
	node  *doctree.DocNode
	level int
}

func newOutline() *outline {
	root := &doctree.DocNode{}
	return &outline{root: root, stack: []outlineEntry{{node: root}}}
}

// heading opens a section at level, closing any open section at the same or
// a deeper level.
func (o *outline) heading(level int, title string) {
	o.flush()
	node := &doctree.DocNode{Title: title}
	for len(o.stack) > 1 && o.stack[len(o.stack)-1].level >= level {
		o.stack = o.stack[:len(o.stack)-1]
	}
	parent := o.stack[len(o.stack)-1].node
	parent.Children = append(parent.Children, node)
	o.stack = append(o.stack, outlineEntry{node: node, level: level})
}

// text adds a paragraph to the innermost open section.
func (o *outline) text(t string) {
	if t == "" {
		return
	}
	if o.pending.Len() > 0 {
		o.pending.WriteString("\n\n")
	}
	o.pending.WriteString(t)
}

func (o *outline) flush() {
	t := strings.TrimSpace(o.pending.String())
	o.pending.Reset()
	if t == "" {
		return
	}
	top := o.stack[len(o.stack)-1].node
	if top.Text != "" {
		top.Text += "\n\n" + t
	} else {
		top.Text = t
	}
}

// nodes closes the outline and returns its top-level sections.
func (o *outline) nodes() []*doctree.DocNode {
	o.flush()
	children := o.root.Children
	if o.root.Text != "" {
		children = append([]*doctree.DocNode{{Text: o.root.Text}}, children...)
	}
	return children
}
