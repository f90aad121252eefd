package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestForFile_Unsupported(t *testing.T) {
	_, err := ForFile("sheet.xlsx")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tree, err := ParseFile(write("ok.txt", "hello\n\nworld"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Text() != "hello\n\nworld" {
		t.Errorf("unexpected text %q", tree.Text())
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{"unsupported", write("data.bin", "x"), ErrUnsupported},
		{"empty", write("blank.txt", "  \n\n "), ErrEmpty},
		{"missing", filepath.Join(dir, "nope.txt"), os.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile(tt.path)
			var extractErr *ExtractionError
			if !errors.As(err, &extractErr) {
				t.Fatalf("expected *ExtractionError, got %T %v", err, err)
			}
			if extractErr.Path != tt.path {
				t.Errorf("expected path %q, got %q", tt.path, extractErr.Path)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPageNodes(t *testing.T) {
	nodes := pageNodes("first page\f\f  third page  ")
	if len(nodes) != 2 {
		t.Fatalf("expected 2 non-blank pages, got %d", len(nodes))
	}
	if nodes[0].Text != "Page 1: first page" || nodes[0].Page != 1 {
		t.Errorf("unexpected first page %+v", nodes[0])
	}
	if nodes[1].Text != "Page 3: third page" || nodes[1].Page != 3 {
		t.Errorf("unexpected third page %+v", nodes[1])
	}
}

func TestOutline_Nesting(t *testing.T) {
	o := newOutline()
	o.text("lead")
	o.heading(1, "A")
	o.text("a body")
	o.heading(2, "A.1")
	o.text("a1 body")
	o.heading(1, "B")
	o.text("")
	nodes := o.nodes()

	if len(nodes) != 3 {
		t.Fatalf("expected lead plus 2 sections, got %d", len(nodes))
	}
	if nodes[0].Text != "lead" || nodes[0].Title != "" {
		t.Errorf("unexpected lead %+v", nodes[0])
	}
	if nodes[1].Title != "A" || len(nodes[1].Children) != 1 || nodes[1].Children[0].Text != "a1 body" {
		t.Errorf("unexpected section A %+v", nodes[1])
	}
	if nodes[2].Title != "B" || nodes[2].Text != "" {
		t.Errorf("unexpected section B %+v", nodes[2])
	}
}

func TestParseReader_UsesFilenameExtension(t *testing.T) {
	tree, err := ParseReader(strings.NewReader("# Title\n\nBody."), "upload.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Children) != 1 || tree.Children[0].Title != "Title" {
		t.Errorf("expected markdown parse, got %+v", tree.Children)
	}

	_, err = ParseReader(strings.NewReader("x"), "upload.xlsx")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestOptions_PDFFallback(t *testing.T) {
	for _, want := range []bool{true, false} {
		p, err := Options{PDFFallbackPdftotext: want}.ForFile("scan.PDF")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pdf, ok := p.(*PDFParser)
		if !ok {
			t.Fatalf("expected *PDFParser, got %T", p)
		}
		if pdf.FallbackPdftotext != want {
			t.Errorf("expected fallback %v, got %v", want, pdf.FallbackPdftotext)
		}
	}
}
