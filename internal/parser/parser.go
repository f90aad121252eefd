package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docreduce/internal/doctree"
)

var (
	// ErrUnsupported is returned for file extensions no parser handles.
	ErrUnsupported = errors.New("unsupported file format")
	// ErrEmpty is returned when a document yields no text and no tables.
	ErrEmpty = errors.New("empty extraction")
)

// ExtractionError reports a source that could not be turned into text.
// Batch callers log it and move on to the next file.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Parser converts raw document bytes into a DocTree.
type Parser interface {
	Parse(r io.Reader, filename string) (*doctree.DocTree, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// Options adjust parser selection.
type Options struct {
	// PDFFallbackPdftotext shells out to pdftotext when the Go PDF reader
	// fails.
	PDFFallbackPdftotext bool
}

// DefaultOptions enables every fallback.
var DefaultOptions = Options{PDFFallbackPdftotext: true}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	return DefaultOptions.ForFile(filename)
}

// ForFile picks the parser for filename using o's settings.
func (o Options) ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: o.PDFFallbackPdftotext}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// ParseFile opens path and parses it with the parser for its extension.
// Every failure, including a document with no content, is returned as an
// *ExtractionError.
func ParseFile(path string) (*doctree.DocTree, error) {
	return DefaultOptions.ParseFile(path)
}

// ParseFile is the package-level ParseFile with o's parser settings.
func (o Options) ParseFile(path string) (*doctree.DocTree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	tree, err := o.ParseReader(f, filepath.Base(path))
	if err != nil {
		var ee *ExtractionError
		if errors.As(err, &ee) {
			ee.Path = path
		}
		return nil, err
	}
	return tree, nil
}

// ParseReader parses r using the parser for filename's extension, with the
// same error contract as ParseFile.
func ParseReader(r io.Reader, filename string) (*doctree.DocTree, error) {
	return DefaultOptions.ParseReader(r, filename)
}

// ParseReader is the package-level ParseReader with o's parser settings.
func (o Options) ParseReader(r io.Reader, filename string) (*doctree.DocTree, error) {
	p, err := o.ForFile(filename)
	if err != nil {
		return nil, &ExtractionError{Path: filename, Err: err}
	}
	tree, err := p.Parse(r, filename)
	if err != nil {
		return nil, &ExtractionError{Path: filename, Err: err}
	}
	if strings.TrimSpace(tree.FullText()) == "" {
		return nil, &ExtractionError{Path: filename, Err: ErrEmpty}
	}
	return tree, nil
}
