// Package store writes pipeline artifacts under the output directory:
// chunk JSON, extracted text, translations and summaries.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgallion1/docreduce/internal/doctree"
)

// Subdirectories of the output root.
const (
	ChunksDir     = "chunks"
	ExtractedDir  = "extracted"
	TranslatedDir = "translated"
	SummariesDir  = "summaries"
	VectorDBDir   = "vector_db"
)

const tablesSuffix = "_tables"

// ErrNoDocument is returned when no chunk file exists for a stem.
var ErrNoDocument = errors.New("document not found")

// Store roots every artifact at one directory.
type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string { return s.root }

// Path joins elem onto the output root.
func (s *Store) Path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

// EnsureDirs creates the output tree.
func (s *Store) EnsureDirs() error {
	for _, d := range []string{ChunksDir, ExtractedDir, TranslatedDir, SummariesDir} {
		if err := os.MkdirAll(s.Path(d), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// SaveChunks writes text chunks to chunks/<stem>.json and table chunks to
// chunks/<stem>_tables.json. Empty groups are not written. It returns the
// paths written.
func (s *Store) SaveChunks(sourceName string, chunks []doctree.Chunk) ([]string, error) {
	var text, tables []doctree.Record
	for _, c := range chunks {
		if c.SectionType == doctree.SectionTable {
			tables = append(tables, c.Record())
		} else {
			text = append(text, c.Record())
		}
	}

	stem := doctree.Stem(sourceName)
	var written []string
	if len(text) > 0 {
		p := s.Path(ChunksDir, stem+".json")
		if err := writeJSON(p, text); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	if len(tables) > 0 {
		p := s.Path(ChunksDir, stem+tablesSuffix+".json")
		if err := writeJSON(p, tables); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	return written, nil
}

// LoadChunks reads the text and table records saved for stem.
func (s *Store) LoadChunks(stem string) ([]doctree.Record, error) {
	var out []doctree.Record
	found := false
	for _, name := range []string{stem + ".json", stem + tablesSuffix + ".json"} {
		data, err := os.ReadFile(s.Path(ChunksDir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var recs []doctree.Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		found = true
		out = append(out, recs...)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoDocument, stem)
	}
	return out, nil
}

// Document summarizes the chunk files saved for one source.
type Document struct {
	Stem      string `json:"stem"`
	Chunks    int    `json:"chunks"`
	HasTables bool   `json:"has_tables"`
	TableFile string `json:"table_file,omitempty"`
}

// ListDocuments returns every document with saved chunks, sorted by stem.
func (s *Store) ListDocuments() ([]Document, error) {
	entries, err := os.ReadDir(s.Path(ChunksDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	byStem := make(map[string]*Document)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		isTable := strings.HasSuffix(stem, tablesSuffix)
		if isTable {
			stem = strings.TrimSuffix(stem, tablesSuffix)
		}
		d, ok := byStem[stem]
		if !ok {
			d = &Document{Stem: stem}
			byStem[stem] = d
		}
		if isTable {
			d.HasTables = true
			d.TableFile = name
		}
	}

	docs := make([]Document, 0, len(byStem))
	for stem, d := range byStem {
		recs, err := s.LoadChunks(stem)
		if err != nil {
			return nil, err
		}
		d.Chunks = len(recs)
		docs = append(docs, *d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Stem < docs[j].Stem })
	return docs, nil
}

// SaveExtracted writes raw extracted text to extracted/<stem>.txt.
func (s *Store) SaveExtracted(sourceName, text string) (string, error) {
	p := s.Path(ExtractedDir, doctree.Stem(sourceName)+".txt")
	return p, SaveText(p, text)
}

// SaveTranslation writes translated/<stem>_<lang>.txt.
func (s *Store) SaveTranslation(sourceName, lang, text string) (string, error) {
	p := s.Path(TranslatedDir, doctree.Stem(sourceName)+"_"+lang+".txt")
	return p, SaveText(p, text)
}

// SaveSummary writes summaries/<stem>_<strategy>.txt.
func (s *Store) SaveSummary(sourceName, strategy, text string) (string, error) {
	p := s.Path(SummariesDir, doctree.Stem(sourceName)+"_"+strategy+".txt")
	return p, SaveText(p, text)
}

// SaveText writes text as UTF-8, creating parent directories.
func SaveText(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// writeJSON encodes v with four-space indentation and without HTML
// escaping so non-ASCII text stays readable.
func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return SaveText(path, buf.String())
}
