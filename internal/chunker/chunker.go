package chunker

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docreduce/internal/doctree"
	"github.com/dgallion1/docreduce/internal/tokenizer"
)

// ErrChunkConfig reports a window configuration that cannot make progress.
var ErrChunkConfig = errors.New("invalid chunk configuration")

// ConfigError carries the rejected window parameters.
type ConfigError struct {
	MaxTokens     int
	OverlapTokens int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: overlap %d must be >= 0 and smaller than max tokens %d",
		ErrChunkConfig, e.OverlapTokens, e.MaxTokens)
}

func (e *ConfigError) Unwrap() error { return ErrChunkConfig }

// Config controls chunking behavior.
type Config struct {
	MaxTokens       int // Window size in tokens.
	OverlapTokens   int // Tokens shared by consecutive windows.
	AvgCharsPerPage int // Page estimate divisor.
	RowsPerChunk    int // Table rows per table chunk.
}

// DefaultConfig returns the ingestion defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:       1500,
		OverlapTokens:   100,
		AvgCharsPerPage: 2000,
		RowsPerChunk:    5,
	}
}

// Validate rejects windows that would not advance.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 || c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxTokens {
		return &ConfigError{MaxTokens: c.MaxTokens, OverlapTokens: c.OverlapTokens}
	}
	return nil
}

// Chunker splits text into overlapping token windows.
type Chunker struct {
	tok tokenizer.Tokenizer
	cfg Config
}

// New validates cfg and returns a Chunker. Zero page and row settings
// fall back to the defaults.
func New(tok tokenizer.Tokenizer, cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AvgCharsPerPage <= 0 {
		cfg.AvgCharsPerPage = 2000
	}
	if cfg.RowsPerChunk <= 0 {
		cfg.RowsPerChunk = 5
	}
	return &Chunker{tok: tok, cfg: cfg}, nil
}

// Split is a one-shot helper for callers that do not keep a Chunker around.
func Split(tok tokenizer.Tokenizer, sourceID, text string, cfg Config) ([]doctree.Chunk, error) {
	c, err := New(tok, cfg)
	if err != nil {
		return nil, err
	}
	return c.Chunk(sourceID, text), nil
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Chunk encodes text once and emits windows of MaxTokens starting every
// MaxTokens-OverlapTokens tokens. The last window may be shorter; no tokens
// are dropped from the tail. Whitespace-only input yields nil.
func (c *Chunker) Chunk(sourceID, text string) []doctree.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	tokens := c.tok.Encode(text)
	step := c.cfg.MaxTokens - c.cfg.OverlapTokens

	var chunks []doctree.Chunk
	// Offsets count characters of text. A window boundary that falls inside
	// a multi-byte character is floored to the start of that character.
	offset, prev, byteEnd, boundary := 0, 0, 0, 0
	for start := 0; start < len(tokens); start += step {
		byteEnd = min(byteEnd+len(c.tok.Decode(tokens[prev:start])), len(text))
		prev = start
		next := byteEnd
		for next > boundary && next < len(text) && !utf8.RuneStart(text[next]) {
			next--
		}
		offset += utf8.RuneCountInString(text[boundary:next])
		boundary = next

		end := min(start+c.cfg.MaxTokens, len(tokens))
		window := tokens[start:end]
		body := strings.TrimSpace(c.tok.Decode(window))
		if body != "" {
			chunks = append(chunks, doctree.Chunk{
				SourceID:    sourceID,
				Sequence:    len(chunks) + 1,
				Page:        c.page(offset),
				Text:        body,
				StartOffset: offset,
				TokenCount:  len(window),
				SectionType: doctree.SectionText,
			})
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// ChunkTree chunks the flattened prose of tree and appends one chunk per
// group of table rows, continuing the sequence.
func (c *Chunker) ChunkTree(sourceID string, tree *doctree.DocTree) []doctree.Chunk {
	chunks := c.Chunk(sourceID, tree.Text())
	page := 1
	if n := len(chunks); n > 0 {
		page = chunks[n-1].Page
	}
	return append(chunks, c.ChunkTables(sourceID, tree.Tables, len(chunks)+1, page)...)
}

// ChunkTables groups each table's rows, repeating the header in every group.
// A group closes at RowsPerChunk rows or when the next row would take it past
// MaxTokens. A single row over the budget is windowed on its own. Sequence
// numbering starts at firstSeq.
func (c *Chunker) ChunkTables(sourceID string, tables []doctree.Table, firstSeq, page int) []doctree.Chunk {
	var chunks []doctree.Chunk
	emit := func(tbl doctree.Table, rows [][]string, text string, tokens int) {
		chunks = append(chunks, doctree.Chunk{
			SourceID:    sourceID,
			Sequence:    firstSeq + len(chunks),
			Page:        max(page, 1),
			Text:        text,
			TokenCount:  tokens,
			SectionType: doctree.SectionTable,
			TableID:     tbl.ID,
			Header:      tbl.Header,
			Rows:        rows,
		})
	}

	for _, tbl := range tables {
		var group [][]string
		flush := func() {
			if len(group) > 0 {
				text := tableText(tbl.Header, group)
				emit(tbl, group, text, c.tok.Count(text))
				group = nil
			}
		}
		for _, row := range tbl.Rows {
			if len(group) > 0 {
				next := append(slices.Clip(group), row)
				if len(group) < c.cfg.RowsPerChunk && c.tok.Count(tableText(tbl.Header, next)) <= c.cfg.MaxTokens {
					group = next
					continue
				}
				flush()
			}
			single := [][]string{row}
			text := tableText(tbl.Header, single)
			if c.tok.Count(text) <= c.cfg.MaxTokens {
				group = single
				continue
			}
			for _, w := range c.Chunk(sourceID, text) {
				emit(tbl, single, w.Text, w.TokenCount)
			}
		}
		flush()
	}
	return chunks
}

func (c *Chunker) page(charOffset int) int {
	return max(1, charOffset/c.cfg.AvgCharsPerPage+1)
}

func tableText(header []string, rows [][]string) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(header, " | "))
	for _, row := range rows {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(row, " | "))
	}
	return sb.String()
}
