// Package tokenizer maps text to integer token sequences and back.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding names accepted by New.
const (
	EncodingCL100K = "cl100k_base"
	EncodingRunes  = "runes"
)

// Tokenizer encodes text into tokens. Implementations are deterministic:
// the same input always yields the same tokens, and Decode(Encode(s)) == s.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
	Name() string
}

// New returns the tokenizer registered under name.
func New(name string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingCL100K:
		return NewBPE(EncodingCL100K)
	case EncodingRunes:
		return Runes{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

// BPE wraps a tiktoken byte-pair encoding.
type BPE struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewBPE loads the named tiktoken encoding.
func NewBPE(encoding string) (*BPE, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", encoding, err)
	}
	return &BPE{name: encoding, enc: enc}, nil
}

func (b *BPE) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return b.enc.Encode(text, nil, nil)
}

func (b *BPE) Decode(tokens []int) string {
	if len(tokens) == 0 {
		return ""
	}
	return b.enc.Decode(tokens)
}

func (b *BPE) Count(text string) int {
	return len(b.Encode(text))
}

func (b *BPE) Name() string { return b.name }

// Runes treats every Unicode code point as one token. Invalid UTF-8 bytes
// are encoded as utf8.RuneError.
type Runes struct{}

func (Runes) Encode(text string) []int {
	if text == "" {
		return nil
	}
	out := make([]int, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (Runes) Decode(tokens []int) string {
	var sb strings.Builder
	sb.Grow(len(tokens))
	for _, t := range tokens {
		sb.WriteRune(rune(t))
	}
	return sb.String()
}

func (Runes) Count(text string) int {
	return utf8.RuneCountInString(text)
}

func (Runes) Name() string { return EncodingRunes }
