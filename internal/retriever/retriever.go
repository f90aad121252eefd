// Package retriever answers questions from the vector index: it embeds the
// question, fetches the nearest chunks and asks the language model to answer
// from that context alone.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgallion1/docreduce/internal/index"
	"github.com/dgallion1/docreduce/internal/retry"
)

// DefaultTopK is the number of chunks fetched per question.
const DefaultTopK = 5

// ErrEmptyContext is reported when a search returns nothing. It is a warning:
// the prompt is still built with an empty context.
var ErrEmptyContext = errors.New("no context retrieved")

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options tunes a Retriever.
type Options struct {
	TopK  int
	Retry retry.Policy
}

// Turn is one entry of the conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the outcome of one question.
type Response struct {
	Answer  string      `json:"answer"`
	Hits    []index.Hit `json:"-"`
	Sources []Source    `json:"sources"`
	Warning string      `json:"warning,omitempty"`
}

// Source identifies a chunk used as context.
type Source struct {
	FileName    string  `json:"file_name"`
	PageNumber  int     `json:"page_number"`
	ChunkNumber int     `json:"chunk_number"`
	Distance    float32 `json:"distance"`
}

// Retriever wires an embedder, an index and a generator together.
type Retriever struct {
	embedder  Embedder
	index     index.Store
	generator Generator
	opts      Options
	log       *slog.Logger

	mu      sync.Mutex
	history []Turn
}

func New(embedder Embedder, idx index.Store, generator Generator, log *slog.Logger, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{
		embedder:  embedder,
		index:     idx,
		generator: generator,
		opts:      opts,
		log:       log,
	}
}

// EmbedQuery embeds the question, retrying transient failures.
func (r *Retriever) EmbedQuery(ctx context.Context, question string) ([]float32, error) {
	vec, err := retry.Do(ctx, r.opts.Retry, func(ctx context.Context) ([]float32, error) {
		return r.embedder.Embed(ctx, question)
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// Search returns up to k hits ordered by increasing distance.
func (r *Retriever) Search(ctx context.Context, vec []float32, k int) ([]index.Hit, error) {
	hits, err := r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return hits, nil
}

// AssembleContext joins hit texts in ranked order. An empty result yields an
// empty context and ErrEmptyContext.
func AssembleContext(hits []index.Hit) (string, error) {
	if len(hits) == 0 {
		return "", ErrEmptyContext
	}
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Record.Text
	}
	return strings.Join(texts, "\n"), nil
}

const promptTemplate = `You are an intelligent assistant designed to answer questions **based on the provided context only**.

Context:
%s

Instructions:
- Do **not** assume the identity of the person in the context (e.g., resume).
- If the user greets (e.g., "hello", "hi"), respond politely(maximum 15 words).

User: %s
Assistant:`

// BuildPrompt fills the answer template.
func BuildPrompt(context, question string) string {
	return fmt.Sprintf(promptTemplate, context, question)
}

// Answer runs the full question flow and appends the exchange to the history.
// Plain greetings skip retrieval and go to the model with an empty context.
func (r *Retriever) Answer(ctx context.Context, question string) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("empty question")
	}

	resp := &Response{}
	var contextText string
	if IsGreeting(question) {
		r.log.Debug("greeting, skipping retrieval")
	} else {
		vec, err := r.EmbedQuery(ctx, question)
		if err != nil {
			return nil, err
		}
		hits, err := r.Search(ctx, vec, r.opts.TopK)
		if err != nil {
			return nil, err
		}
		resp.Hits = hits
		resp.Sources = sources(hits)

		contextText, err = AssembleContext(hits)
		if errors.Is(err, ErrEmptyContext) {
			r.log.Warn("answering without context", "question", question)
			resp.Warning = err.Error()
		}
	}

	prompt := BuildPrompt(contextText, question)
	answer, err := retry.Do(ctx, r.opts.Retry, func(ctx context.Context) (string, error) {
		return r.generator.Generate(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	resp.Answer = answer

	r.mu.Lock()
	r.history = append(r.history,
		Turn{Role: "user", Content: question},
		Turn{Role: "assistant", Content: answer},
	)
	r.mu.Unlock()

	return resp, nil
}

// History returns a copy of the conversation so far.
func (r *Retriever) History() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Turn, len(r.history))
	copy(out, r.history)
	return out
}

func sources(hits []index.Hit) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{
			FileName:    h.Record.FileName,
			PageNumber:  h.Record.PageNumber,
			ChunkNumber: h.Record.ChunkNumber,
			Distance:    h.Distance,
		}
	}
	return out
}

var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hiya": true, "greetings": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"hi there": true, "hello there": true, "hey there": true,
	"thanks": true, "thank you": true,
	"مرحبا": true, "السلام عليكم": true, "اهلا": true,
}

// IsGreeting reports whether text is only a conversational greeting.
func IsGreeting(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, "!.?, ")
	return greetings[t]
}
