package pipeline

import (
	"context"

	"github.com/dgallion1/docreduce/internal/retriever"
)

// Retriever returns the question-answering session over the index, building
// it on first use. It fails with ErrNoIndex until an index exists.
func (o *Orchestrator) Retriever(ctx context.Context) (*retriever.Retriever, error) {
	o.retrMu.Lock()
	defer o.retrMu.Unlock()
	if o.retr != nil {
		return o.retr, nil
	}
	idx, err := o.Index(ctx)
	if err != nil {
		return nil, err
	}
	o.retr = retriever.New(o.embedder, idx, o.gen, o.log, retriever.Options{
		TopK:  o.cfg.TopK,
		Retry: o.retry,
	})
	return o.retr, nil
}

// Ask answers question from the indexed documents.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*retriever.Response, error) {
	r, err := o.Retriever(ctx)
	if err != nil {
		return nil, err
	}
	task := "rag_" + truncateRunes(question, 20)
	return measure(ctx, o, task, question, func(ctx context.Context) (*retriever.Response, error) {
		return r.Answer(ctx, question)
	})
}
