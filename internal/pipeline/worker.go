package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
)

// Worker processes a single uploaded document job.
type Worker struct {
	o   *Orchestrator
	log *slog.Logger
}

func NewWorker(o *Orchestrator) *Worker {
	return &Worker{o: o, log: o.log}
}

// Process runs an upload through parse, chunk, embed and index.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "file", job.Filename)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	tree, err := w.o.parse.ParseReader(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		w.o.countFile("failed")
		return
	}
	// Raw bytes are no longer needed once parsed.
	job.SetFileData(nil)

	text := tree.FullText()
	hash := ContentHashHex([]byte(text))
	job.SetContentHash(hash)

	// Phase 1.5: Dedup check. The hash is held while this job runs and
	// released unless at least one chunk reaches the index.
	if prev, dup := w.o.markSeen(hash, job.Filename); dup {
		log.Info("duplicate document, skipping", "existing_file", prev)
		job.SetStatus(StatusDupSkipped, "dedup")
		return
	}
	indexed := 0
	defer func() {
		if indexed == 0 {
			w.o.forgetSeen(hash)
		}
	}()
	if _, err := w.o.store.SaveExtracted(job.Filename, text); err != nil {
		log.Warn("save extracted text failed", "error", err)
	}

	// Phase 2: Chunk
	job.SetStatus(StatusChunking, "chunking")
	chunks := w.o.chunker.ChunkTree(job.Filename, tree)
	job.SetTotalChunks(len(chunks))
	log.Info("chunked document", "chunks", len(chunks), "tables", len(tree.Tables))
	if len(chunks) == 0 {
		job.AddError("no extractable content")
		job.SetStatus(StatusFailed, "chunking")
		w.o.countFile("failed")
		return
	}
	if w.o.metrics != nil {
		w.o.metrics.ChunksCreatedTotal.Add(float64(len(chunks)))
	}
	if _, err := w.o.store.SaveChunks(job.Filename, chunks); err != nil {
		log.Warn("save chunks failed", "error", err)
	}

	// Phase 3: Embed, then Phase 4: Index
	job.SetStatus(StatusEmbedding, "embedding")
	task := "add_document_" + job.Filename
	hooks := indexHooks{
		embedded: job.IncrChunksEmbedded,
		indexing: func() { job.SetStatus(StatusIndexing, "indexing") },
	}
	n, err := measure(ctx, w.o, task, joinTexts(chunks), func(ctx context.Context) (int, error) {
		indexed, failed, err := w.o.embedAndIndex(ctx, chunks, true, hooks)
		if failed > 0 {
			job.AddError(fmt.Sprintf("%d of %d chunks could not be embedded", failed, len(chunks)))
		}
		return indexed, err
	})
	if err != nil {
		log.Error("indexing failed", "error", err)
		job.AddError(fmt.Sprintf("index: %s", err))
		job.SetStatus(StatusFailed, "indexing")
		w.o.countFile("failed")
		return
	}
	indexed = n
	job.AddIndexed(indexed)
	w.o.countFile("ok")
	log.Info("document indexed", "indexed", indexed, "total", len(chunks))

	switch {
	case indexed == len(chunks):
		job.SetStatus(StatusCompleted, "done")
	case indexed > 0:
		job.SetStatus(StatusPartial, "done")
	default:
		job.SetStatus(StatusFailed, "embedding")
	}
}
