package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docreduce/internal/doctree"
	"github.com/dgallion1/docreduce/internal/parser"
	"github.com/dgallion1/docreduce/internal/retry"
)

// ErrNoChunks is returned when a batch produced nothing to index.
var ErrNoChunks = errors.New("no chunks created")

// FileReport is the outcome for one source file.
type FileReport struct {
	Path   string `json:"path"`
	Chunks int    `json:"chunks"`
	Err    error  `json:"-"`
	Error  string `json:"error,omitempty"`
}

func (r *FileReport) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// IngestReport summarizes a directory ingest.
type IngestReport struct {
	Files        []FileReport `json:"files"`
	Chunks       int          `json:"chunks"`
	Indexed      int          `json:"indexed"`
	EmbedFailed  int          `json:"embed_failed"`
	IndexSkipped bool         `json:"index_skipped"`
}

// Failed counts files that were skipped.
func (r *IngestReport) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// IngestDir extracts and chunks every file under dir with a bounded worker
// pool, then embeds all chunks into a new index. Files that fail are logged
// and skipped. An index already on disk is left untouched.
func (o *Orchestrator) IngestDir(ctx context.Context, dir string) (*IngestReport, error) {
	paths, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	report := &IngestReport{Files: make([]FileReport, len(paths))}
	perFile := make([][]doctree.Chunk, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.WorkerCount)
	for i, path := range paths {
		g.Go(func() error {
			report.Files[i].Path = path
			chunks, err := o.prepareFile(gctx, path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				o.log.Error("skipping file", "file", path, "error", err)
				o.countFile("failed")
				report.Files[i].fail(err)
				return nil
			}
			o.countFile("ok")
			report.Files[i].Chunks = len(chunks)
			perFile[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	var all []doctree.Chunk
	for _, chunks := range perFile {
		all = append(all, chunks...)
	}
	report.Chunks = len(all)
	if len(all) == 0 {
		return report, fmt.Errorf("%w under %s", ErrNoChunks, dir)
	}

	if o.IndexExists() {
		o.log.Info("vector database already exists, skipping creation", "dir", o.indexDir())
		report.IndexSkipped = true
		return report, nil
	}

	o.log.Info("creating vector database", "chunks", len(all))
	_, err = measure(ctx, o, "vectordb_creation", joinTexts(all), func(ctx context.Context) (struct{}, error) {
		indexed, failed, err := o.embedAndIndex(ctx, all, true, indexHooks{})
		report.Indexed, report.EmbedFailed = indexed, failed
		return struct{}{}, err
	})
	if err != nil {
		return report, err
	}
	o.log.Info("vector database created", "indexed", report.Indexed, "embed_failed", report.EmbedFailed)
	return report, nil
}

// AddDocument chunks one file into the existing index.
func (o *Orchestrator) AddDocument(ctx context.Context, path string) (*FileReport, error) {
	if !o.IndexExists() {
		return nil, ErrNoIndex
	}
	report := &FileReport{Path: path}
	chunks, err := o.prepareFile(ctx, path)
	if err != nil {
		o.countFile("failed")
		report.fail(err)
		return report, err
	}
	o.countFile("ok")
	report.Chunks = len(chunks)

	task := "add_document_" + filepath.Base(path)
	_, err = measure(ctx, o, task, joinTexts(chunks), func(ctx context.Context) (int, error) {
		_, failed, err := o.embedAndIndex(ctx, chunks, false, indexHooks{})
		if err == nil && failed > 0 {
			err = fmt.Errorf("%d of %d chunks could not be embedded", failed, len(chunks))
		}
		return failed, err
	})
	if err != nil {
		report.fail(err)
		return report, err
	}
	o.log.Info("added document", "file", path, "chunks", len(chunks))
	return report, nil
}

// prepareFile extracts and chunks path, saving the extracted text and the
// chunk JSON under the output directory.
func (o *Orchestrator) prepareFile(ctx context.Context, path string) ([]doctree.Chunk, error) {
	log := o.log.With("file", path)
	name := filepath.Base(path)

	log.Info("processing file")
	tree, err := measure(ctx, o, "extract_"+name, path, func(context.Context) (*doctree.DocTree, error) {
		return o.parse.ParseFile(path)
	})
	if err != nil {
		return nil, err
	}
	text := tree.FullText()
	if _, err := o.store.SaveExtracted(name, text); err != nil {
		log.Warn("save extracted text failed", "error", err)
	}

	chunks, err := measure(ctx, o, "chunk_"+name, text, func(context.Context) ([]doctree.Chunk, error) {
		return o.chunker.ChunkTree(name, tree), nil
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, &parser.ExtractionError{Path: path, Err: parser.ErrEmpty}
	}
	if o.metrics != nil {
		o.metrics.ChunksCreatedTotal.Add(float64(len(chunks)))
	}

	if _, err := o.store.SaveChunks(name, chunks); err != nil {
		log.Warn("save chunks failed", "error", err)
	}
	log.Info("extracted and chunked", "chunks", len(chunks), "tables", len(tree.Tables))
	return chunks, nil
}

// indexHooks observes embedAndIndex progress. Nil hooks are skipped.
type indexHooks struct {
	embedded func() // after each successful embedding
	indexing func() // once, before the index is written
}

// embedAndIndex embeds chunks concurrently and appends the successful ones
// to the index in chunk order. Chunks whose embedding still fails after
// retries are left out and counted.
func (o *Orchestrator) embedAndIndex(ctx context.Context, chunks []doctree.Chunk, create bool, hooks indexHooks) (indexed, failed int, err error) {
	vectors := make([][]float32, len(chunks))
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentTransform)
	for i, c := range chunks {
		g.Go(func() error {
			vec, err := retry.Do(gctx, o.retry, func(ctx context.Context) ([]float32, error) {
				return o.embedder.Embed(ctx, c.Text)
			})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				o.log.Error("embedding failed", "file", c.SourceID, "chunk", c.Sequence, "error", err)
				failures.Add(1)
				return nil
			}
			vectors[i] = vec
			if hooks.embedded != nil {
				hooks.embedded()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, int(failures.Load()), err
	}

	vecs := make([][]float32, 0, len(chunks))
	records := make([]doctree.Record, 0, len(chunks))
	for i, v := range vectors {
		if v == nil {
			continue
		}
		vecs = append(vecs, v)
		records = append(records, chunks[i].Record())
	}
	if hooks.indexing != nil {
		hooks.indexing()
	}
	if err := o.writeIndex(ctx, create, vecs, records); err != nil {
		return 0, int(failures.Load()), err
	}
	return len(vecs), int(failures.Load()), nil
}

func (o *Orchestrator) countFile(status string) {
	if o.metrics != nil {
		o.metrics.FilesProcessedTotal.WithLabelValues(status).Inc()
	}
}

// listFiles walks dir recursively and returns regular files in lexical
// order, skipping hidden entries.
func listFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return paths, nil
}

func joinTexts(chunks []doctree.Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Text)
	}
	return sb.String()
}
