// Package pipeline drives documents through extraction, chunking,
// embedding and indexing, and runs translation and summarization jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/docreduce/internal/chunker"
	"github.com/dgallion1/docreduce/internal/config"
	"github.com/dgallion1/docreduce/internal/index"
	"github.com/dgallion1/docreduce/internal/metrics"
	"github.com/dgallion1/docreduce/internal/parser"
	"github.com/dgallion1/docreduce/internal/perflog"
	"github.com/dgallion1/docreduce/internal/reduce"
	"github.com/dgallion1/docreduce/internal/retriever"
	"github.com/dgallion1/docreduce/internal/retry"
	"github.com/dgallion1/docreduce/internal/store"
	"github.com/dgallion1/docreduce/internal/tokenizer"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Deps are the collaborators an Orchestrator needs.
type Deps struct {
	Tokenizer tokenizer.Tokenizer
	Embedder  Embedder
	Generator Generator
	Metrics   *metrics.Metrics // optional
	Log       *slog.Logger
}

// Orchestrator manages the document pipeline.
type Orchestrator struct {
	cfg      config.Config
	log      *slog.Logger
	tok      tokenizer.Tokenizer
	embedder Embedder
	gen      Generator
	metrics  *metrics.Metrics
	retry    retry.Policy

	parse    parser.Options
	chunker  *chunker.Chunker
	reducer  *chunker.Chunker
	engine   *reduce.Engine
	store    *store.Store
	perf     *perflog.Log

	// idxMu serializes index opening and every write to it.
	idxMu sync.Mutex
	index index.Store

	retrMu sync.Mutex
	retr   *retriever.Retriever

	hashMu sync.Mutex
	hashes map[string]string // content hash -> file name

	jobs   *JobStore
	queue  chan *Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator validates the chunking settings and prepares the output
// tree. It fails with a chunker.ConfigError before any work is done.
func NewOrchestrator(cfg config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	ingest, err := chunker.New(deps.Tokenizer, chunker.Config{
		MaxTokens:       cfg.ChunkSize,
		OverlapTokens:   cfg.ChunkOverlap,
		AvgCharsPerPage: cfg.AvgCharsPerPage,
		RowsPerChunk:    cfg.RowsPerChunk,
	})
	if err != nil {
		return nil, err
	}
	units, err := chunker.New(deps.Tokenizer, chunker.Config{
		MaxTokens:       cfg.ReduceChunkSize,
		AvgCharsPerPage: cfg.AvgCharsPerPage,
		RowsPerChunk:    cfg.RowsPerChunk,
	})
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}

	st := store.New(cfg.OutputDir)
	if err := st.EnsureDirs(); err != nil {
		return nil, err
	}
	perf := perflog.New(st.Path(perflog.FileName), deps.Log, deps.Metrics)
	if err := perf.Init(); err != nil {
		deps.Log.Warn("performance log init failed", "error", err)
	}

	return &Orchestrator{
		cfg:      cfg,
		log:      deps.Log,
		tok:      deps.Tokenizer,
		embedder: deps.Embedder,
		gen:      deps.Generator,
		metrics:  deps.Metrics,
		retry:    policy,
		parse:    parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
		chunker:  ingest,
		reducer:  units,
		engine: reduce.NewEngine(deps.Tokenizer, deps.Log, reduce.Options{
			Concurrency: cfg.MaxConcurrentTransform,
			Retry:       policy,
			Metrics:     deps.Metrics,
		}),
		store:  st,
		perf:   perf,
		hashes: make(map[string]string),
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
	}, nil
}

// Start launches worker goroutines for submitted jobs.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop drains workers and closes the index.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
	if err := o.Close(); err != nil {
		o.log.Error("close index", "error", err)
	}
}

// Close persists and releases the index if one is open.
func (o *Orchestrator) Close() error {
	o.retrMu.Lock()
	defer o.retrMu.Unlock()
	o.retr = nil
	o.idxMu.Lock()
	defer o.idxMu.Unlock()
	if o.index == nil {
		return nil
	}
	err := errors.Join(o.index.Save(context.Background()), o.index.Close())
	o.index = nil
	return err
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Store exposes the output directory for read-only API handlers.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Performance returns the performance log.
func (o *Orchestrator) Performance() *perflog.Log { return o.perf }

// Config returns the settings the orchestrator was built with.
func (o *Orchestrator) Config() config.Config { return o.cfg }

// markSeen records hash for name and reports the file that already had it.
func (o *Orchestrator) markSeen(hash, name string) (string, bool) {
	o.hashMu.Lock()
	defer o.hashMu.Unlock()
	if prev, ok := o.hashes[hash]; ok {
		return prev, true
	}
	o.hashes[hash] = name
	return "", false
}

// forgetSeen releases hash so a later upload of the same content is
// processed again.
func (o *Orchestrator) forgetSeen(hash string) {
	o.hashMu.Lock()
	delete(o.hashes, hash)
	o.hashMu.Unlock()
}

// measure wraps fn in the performance envelope.
func measure[T any](ctx context.Context, o *Orchestrator, task, input string, fn func(context.Context) (T, error)) (T, error) {
	return perflog.Measure(ctx, o.perf, o.tok, task, input, fn)
}
