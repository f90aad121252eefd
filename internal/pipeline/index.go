package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgallion1/docreduce/internal/doctree"
	"github.com/dgallion1/docreduce/internal/index"
	"github.com/dgallion1/docreduce/internal/index/sqlite"
	"github.com/dgallion1/docreduce/internal/store"
)

// Index backends.
const (
	BackendFlat   = "flat"
	BackendSQLite = "sqlite"
)

// ErrNoIndex is returned when an operation needs an index that has not been
// built yet.
var ErrNoIndex = errors.New("vector database does not exist; run ingest first")

func (o *Orchestrator) indexDir() string {
	return o.store.Path(store.VectorDBDir)
}

// IndexExists reports whether a persisted index is on disk.
func (o *Orchestrator) IndexExists() bool {
	switch o.cfg.IndexBackend {
	case BackendSQLite:
		_, err := os.Stat(o.store.Path(store.VectorDBDir, sqlite.FileName))
		return err == nil
	default:
		return index.Exists(o.indexDir())
	}
}

// openIndex returns the open index, loading it from disk or, when create is
// set, starting an empty one. Callers must hold idxMu.
func (o *Orchestrator) openIndex(ctx context.Context, create bool) (index.Store, error) {
	if o.index != nil {
		return o.index, nil
	}
	if !o.IndexExists() && !create {
		return nil, ErrNoIndex
	}

	var (
		idx index.Store
		err error
	)
	switch o.cfg.IndexBackend {
	case BackendSQLite:
		if err := os.MkdirAll(o.indexDir(), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		idx, err = sqlite.Open(ctx, o.store.Path(store.VectorDBDir, sqlite.FileName), o.cfg.EmbedDimensions)
	default:
		if index.Exists(o.indexDir()) {
			idx, err = index.LoadFlat(o.indexDir())
		} else {
			idx = index.NewFlat(o.indexDir(), o.cfg.EmbedDimensions)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s index: %w", o.cfg.IndexBackend, err)
	}
	o.index = idx
	o.updateIndexGauge(ctx)
	return idx, nil
}

// Index returns the existing index for read-only use.
func (o *Orchestrator) Index(ctx context.Context) (index.Store, error) {
	o.idxMu.Lock()
	defer o.idxMu.Unlock()
	return o.openIndex(ctx, false)
}

// writeIndex appends vectors and records and persists the index.
func (o *Orchestrator) writeIndex(ctx context.Context, create bool, vectors [][]float32, records []doctree.Record) error {
	o.idxMu.Lock()
	defer o.idxMu.Unlock()
	idx, err := o.openIndex(ctx, create)
	if err != nil {
		return err
	}
	if len(vectors) > 0 {
		if err := idx.Add(ctx, vectors, records); err != nil {
			return fmt.Errorf("add to index: %w", err)
		}
	}
	if err := idx.Save(ctx); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	o.updateIndexGauge(ctx)
	return nil
}

func (o *Orchestrator) updateIndexGauge(ctx context.Context) {
	if o.metrics == nil || o.index == nil {
		return
	}
	if n, err := o.index.Len(ctx); err == nil {
		o.metrics.IndexRows.Set(float64(n))
	}
}
