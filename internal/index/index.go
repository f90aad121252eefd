// Package index stores chunk embeddings and answers nearest-neighbour
// queries by squared L2 distance.
package index

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"github.com/dgallion1/docreduce/internal/doctree"
)

var (
	// ErrDimension is returned when a vector's width does not match the index.
	ErrDimension = errors.New("vector dimension mismatch")
	// ErrNotFound is returned when no persisted index exists.
	ErrNotFound = errors.New("index not found")
)

// Hit is one search result.
type Hit struct {
	Row      int
	Record   doctree.Record
	Distance float32
}

// Store is a persistent vector index whose rows align with chunk records.
// Implementations allow one writer and concurrent readers.
type Store interface {
	Add(ctx context.Context, vectors [][]float32, records []doctree.Record) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Len(ctx context.Context) (int, error)
	Save(ctx context.Context) error
	Close() error
}

// L2 returns the squared Euclidean distance between a and b.
func L2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func checkBatch(dim int, vectors [][]float32, records []doctree.Record) error {
	if len(vectors) != len(records) {
		return fmt.Errorf("got %d vectors for %d records", len(vectors), len(records))
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: row %d has %d, index has %d", ErrDimension, i, len(v), dim)
		}
	}
	return nil
}

// TopK keeps the k smallest distances seen. Ties keep the earlier row.
type TopK struct {
	k int
	h hitHeap
}

func NewTopK(k int) *TopK {
	return &TopK{k: k, h: make(hitHeap, 0, max(k, 0))}
}

// Offer considers one candidate.
func (t *TopK) Offer(row int, dist float32) {
	if t.k <= 0 {
		return
	}
	if len(t.h) < t.k {
		heap.Push(&t.h, Hit{Row: row, Distance: dist})
		return
	}
	if worst := t.h[0]; dist < worst.Distance {
		t.h[0] = Hit{Row: row, Distance: dist}
		heap.Fix(&t.h, 0)
	}
}

// Sorted returns the kept hits by ascending distance, then row.
func (t *TopK) Sorted() []Hit {
	out := make([]Hit, len(t.h))
	h := append(hitHeap(nil), t.h...)
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Hit)
	}
	return out
}

// hitHeap is a max-heap on distance so the worst kept hit is at the root.
type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance
	}
	return h[i].Row > h[j].Row
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)   { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
