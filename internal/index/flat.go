package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgallion1/docreduce/internal/doctree"
)

// File names inside an index directory.
const (
	VectorsFile  = "index.bin"
	MetadataFile = "metadata.json"
)

var magic = [4]byte{'D', 'R', 'I', 'X'}

const formatVersion uint32 = 1

// Flat is an exhaustive in-memory index persisted as a little-endian
// float32 matrix plus a JSON metadata sidecar.
type Flat struct {
	mu      sync.RWMutex
	dir     string
	dim     int
	vectors []float32 // row-major, len = rows*dim
	records []doctree.Record
}

// NewFlat creates an empty index that persists to dir.
func NewFlat(dir string, dim int) *Flat {
	return &Flat{dir: dir, dim: dim}
}

// Exists reports whether dir holds a saved flat index.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, VectorsFile))
	return err == nil
}

// LoadFlat reads a saved index from dir.
func LoadFlat(dir string) (*Flat, error) {
	f, err := os.Open(filepath.Join(dir, VectorsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	dim, vectors, err := readVectors(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", VectorsFile, err)
	}

	meta, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", MetadataFile, err)
	}
	var records []doctree.Record
	if err := json.Unmarshal(meta, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MetadataFile, err)
	}
	if rows := len(vectors) / max(dim, 1); rows != len(records) {
		return nil, fmt.Errorf("index has %d rows but metadata has %d records", rows, len(records))
	}
	return &Flat{dir: dir, dim: dim, vectors: vectors, records: records}, nil
}

func (x *Flat) Add(_ context.Context, vectors [][]float32, records []doctree.Record) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := checkBatch(x.dim, vectors, records); err != nil {
		return err
	}
	for _, v := range vectors {
		x.vectors = append(x.vectors, v...)
	}
	x.records = append(x.records, records...)
	return nil
}

// Search returns at most k hits by ascending distance. Fewer than k rows
// yields every row, never padding.
func (x *Flat) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimension, len(query), x.dim)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	top := NewTopK(min(k, len(x.records)))
	for row := range x.records {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		top.Offer(row, L2(query, x.vectors[row*x.dim:(row+1)*x.dim]))
	}
	hits := top.Sorted()
	for i := range hits {
		hits[i].Record = x.records[hits[i].Row]
	}
	return hits, nil
}

func (x *Flat) Len(context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records), nil
}

// Dim returns the vector width.
func (x *Flat) Dim() int { return x.dim }

// Save writes both files to temporaries and renames them into place.
func (x *Flat) Save(context.Context) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := writeAtomic(filepath.Join(x.dir, VectorsFile), func(w io.Writer) error {
		return writeVectors(w, x.dim, x.vectors)
	}); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(x.dir, MetadataFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		enc.SetEscapeHTML(false)
		records := x.records
		if records == nil {
			records = []doctree.Record{}
		}
		return enc.Encode(records)
	})
}

func (x *Flat) Close() error { return nil }

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeVectors(w io.Writer, dim int, vectors []float32) error {
	rows := 0
	if dim > 0 {
		rows = len(vectors) / dim
	}
	header := struct {
		Magic   [4]byte
		Version uint32
		Dim     uint32
		Rows    uint64
	}{magic, formatVersion, uint32(dim), uint64(rows)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, v := range vectors {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readVectors(r io.Reader) (int, []float32, error) {
	var header struct {
		Magic   [4]byte
		Version uint32
		Dim     uint32
		Rows    uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, nil, err
	}
	if header.Magic != magic {
		return 0, nil, errors.New("not an index file")
	}
	if header.Version != formatVersion {
		return 0, nil, fmt.Errorf("unsupported index version %d", header.Version)
	}
	n := int(header.Rows) * int(header.Dim)
	vectors := make([]float32, n)
	buf := make([]byte, 4)
	for i := range vectors {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, nil, fmt.Errorf("row %d: %w", i/max(int(header.Dim), 1), err)
		}
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
	}
	return int(header.Dim), vectors, nil
}
