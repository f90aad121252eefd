// Package sqlite is an index.Store backed by a SQLite database. Vectors are
// stored as little-endian float32 blobs and scanned exhaustively.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/docreduce/internal/doctree"
	"github.com/dgallion1/docreduce/internal/index"
)

// FileName is the database file inside an index directory.
const FileName = "index.sqlite"

var _ index.Store = (*Store)(nil)

// Store keeps chunk records and their embeddings in one table.
type Store struct {
	db  *sql.DB
	dim int
	mu  sync.Mutex // serializes writers
}

// Open opens or creates the database at path with WAL mode enabled.
func Open(ctx context.Context, path string, dim int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, dim: dim}
	if err := s.checkDim(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	row_id INTEGER PRIMARY KEY,
	file_name TEXT NOT NULL,
	page_number INTEGER NOT NULL,
	chunk_number INTEGER NOT NULL,
	text TEXT NOT NULL,
	table_id TEXT,
	header TEXT,
	rows TEXT,
	section_type TEXT,
	embedding BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_name, chunk_number);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// checkDim records the vector width on first use and rejects a mismatched
// width on later opens.
func (s *Store) checkDim(ctx context.Context) error {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'dim'`).Scan(&stored)
	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES('dim', ?)`, fmt.Sprint(s.dim))
		return err
	}
	if err != nil {
		return err
	}
	if stored != fmt.Sprint(s.dim) {
		return fmt.Errorf("%w: database has %s, configured %d", index.ErrDimension, stored, s.dim)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, vectors [][]float32, records []doctree.Record) error {
	if len(vectors) != len(records) {
		return fmt.Errorf("got %d vectors for %d records", len(vectors), len(records))
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("%w: row %d has %d, index has %d", index.ErrDimension, i, len(v), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks(file_name, page_number, chunk_number, text, table_id, header, rows, section_type, embedding)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range records {
		header, _ := json.Marshal(r.Header)
		rows, _ := json.Marshal(r.Rows)
		if _, err := stmt.ExecContext(ctx,
			r.FileName, r.PageNumber, r.ChunkNumber, r.Text,
			r.TableID, string(header), string(rows), r.SectionType,
			encode(vectors[i]),
		); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Search scans every embedding and keeps the k nearest.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]index.Hit, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", index.ErrDimension, len(query), s.dim)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT row_id, embedding FROM chunks ORDER BY row_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	top := index.NewTopK(k)
	for rows.Next() {
		var (
			id   int
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		top.Offer(id, index.L2(query, decode(blob)))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := top.Sorted()
	for i := range hits {
		r, err := s.record(ctx, hits[i].Row)
		if err != nil {
			return nil, err
		}
		hits[i].Record = r
		// Row ids start at 1; hits report zero-based rows like the flat index.
		hits[i].Row--
	}
	return hits, nil
}

func (s *Store) record(ctx context.Context, id int) (doctree.Record, error) {
	var (
		r              doctree.Record
		tableID, stype sql.NullString
		header, rows   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT file_name, page_number, chunk_number, text, table_id, header, rows, section_type
FROM chunks WHERE row_id = ?`, id).Scan(
		&r.FileName, &r.PageNumber, &r.ChunkNumber, &r.Text, &tableID, &header, &rows, &stype)
	if err != nil {
		return r, fmt.Errorf("load row %d: %w", id, err)
	}
	r.TableID = tableID.String
	r.SectionType = stype.String
	if header.Valid {
		_ = json.Unmarshal([]byte(header.String), &r.Header)
	}
	if rows.Valid {
		_ = json.Unmarshal([]byte(rows.String), &r.Rows)
	}
	return r, nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Save is a no-op; every Add commits its own transaction.
func (s *Store) Save(context.Context) error { return nil }

func (s *Store) Close() error {
	return s.db.Close()
}

func encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decode(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
