// Package perflog keeps the append-only performance log: a JSON array of
// {task, tokens_per_second, timestamp} records.
package perflog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgallion1/docreduce/internal/metrics"
	"github.com/dgallion1/docreduce/internal/tokenizer"
)

// FileName is the log's name inside the output directory.
const FileName = "performance.json"

// TimeLayout formats record timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one measured task.
type Record struct {
	Task            string  `json:"task"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	Timestamp       string  `json:"timestamp"`
}

// Log appends records to a JSON file. Writes are serialized; a missing or
// corrupt file is treated as empty and rewritten.
type Log struct {
	mu      sync.Mutex
	path    string
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New returns a log writing to path. m may be nil.
func New(path string, log *slog.Logger, m *metrics.Metrics) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{path: path, log: log, metrics: m, now: time.Now}
}

// Path returns the backing file.
func (l *Log) Path() string { return l.path }

// Init creates the file holding an empty array if it does not exist.
func (l *Log) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := os.Stat(l.path); err == nil {
		return nil
	}
	return l.write([]Record{})
}

// Append adds one record.
func (l *Log) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := l.read()
	recs = append(recs, r)
	return l.write(recs)
}

// Records returns every record in the log, or none if it is unreadable.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *Log) read() []Record {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.log.Warn("performance log unreadable, starting fresh", "path", l.path, "error", err)
		}
		return []Record{}
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		l.log.Warn("performance log corrupt, starting fresh", "path", l.path, "error", err)
		return []Record{}
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs
}

func (l *Log) write(recs []Record) error {
	data, err := json.MarshalIndent(recs, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write performance log: %w", err)
	}
	return os.Rename(tmp, l.path)
}

// Measure runs fn and appends a record for task with the input's token
// throughput. A failing fn is not recorded. Failures to write the log are
// logged and never returned.
func Measure[T any](ctx context.Context, l *Log, tok tokenizer.Tokenizer, task, input string, fn func(context.Context) (T, error)) (T, error) {
	tokens := tok.Count(input)
	start := time.Now()
	out, err := fn(ctx)
	if err != nil {
		return out, err
	}
	elapsed := time.Since(start)
	if l == nil {
		return out, nil
	}
	l.observe(task, tokens, elapsed)
	return out, nil
}

func (l *Log) observe(task string, tokens int, elapsed time.Duration) {
	tps := TokensPerSecond(tokens, elapsed)
	l.metrics.ObserveTask(task, tps, elapsed.Seconds())
	rec := Record{
		Task:            task,
		TokensPerSecond: tps,
		Timestamp:       l.now().Format(TimeLayout),
	}
	if err := l.Append(rec); err != nil {
		l.log.Error("append performance record", "task", task, "error", err)
		return
	}
	l.log.Debug("task measured", "task", task, "tokens", tokens, "elapsed", elapsed, "tokens_per_second", tps)
}

// TokensPerSecond is tokens divided by elapsed seconds, or 0 when no time
// elapsed.
func TokensPerSecond(tokens int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(tokens) / elapsed.Seconds()
}
