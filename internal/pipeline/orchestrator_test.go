package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/docreduce/internal/config"
	"github.com/dgallion1/docreduce/internal/llm"
	"github.com/dgallion1/docreduce/internal/store"
	"github.com/dgallion1/docreduce/internal/tokenizer"
)

type fakeEmbedder struct{ calls atomic.Int64 }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if strings.Contains(text, "FAILEMBED") {
		return nil, errors.New("embedding rejected")
	}
	return []float32{
		float32(len(text)%7 + 1),
		float32(strings.Count(text, "a")),
		float32(strings.Count(text, "e")),
		1,
	}, nil
}

// fakeGenerator tags output by prompt kind so tests can see which prompts ran.
type fakeGenerator struct{}

func (fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	body := prompt
	if parts := strings.SplitN(prompt, "\n\n", 2); len(parts) == 2 {
		body = parts[1]
	}
	switch {
	case strings.HasPrefix(prompt, "Translate "):
		return "T:" + body, nil
	case strings.HasPrefix(prompt, "Improve the grammar"):
		return "F:" + body, nil
	case strings.HasPrefix(prompt, "Provide a concise summary"), strings.HasPrefix(prompt, "Extract the most"):
		return "S" + truncateRunes(body, 5), nil
	default:
		return "answer", nil
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.Tokenizer = tokenizer.EncodingRunes
	cfg.EmbedDimensions = 4
	cfg.ChunkSize = 50
	cfg.ChunkOverlap = 5
	cfg.ReduceChunkSize = 40
	cfg.WorkerCount = 2
	cfg.MaxConcurrentTransform = 2
	cfg.MaxRetries = 1
	cfg.RetryBaseDelay = 0
	cfg.RetryMaxDelay = 0
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg config.Config) (*Orchestrator, *fakeEmbedder) {
	t.Helper()
	emb := &fakeEmbedder{}
	o, err := NewOrchestrator(cfg, Deps{
		Tokenizer: tokenizer.Runes{},
		Embedder:  emb,
		Generator: fakeGenerator{},
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o, emb
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func perfTasks(o *Orchestrator) map[string]bool {
	tasks := make(map[string]bool)
	for _, r := range o.Performance().Records() {
		tasks[r.Task] = true
	}
	return tasks
}

var corpus = map[string]string{
	"alpha.txt":  strings.Repeat("Alpha documents describe apples and pears. ", 4),
	"beta.md":    "# Beta\n\nBeta notes mention engines and gears.\n",
	"broken.bin": "not a document",
	"blank.txt":  "   \n\n  ",
}

func TestIngestDir_SkipsBadFilesAndBuildsIndex(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	dir := writeFiles(t, corpus)

	report, err := o.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if report.Failed() != 2 {
		t.Errorf("expected 2 failed files, got %d (%+v)", report.Failed(), report.Files)
	}
	if report.Chunks == 0 || report.Indexed != report.Chunks {
		t.Errorf("expected every chunk indexed, got %d of %d", report.Indexed, report.Chunks)
	}
	if !o.IndexExists() {
		t.Fatal("expected index on disk")
	}

	idx, err := o.Index(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	n, _ := idx.Len(context.Background())
	if n != report.Indexed {
		t.Errorf("expected %d rows, got %d", report.Indexed, n)
	}

	if _, err := os.Stat(o.Store().Path(store.ChunksDir, "alpha.json")); err != nil {
		t.Errorf("expected chunk file: %v", err)
	}
	if _, err := os.Stat(o.Store().Path(store.ExtractedDir, "beta.txt")); err != nil {
		t.Errorf("expected extracted text: %v", err)
	}

	tasks := perfTasks(o)
	for _, want := range []string{"extract_alpha.txt", "chunk_alpha.txt", "chunk_beta.md", "vectordb_creation"} {
		if !tasks[want] {
			t.Errorf("expected performance record %q, got %v", want, tasks)
		}
	}
	if tasks["extract_broken.bin"] {
		t.Error("failed extraction should not be recorded")
	}
}

func TestIngestDir_ExistingIndexIsLeftAlone(t *testing.T) {
	o, emb := newTestOrchestrator(t, testConfig(t))
	dir := writeFiles(t, map[string]string{"alpha.txt": corpus["alpha.txt"]})

	if _, err := o.IngestDir(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	calls := emb.calls.Load()

	report, err := o.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if !report.IndexSkipped {
		t.Error("expected second ingest to skip index creation")
	}
	if emb.calls.Load() != calls {
		t.Error("expected no embedding calls when the index exists")
	}
}

func TestIngestDir_NothingUsable(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	dir := writeFiles(t, map[string]string{"broken.bin": "x"})

	_, err := o.IngestDir(context.Background(), dir)
	if !errors.Is(err, ErrNoChunks) {
		t.Fatalf("expected ErrNoChunks, got %v", err)
	}
	if o.IndexExists() {
		t.Error("no index should be created")
	}
}

func TestAddDocument(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	extra := writeFiles(t, map[string]string{"gamma.txt": "Gamma covers rivers and lakes."})
	path := filepath.Join(extra, "gamma.txt")

	if _, err := o.AddDocument(context.Background(), path); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex, got %v", err)
	}

	dir := writeFiles(t, map[string]string{"alpha.txt": corpus["alpha.txt"]})
	report, err := o.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}

	added, err := o.AddDocument(context.Background(), path)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	idx, _ := o.Index(context.Background())
	n, _ := idx.Len(context.Background())
	if n != report.Indexed+added.Chunks {
		t.Errorf("expected %d rows, got %d", report.Indexed+added.Chunks, n)
	}
	if !perfTasks(o)["add_document_gamma.txt"] {
		t.Error("expected add_document performance record")
	}
}

func TestAsk(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))

	if _, err := o.Ask(context.Background(), "anything?"); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex before ingest, got %v", err)
	}

	dir := writeFiles(t, map[string]string{"alpha.txt": corpus["alpha.txt"]})
	if _, err := o.IngestDir(context.Background(), dir); err != nil {
		t.Fatal(err)
	}

	resp, err := o.Ask(context.Background(), "What do the alpha documents describe?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Answer != "answer" {
		t.Errorf("unexpected answer %q", resp.Answer)
	}
	if len(resp.Sources) == 0 || resp.Sources[0].FileName != "alpha.txt" {
		t.Errorf("expected sources from alpha.txt, got %+v", resp.Sources)
	}
	if !perfTasks(o)["rag_What do the alpha do"] {
		t.Errorf("expected rag task named from the first 20 characters, got %v", perfTasks(o))
	}
}

func TestProcessFile_TranslateThenSummarize(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	dir := writeFiles(t, map[string]string{"report.txt": strings.Repeat("The quarterly report shows growth. ", 10)})

	res, err := o.ProcessFile(context.Background(), filepath.Join(dir, "report.txt"), ProcessOptions{
		Translate:  true,
		TargetLang: "ar",
		Summarize:  true,
		Strategy:   "abstractive",
		MaxChars:   100,
	})
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if res.InputChars != 100 {
		t.Errorf("expected input truncated to 100 chars, got %d", res.InputChars)
	}
	if res.Translation == nil || !strings.HasPrefix(res.Translation.Text, "F:T:") {
		t.Fatalf("expected translated then polished text, got %+v", res.Translation)
	}
	if res.Translation.Units < 3 {
		t.Errorf("expected 100 chars split into 40-char units, got %d", res.Translation.Units)
	}
	if res.Summary == nil || !strings.HasPrefix(res.Summary.Text, "S") || res.Summary.Degraded {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}

	got, err := os.ReadFile(o.Store().Path(store.TranslatedDir, "report_ar.txt"))
	if err != nil || string(got) != res.Translation.Text {
		t.Errorf("translation not saved: %v", err)
	}
	if _, err := os.Stat(o.Store().Path(store.SummariesDir, "report_abstractive.txt")); err != nil {
		t.Errorf("summary not saved: %v", err)
	}

	tasks := perfTasks(o)
	if !tasks["translate_report.txt"] || !tasks["summarize_report.txt"] {
		t.Errorf("expected translate and summarize records, got %v", tasks)
	}
}

func TestProcessFile_InvalidOptions(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	dir := writeFiles(t, map[string]string{"a.txt": "hello"})
	path := filepath.Join(dir, "a.txt")

	tests := []struct {
		name string
		opts ProcessOptions
	}{
		{"nothing", ProcessOptions{}},
		{"bad target", ProcessOptions{Translate: true, TargetLang: "fr"}},
		{"bad strategy", ProcessOptions{Summarize: true, Strategy: "poetic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.ProcessFile(context.Background(), path, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTranslate_UndetectableSource(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	_, err := o.Translate(context.Background(), "12345 !!!", "en")
	if !errors.Is(err, llm.ErrUndetectable) {
		t.Fatalf("expected ErrUndetectable, got %v", err)
	}
}

func TestWorker_Process(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	w := NewWorker(o)
	body := []byte(strings.Repeat("Uploaded text about apples. ", 5))

	job := NewJob("upload.txt", body)
	w.Process(context.Background(), job)
	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", snap.Status, snap.Progress.Errors)
	}
	if snap.Progress.TotalChunks == 0 || snap.Progress.ChunksIndexed != snap.Progress.TotalChunks {
		t.Errorf("unexpected progress %+v", snap.Progress)
	}
	if snap.Progress.ChunksEmbedded != snap.Progress.TotalChunks {
		t.Errorf("expected every chunk embedded, got %+v", snap.Progress)
	}
	if job.FileData() != nil {
		t.Error("expected raw bytes released after parsing")
	}

	dup := NewJob("copy.txt", body)
	w.Process(context.Background(), dup)
	if got := dup.Snapshot().Status; got != StatusDupSkipped {
		t.Errorf("expected duplicate_skipped, got %s", got)
	}
}

func TestWorker_ProcessFailures(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	w := NewWorker(o)

	tests := []struct {
		name     string
		filename string
		body     string
		phase    string
	}{
		{"unsupported", "sheet.xlsx", "data", "parsing"},
		{"empty", "blank.txt", "  ", "parsing"},
		{"embedding", "reject.txt", "FAILEMBED short", "embedding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob(tt.filename, []byte(tt.body))
			w.Process(context.Background(), job)
			snap := job.Snapshot()
			if snap.Status != StatusFailed {
				t.Fatalf("expected failed, got %s", snap.Status)
			}
			if snap.Phase != tt.phase {
				t.Errorf("expected phase %q, got %q", tt.phase, snap.Phase)
			}
			if len(snap.Progress.Errors) == 0 {
				t.Error("expected an error to be recorded")
			}
		})
	}
}

func TestWorker_FailedUploadCanBeRetried(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	w := NewWorker(o)

	for _, attempt := range []string{"first", "retry"} {
		job := NewJob("reject.txt", []byte("FAILEMBED short"))
		w.Process(context.Background(), job)
		snap := job.Snapshot()
		if snap.Status != StatusFailed || snap.Phase != "embedding" {
			t.Errorf("%s upload: expected failed/embedding, got %s/%s", attempt, snap.Status, snap.Phase)
		}
	}
}

func TestEmbedAndIndex_IndexingHookRunsBeforeWrite(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	chunks := o.chunker.Chunk("hooks.txt", strings.Repeat("Text about plums. ", 8))

	var embedded atomic.Int64
	var embeddedAtIndexing int64
	indexedBefore := true
	hooks := indexHooks{
		embedded: func() { embedded.Add(1) },
		indexing: func() {
			embeddedAtIndexing = embedded.Load()
			indexedBefore = o.IndexExists()
		},
	}
	indexed, failed, err := o.embedAndIndex(context.Background(), chunks, true, hooks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if indexed != len(chunks) || failed != 0 {
		t.Fatalf("expected %d indexed, got %d (%d failed)", len(chunks), indexed, failed)
	}
	if embeddedAtIndexing != int64(len(chunks)) {
		t.Errorf("expected all %d embeddings before indexing, got %d", len(chunks), embeddedAtIndexing)
	}
	if indexedBefore {
		t.Error("expected indexing hook to run before the index was written")
	}
	if !o.IndexExists() {
		t.Error("expected index on disk after embedAndIndex")
	}
}

func TestOrchestrator_SubmitRunsWorkers(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	job := NewJob("queued.txt", []byte("Queued text about pears."))
	if err := o.Submit(job); err != nil {
		t.Fatal(err)
	}
	if o.GetJob(job.ID) != job {
		t.Fatal("expected job to be registered")
	}

	deadline := time.Now().Add(5 * time.Second)
	for job.Snapshot().Status != StatusCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete, status %s", job.Snapshot().Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	o.Stop()
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 3, "hel"},
		{"hello", 10, "hello"},
		{"مرحبا بكم", 5, "مرحبا"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
