package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/embed/embedtest"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/ingest"
	"github.com/abdul-hamid-achik/multivec/internal/llm/llmtest"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

type testEnv struct {
	idx   *Indexer
	store *store.Memory
	text  *embedtest.Provider
	image *embedtest.Provider
	llm   *llmtest.Client
	root  string
}

func setupTestIndexer(t *testing.T, cfg IndexerConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		store: store.NewMemory(),
		text:  embedtest.New("text", 16),
		image: embedtest.New("image", 8, embed.ModalityImage),
		llm:   llmtest.New("a small picture"),
		root:  t.TempDir(),
	}
	err := env.store.CreateCollection(context.Background(), "files", store.Schema{
		"image": {Size: 8, Distance: store.Cosine},
		"text":  {Size: 16, Distance: store.Cosine},
	})
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	pipeline, err := ingest.New(ingest.Config{
		Text:  env.text,
		Image: env.image,
		LLM:   env.llm,
		Store: env.store,
	})
	if err != nil {
		t.Fatalf("ingest.New failed: %v", err)
	}
	env.idx = NewIndexer(pipeline, env.store, cfg, nil)
	return env
}

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func setupTestFiles(t *testing.T, root string) {
	t.Helper()
	writeFile(t, root, "notes/readme.md", []byte("# Bikes\nA red bicycle leaning on a wall."))
	writeFile(t, root, "notes/todo.txt", []byte("fix the brakes"))
	writeFile(t, root, "photos/bike.png", append(pngHeader, []byte("bike")...))
	writeFile(t, root, "main.go", []byte("package main"))
}

func TestDefaultIndexerConfig(t *testing.T) {
	cfg := DefaultIndexerConfig()
	if cfg.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.MaxFileSize != 10*1024*1024 {
		t.Errorf("unexpected MaxFileSize %d", cfg.MaxFileSize)
	}
	if !cfg.Describe {
		t.Error("expected images to be described by default")
	}
	if len(cfg.IgnorePatterns) == 0 {
		t.Error("expected default ignore patterns")
	}
}

func TestModalityOf(t *testing.T) {
	tests := []struct {
		path string
		want embed.Modality
		ok   bool
	}{
		{"a/b.png", embed.ModalityImage, true},
		{"PHOTO.JPG", embed.ModalityImage, true},
		{"notes.md", embed.ModalityText, true},
		{"data.csv", embed.ModalityText, true},
		{"main.go", "", false},
		{"archive.zip", "", false},
	}
	for _, tt := range tests {
		got, ok := ModalityOf(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ModalityOf(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFileIDIsStable(t *testing.T) {
	if FileID("a/b.png") != FileID(filepath.FromSlash("a/b.png")) {
		t.Error("FileID should not depend on the path separator")
	}
	if FileID("a/b.png") == FileID("a/c.png") {
		t.Error("different paths should have different IDs")
	}
}

func TestIndex_Basic(t *testing.T) {
	env := setupTestIndexer(t, DefaultIndexerConfig())
	setupTestFiles(t, env.root)
	ctx := context.Background()

	result, err := env.idx.Index(ctx, env.root, "files")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if result.FilesStored != 3 || result.FilesProcessed != 3 {
		t.Errorf("expected 3 files stored, got %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	rec, err := env.store.Get(ctx, "files", FileID("photos/bike.png"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(rec.Vectors) != 2 {
		t.Errorf("expected image and description vectors, got %d", len(rec.Vectors))
	}
	if rec.Payload[KeyPath] != "photos/bike.png" {
		t.Errorf("unexpected path %v", rec.Payload[KeyPath])
	}
	if rec.Payload[ingest.KeyDescription] != "a small picture" {
		t.Errorf("unexpected description %v", rec.Payload[ingest.KeyDescription])
	}
	if _, err := env.store.Get(ctx, "files", FileID("main.go")); !fault.Is(err, fault.NotFound) {
		t.Errorf("unsupported files should not be indexed, got %v", err)
	}
}

func TestIndex_IncrementalSkipsUnchanged(t *testing.T) {
	env := setupTestIndexer(t, DefaultIndexerConfig())
	setupTestFiles(t, env.root)
	ctx := context.Background()

	if _, err := env.idx.Index(ctx, env.root, "files"); err != nil {
		t.Fatalf("first Index failed: %v", err)
	}
	calls := env.text.Calls() + env.image.Calls()

	result, err := env.idx.Index(ctx, env.root, "files")
	if err != nil {
		t.Fatalf("second Index failed: %v", err)
	}
	if result.FilesSkipped != 3 || result.FilesStored != 0 {
		t.Errorf("expected all files skipped, got %+v", result)
	}
	if got := env.text.Calls() + env.image.Calls(); got != calls {
		t.Errorf("unchanged files should not be embedded again (%d calls, want %d)", got, calls)
	}
}

func TestIndex_ReindexesModifiedFiles(t *testing.T) {
	env := setupTestIndexer(t, DefaultIndexerConfig())
	setupTestFiles(t, env.root)
	ctx := context.Background()

	if _, err := env.idx.Index(ctx, env.root, "files"); err != nil {
		t.Fatalf("first Index failed: %v", err)
	}

	writeFile(t, env.root, "notes/todo.txt", []byte("fix the brakes and the chain"))

	pending, err := env.idx.GetPendingChanges(ctx, env.root, "files")
	if err != nil {
		t.Fatalf("GetPendingChanges failed: %v", err)
	}
	if pending.ModifiedFiles != 1 || pending.NewFiles != 0 || pending.TotalPending != 1 {
		t.Errorf("unexpected pending changes %+v", pending)
	}

	result, err := env.idx.Index(ctx, env.root, "files")
	if err != nil {
		t.Fatalf("second Index failed: %v", err)
	}
	if result.FilesStored != 1 || result.FilesSkipped != 2 {
		t.Errorf("expected 1 stored and 2 skipped, got %+v", result)
	}

	rec, err := env.store.Get(ctx, "files", FileID("notes/todo.txt"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Payload[ingest.KeyText] != "fix the brakes and the chain" {
		t.Errorf("record not updated: %v", rec.Payload[ingest.KeyText])
	}
}

func TestIndex_Force(t *testing.T) {
	cfg := DefaultIndexerConfig()
	cfg.Force = true
	env := setupTestIndexer(t, cfg)
	setupTestFiles(t, env.root)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := env.idx.Index(ctx, env.root, "files")
		if err != nil {
			t.Fatalf("Index failed: %v", err)
		}
		if result.FilesStored != 3 || result.FilesSkipped != 0 {
			t.Errorf("run %d: expected every file re-ingested, got %+v", i, result)
		}
	}
}

func TestIndex_RespectsIgnorePatterns(t *testing.T) {
	env := setupTestIndexer(t, DefaultIndexerConfig())
	setupTestFiles(t, env.root)
	writeFile(t, env.root, "node_modules/pkg/readme.md", []byte("dependency"))
	writeFile(t, env.root, ".gitignore", []byte("# build output\ndrafts/\n"))
	writeFile(t, env.root, "drafts/idea.md", []byte("draft"))
	writeFile(t, env.root, IgnoreFile, []byte("*.txt\n"))
	ctx := context.Background()

	result, err := env.idx.Index(ctx, env.root, "files")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if result.FilesStored != 2 {
		t.Errorf("expected readme.md and bike.png only, got %+v", result)
	}
	for _, rel := range []string{"node_modules/pkg/readme.md", "drafts/idea.md", "notes/todo.txt"} {
		if _, err := env.store.Get(ctx, "files", FileID(rel)); !fault.Is(err, fault.NotFound) {
			t.Errorf("%s should be ignored, got %v", rel, err)
		}
	}
}

func TestIndex_Include(t *testing.T) {
	cfg := DefaultIndexerConfig()
	cfg.Include = []string{"photos/**"}
	env := setupTestIndexer(t, cfg)
	setupTestFiles(t, env.root)

	result, err := env.idx.Index(context.Background(), env.root, "files")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if result.FilesStored != 1 {
		t.Errorf("expected only the photo, got %+v", result)
	}
}

func TestIndex_PerFileFailures(t *testing.T) {
	env := setupTestIndexer(t, DefaultIndexerConfig())
	setupTestFiles(t, env.root)
	writeFile(t, env.root, "notes/binary.txt", []byte{'a', 0, 'b'})
	env.text.FailOn("fix the brakes", fault.New(fault.RateLimited, "text", "embed", errors.New("slow down")))

	result, err := env.idx.Index(context.Background(), env.root, "files")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if result.FilesStored != 2 || len(result.Errors) != 2 {
		t.Fatalf("expected 2 stored and 2 errors, got %+v", result)
	}
	if !errors.Is(result.Err(), fault.ErrRateLimited) {
		t.Errorf("expected rate limit error, got %v", result.Err())
	}
	if !errors.Is(result.Err(), fault.ErrInvalidInput) {
		t.Errorf("expected binary file rejection, got %v", result.Err())
	}
}

func TestIndex_MissingCollection(t *testing.T) {
	env := setupTestIndexer(t, DefaultIndexerConfig())
	setupTestFiles(t, env.root)

	_, err := env.idx.Index(context.Background(), env.root, "missing")
	if !fault.Is(err, fault.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if env.text.Calls() != 0 {
		t.Error("nothing should be embedded for a missing collection")
	}
}

func TestIndex_WithProgressCallback(t *testing.T) {
	env := setupTestIndexer(t, DefaultIndexerConfig())
	setupTestFiles(t, env.root)

	var updates []Progress
	env.idx.SetProgressCallback(func(p Progress) {
		updates = append(updates, p)
	})

	if _, err := env.idx.Index(context.Background(), env.root, "files"); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 progress updates, got %d", len(updates))
	}
	last := updates[len(updates)-1]
	if last.ProcessedFiles != 3 || last.TotalFiles != 3 {
		t.Errorf("unexpected final progress %+v", last)
	}
}

func TestIndex_ExplicitPathsAndRemove(t *testing.T) {
	env := setupTestIndexer(t, DefaultIndexerConfig())
	setupTestFiles(t, env.root)
	ctx := context.Background()

	photo := filepath.Join(env.root, "photos", "bike.png")
	result, err := env.idx.Index(ctx, env.root, "files", photo)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if result.FilesStored != 1 {
		t.Fatalf("expected only the named file, got %+v", result)
	}

	n, err := env.idx.Remove(ctx, env.root, "files", photo, "notes/never-indexed.md")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removals, got %d", n)
	}
	if _, err := env.store.Get(ctx, "files", FileID("photos/bike.png")); !fault.Is(err, fault.NotFound) {
		t.Errorf("expected photo removed, got %v", err)
	}
}

func TestIndex_ContextCancellation(t *testing.T) {
	env := setupTestIndexer(t, DefaultIndexerConfig())
	setupTestFiles(t, env.root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.idx.Index(ctx, env.root, "files")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	hash, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile failed: %v", err)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if hash != want {
		t.Errorf("hash = %s, want %s", hash, want)
	}
	if _, err := hashFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIsTextFile(t *testing.T) {
	if !IsTextFile([]byte("plain text")) {
		t.Error("expected text")
	}
	if IsTextFile([]byte{0x00, 0x01}) {
		t.Error("expected binary")
	}
	if !IsTextFile(nil) {
		t.Error("empty content counts as text")
	}

	// Multibyte runes straddling the sampled prefix.
	for _, tail := range []string{"é…", "…", "日本語", "🚲 bike"} {
		content := []byte(strings.Repeat("a", 8191) + tail)
		if !IsTextFile(content) {
			t.Errorf("valid UTF-8 with %q at the sample boundary classified as binary", tail)
		}
	}
	invalid := append([]byte(strings.Repeat("a", 8190)), 0xff, 0xfe, 'a')
	if IsTextFile(invalid) {
		t.Error("expected invalid UTF-8 before the boundary to be binary")
	}
}

func TestReadItem(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bike.png", pngHeader)
	writeFile(t, root, "notes.md", []byte("# notes"))
	writeFile(t, root, "main.go", []byte("package main"))

	item, err := ReadItem(filepath.Join(root, "bike.png"))
	if err != nil {
		t.Fatalf("ReadItem(png) failed: %v", err)
	}
	if item.ID != "" || item.Image == nil || item.Image.MediaType != "image/png" {
		t.Errorf("unexpected image item %+v", item)
	}
	if _, ok := item.Payload[KeyContentHash]; ok {
		t.Error("single items should not carry a content hash")
	}

	item, err = ReadItem(filepath.Join(root, "notes.md"))
	if err != nil || item.Text != "# notes" {
		t.Errorf("ReadItem(md) = %+v, %v", item, err)
	}

	if _, err := ReadItem(filepath.Join(root, "main.go")); !fault.Is(err, fault.InvalidInput) {
		t.Errorf("unsupported type should be invalid input, got %v", err)
	}
	if _, err := ReadItem(filepath.Join(root, "missing.png")); !fault.Is(err, fault.InvalidInput) {
		t.Errorf("missing file should be invalid input, got %v", err)
	}
}
