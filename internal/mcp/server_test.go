package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/embed/embedtest"
	"github.com/abdul-hamid-achik/multivec/internal/index"
	"github.com/abdul-hamid-achik/multivec/internal/ingest"
	"github.com/abdul-hamid-achik/multivec/internal/llm/llmtest"
	"github.com/abdul-hamid-achik/multivec/internal/search"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\nbike")

type testEnv struct {
	session *sdkmcp.ClientSession
	store   *store.Memory
	root    string
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	text := embedtest.New("text", 16)
	image := embedtest.New("image", 8, embed.ModalityImage)
	describer := llmtest.New("a red bicycle")

	err := st.CreateCollection(ctx, "items", store.Schema{
		"image": {Size: 8, Distance: store.Cosine},
		"text":  {Size: 16, Distance: store.Cosine},
	})
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}

	pipeline, err := ingest.New(ingest.Config{Text: text, Image: image, LLM: describer, Store: st})
	if err != nil {
		t.Fatalf("ingest.New failed: %v", err)
	}
	searcher, err := search.NewSearcher(search.Config{Text: text, Image: image, LLM: describer, Store: st})
	if err != nil {
		t.Fatalf("NewSearcher failed: %v", err)
	}

	root := t.TempDir()
	srv := NewServer(Config{
		Store:          st,
		Pipeline:       pipeline,
		Searcher:       searcher,
		Indexer:        index.NewIndexer(pipeline, st, index.DefaultIndexerConfig(), nil),
		Root:           root,
		Collection:     "items",
		DescribeImages: true,
	})

	serverT, clientT := sdkmcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverT)
	if err != nil {
		t.Fatalf("server connect failed: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	t.Cleanup(func() { cs.Close() })

	return &testEnv{session: cs, store: st, root: root}
}

func (e *testEnv) call(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	res, err := e.session.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s) failed: %v", name, err)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), res.IsError
}

func TestListTools(t *testing.T) {
	env := setupTestServer(t)
	res, err := env.session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}

	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, name := range []string{"multivec_collections", "multivec_ingest_text", "multivec_ingest_image", "multivec_query", "multivec_index"} {
		if !got[name] {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestCollectionsTool(t *testing.T) {
	env := setupTestServer(t)

	out, isErr := env.call(t, "multivec_collections", nil)
	if isErr || !strings.Contains(out, "items (default)") {
		t.Errorf("list output = %q", out)
	}

	out, isErr = env.call(t, "multivec_collections", map[string]any{"name": "items"})
	if isErr || !strings.Contains(out, "image: 8 dimensions, Cosine") {
		t.Errorf("describe output = %q", out)
	}

	out, isErr = env.call(t, "multivec_collections", map[string]any{"name": "missing"})
	if !isErr || !strings.Contains(out, "not_found") {
		t.Errorf("missing collection = %v %q", isErr, out)
	}
}

func TestIngestAndQueryTools(t *testing.T) {
	env := setupTestServer(t)
	if err := os.WriteFile(filepath.Join(env.root, "bike.png"), pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}

	out, isErr := env.call(t, "multivec_ingest_text", map[string]any{
		"text":   "a bowl of soup",
		"id":     "soup",
		"source": "menu",
	})
	if isErr || !strings.Contains(out, "soup") {
		t.Fatalf("ingest text = %q", out)
	}

	out, isErr = env.call(t, "multivec_ingest_image", map[string]any{"path": "bike.png", "id": "bike"})
	if isErr {
		t.Fatalf("ingest image = %q", out)
	}
	if !strings.Contains(out, "a red bicycle") {
		t.Errorf("expected the description in the reply, got %q", out)
	}

	out, isErr = env.call(t, "multivec_query", map[string]any{"image_path": "bike.png", "limit": 1})
	if isErr {
		t.Fatalf("image query = %q", out)
	}
	if !strings.Contains(out, "**ID:** bike") || !strings.Contains(out, "image, text") {
		t.Errorf("unexpected image query output %q", out)
	}

	out, isErr = env.call(t, "multivec_query", map[string]any{"text": "a bowl of soup", "source": "menu", "merge": "sum"})
	if isErr || !strings.Contains(out, "**ID:** soup") || strings.Contains(out, "**ID:** bike") {
		t.Errorf("filtered text query = %q", out)
	}
}

func TestIngestCaptionedImageTool(t *testing.T) {
	env := setupTestServer(t)
	if err := os.WriteFile(filepath.Join(env.root, "tote.png"), pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}

	out, isErr := env.call(t, "multivec_ingest_image", map[string]any{
		"path":     "tote.png",
		"id":       "tote",
		"caption":  "a black leather tote",
		"describe": false,
	})
	if isErr {
		t.Fatalf("ingest image = %q", out)
	}

	out, isErr = env.call(t, "multivec_query", map[string]any{"text": "a black leather tote", "spaces": []string{"text"}})
	if isErr || !strings.Contains(out, "**ID:** tote") {
		t.Errorf("caption should be searchable as text, got %q", out)
	}
}

func TestToolErrors(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"empty text", "multivec_ingest_text", map[string]any{"text": "  "}, "invalid_input"},
		{"missing image", "multivec_ingest_image", map[string]any{"path": "nope.png"}, "invalid_input"},
		{"no query", "multivec_query", map[string]any{}, "exactly one"},
		{"both queries", "multivec_query", map[string]any{"text": "x", "image_path": "y.png"}, "exactly one"},
		{"bad merge", "multivec_query", map[string]any{"text": "x", "merge": "median"}, "invalid_input"},
		{"missing collection", "multivec_query", map[string]any{"text": "x", "collection": "nope"}, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, isErr := env.call(t, tt.tool, tt.args)
			if !isErr || !strings.Contains(out, tt.want) {
				t.Errorf("%s = %v %q, want error containing %q", tt.tool, isErr, out, tt.want)
			}
		})
	}
}

func TestIndexTool(t *testing.T) {
	env := setupTestServer(t)
	if err := os.MkdirAll(filepath.Join(env.root, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.root, "notes", "a.md"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, isErr := env.call(t, "multivec_index", nil)
	if isErr || !strings.Contains(out, "Files stored: 1") {
		t.Fatalf("index = %q", out)
	}
	out, _ = env.call(t, "multivec_index", nil)
	if !strings.Contains(out, "Files skipped (unchanged): 1") {
		t.Errorf("second run should skip, got %q", out)
	}
	out, _ = env.call(t, "multivec_index", map[string]any{"force": true})
	if !strings.Contains(out, "Files stored: 1") {
		t.Errorf("forced run should re-ingest, got %q", out)
	}
	if _, err := env.store.Get(context.Background(), "items", index.FileID(filepath.Join("notes", "a.md"))); err != nil {
		t.Errorf("indexed record missing: %v", err)
	}
}
