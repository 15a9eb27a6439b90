package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/embed/embedtest"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/ingest"
	"github.com/abdul-hamid-achik/multivec/internal/llm/llmtest"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

// hookStore lets a test intercept queries.
type hookStore struct {
	store.Store
	onQuery func(ctx context.Context, space string) error
}

func (h *hookStore) Query(ctx context.Context, collection, space string, vector []float32, limit int, filter *store.Filter) ([]store.Hit, error) {
	if h.onQuery != nil {
		if err := h.onQuery(ctx, space); err != nil {
			return nil, err
		}
	}
	return h.Store.Query(ctx, collection, space, vector, limit, filter)
}

type env struct {
	text  *embedtest.Provider
	image *embedtest.Provider
	llm   *llmtest.Client
	store *hookStore
	s     *Searcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		text:  embedtest.New("text", 768),
		image: embedtest.New("image", 512, embed.ModalityImage),
		llm:   llmtest.New("a red bicycle"),
		store: &hookStore{Store: store.NewMemory()},
	}
	err := e.store.CreateCollection(context.Background(), "items", store.Schema{
		"image": {Size: 512, Distance: store.Cosine},
		"text":  {Size: 768, Distance: store.Cosine},
	})
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	e.s, err = NewSearcher(Config{Text: e.text, Image: e.image, LLM: e.llm, Store: e.store})
	if err != nil {
		t.Fatalf("NewSearcher failed: %v", err)
	}
	return e
}

func (e *env) put(t *testing.T, id string, vectors map[string][]float32, payload map[string]any) {
	t.Helper()
	if _, err := e.store.Upsert(context.Background(), "items", store.Record{ID: id, Vectors: vectors, Payload: payload}); err != nil {
		t.Fatalf("Upsert %s failed: %v", id, err)
	}
}

// sparse returns a vector of length n with the given leading values.
func sparse(n int, head ...float32) []float32 {
	v := make([]float32, n)
	copy(v, head)
	return v
}

func bike() *embed.Image {
	return &embed.Image{Data: []byte("\xff\xd8\xffbike"), MediaType: "image/jpeg"}
}

// Create, ingest with description, then find the item by its own image.
func TestSearchFindsIngestedImageFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.put(t, "unrelated", map[string][]float32{
		"image": embedtest.Vector("some other picture", 512),
		"text":  embedtest.Vector("some other text", 768),
	}, nil)

	p, err := ingest.New(ingest.Config{Text: e.text, Image: e.image, LLM: e.llm, Store: e.store})
	if err != nil {
		t.Fatalf("ingest.New failed: %v", err)
	}
	id, err := p.Ingest(ctx, ingest.ImageItem(bike(), "bike.jpg"), "items", ingest.Options{DescribeImages: true})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	results, err := e.s.Search(ctx, ImageQuery(bike()), "items", []string{"image"}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != id {
		t.Errorf("expected %s first, got %s", id, results[0].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected ingested item to outscore unrelated: %v <= %v", results[0].Score, results[1].Score)
	}
	if results[0].Payload["source"] != "bike.jpg" {
		t.Errorf("payload not returned: %+v", results[0].Payload)
	}
	if e.llm.Calls() != 1 {
		t.Errorf("query without description should not call the LLM again, calls=%d", e.llm.Calls())
	}
}

func TestSearchTextAcrossSpaces(t *testing.T) {
	e := newEnv(t)
	e.text.Set("bicycle", embedtest.Unit(768, 0))

	e.put(t, "match", map[string][]float32{"text": embedtest.Unit(768, 0)}, map[string]any{"kind": "doc"})
	e.put(t, "near", map[string][]float32{"text": sparse(768, 0.6, 0.8)}, map[string]any{"kind": "doc"})
	e.put(t, "filtered", map[string][]float32{"text": embedtest.Unit(768, 0)}, map[string]any{"kind": "draft"})

	results, err := e.s.SearchWithOptions(context.Background(), TextQuery("bicycle"), "items", []string{"text", "text"}, 10,
		Options{Filter: &store.Filter{Must: []store.Condition{{Key: "kind", Value: "doc"}}}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "match" || results[1].ID != "near" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[1].Score < 0.59 || results[1].Score > 0.61 {
		t.Errorf("expected cosine 0.6, got %v", results[1].Score)
	}
	if e.text.Calls() != 1 {
		t.Errorf("expected the query to be embedded once, got %d", e.text.Calls())
	}
}

func TestSearchImageQueryWithDescription(t *testing.T) {
	e := newEnv(t)
	e.image.Set(string(bike().Data), embedtest.Unit(512, 1))
	e.text.Set("a red bicycle", embedtest.Unit(768, 1))

	e.put(t, "photo", map[string][]float32{"image": embedtest.Unit(512, 1)}, nil)
	e.put(t, "caption", map[string][]float32{"text": embedtest.Unit(768, 1)}, nil)
	e.put(t, "both", map[string][]float32{"image": sparse(512, 0, 0.5, 0.5), "text": embedtest.Unit(768, 1)}, nil)

	_, err := e.s.Search(context.Background(), ImageQuery(bike()), "items", []string{"image", "text"}, 10)
	if !fault.Is(err, fault.InvalidInput) {
		t.Errorf("image query on a text space without description should be invalid, got %v", err)
	}

	results, err := e.s.SearchWithOptions(context.Background(), ImageQuery(bike()), "items", []string{"image", "text"}, 10,
		Options{DescribeImages: true, Merge: Sum()})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ID != "both" || len(results[0].Spaces) != 2 {
		t.Errorf("expected both spaces to contribute to the top hit, got %+v", results[0])
	}
	if e.llm.Calls() != 1 {
		t.Errorf("expected one description, got %d", e.llm.Calls())
	}
}

func TestSearchInvalidInput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		q      Query
		spaces []string
		limit  int
	}{
		{"unknown space", TextQuery("x"), []string{"audio"}, 5},
		{"no spaces", TextQuery("x"), nil, 5},
		{"zero limit", TextQuery("x"), []string{"text"}, 0},
		{"empty query", TextQuery(" "), []string{"text"}, 5},
		{"text query on image space", TextQuery("x"), []string{"image"}, 5},
	}
	for _, tt := range tests {
		_, err := e.s.Search(ctx, tt.q, "items", tt.spaces, tt.limit)
		if !fault.Is(err, fault.InvalidInput) {
			t.Errorf("%s: expected invalid input, got %v", tt.name, err)
		}
	}
	if e.text.Calls() != 0 {
		t.Error("invalid queries must not reach the embedder")
	}

	_, err := e.s.Search(ctx, TextQuery("x"), "missing", []string{"text"}, 5)
	if !fault.Is(err, fault.NotFound) {
		t.Errorf("expected not found for a missing collection, got %v", err)
	}
}

func TestSearchPropagatesErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	limited := fault.Newf(fault.RateLimited, "text", "embed", "429")
	e.text.Fail(limited)
	_, err := e.s.Search(ctx, TextQuery("x"), "items", []string{"text"}, 5)
	if !errors.Is(err, limited) || !fault.Is(err, fault.RateLimited) {
		t.Errorf("expected the embedder error unchanged, got %v", err)
	}
	e.text.Fail(nil)

	down := fault.Newf(fault.StoreUnavailable, "memory", "query", "connection reset")
	e.store.onQuery = func(_ context.Context, space string) error {
		if space == "image" {
			return down
		}
		return nil
	}
	_, err = e.s.SearchWithOptions(ctx, ImageQuery(bike()), "items", []string{"image", "text"}, 5, Options{DescribeImages: true})
	if !errors.Is(err, down) {
		t.Fatalf("expected the store error, got %v", err)
	}
	if !strings.Contains(err.Error(), `"image"`) {
		t.Errorf("expected the failing space in the error, got %v", err)
	}
}

func TestSearchCancellation(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.store.onQuery = func(qctx context.Context, space string) error {
		cancel()
		<-qctx.Done()
		return qctx.Err()
	}
	results, err := e.s.Search(ctx, TextQuery("x"), "items", []string{"text"}, 5)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
	if results != nil {
		t.Error("no partial results may be returned")
	}
}

func TestSearchMergeOverride(t *testing.T) {
	e := newEnv(t)
	if e.s.MergeRule().Kind != MergeMax {
		t.Errorf("expected max to be the default rule, got %s", e.s.MergeRule())
	}
	_, err := e.s.SearchWithOptions(context.Background(), TextQuery("x"), "items", []string{"text"}, 5,
		Options{Merge: MergeRule{Kind: "median"}})
	if !fault.Is(err, fault.InvalidInput) {
		t.Errorf("expected invalid input for unknown rule, got %v", err)
	}

	if _, err := NewSearcher(Config{Store: store.NewMemory(), Merge: MergeRule{Kind: "median"}}); err == nil {
		t.Error("expected NewSearcher to reject an unknown rule")
	}
}

func TestWarmup(t *testing.T) {
	e := newEnv(t)
	if err := e.s.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup failed: %v", err)
	}

	e.image.Fail(fault.Newf(fault.ProviderUnavailable, "image", "ping", "down"))
	e.store.Close()
	err := e.s.Warmup(context.Background())
	if !fault.Is(err, fault.StoreUnavailable) && !fault.Is(err, fault.ProviderUnavailable) {
		t.Fatalf("expected warmup to report failures, got %v", err)
	}
	if !strings.Contains(err.Error(), "store") || !strings.Contains(err.Error(), "image embedder") {
		t.Errorf("expected both failures, got %v", err)
	}
}

func TestFormatResults(t *testing.T) {
	results := []Result{
		{ID: "a", Score: 0.9, Payload: map[string]any{"source": "cat.png", "description": "a cat"}, Spaces: map[string]float32{"image": 0.9, "text": 0.2}},
		{ID: "b", Score: 0.5, Payload: map[string]any{"text": "line one\nline two"}, Spaces: map[string]float32{"text": 0.5}},
	}

	out := FormatResults(results, FormatDefault)
	for _, want := range []string{"Result 1 (score: 0.9000)", "Source: cat.png", "image=0.9000 text=0.2000", "  line two"} {
		if !strings.Contains(out, want) {
			t.Errorf("default output missing %q:\n%s", want, out)
		}
	}

	compact := FormatResults(results, FormatCompact)
	if lines := strings.Split(strings.TrimSpace(compact), "\n"); len(lines) != 2 || lines[0] != "a\t0.9000\tcat.png" {
		t.Errorf("unexpected compact output %q", compact)
	}

	if js := FormatResults(nil, FormatJSON); js != "[]" {
		t.Errorf("expected empty JSON array, got %q", js)
	}
	if FormatResults(nil, FormatDefault) != "No results found." {
		t.Error("unexpected empty default output")
	}
}

func TestSearcherSpaces(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		modality embed.Modality
		describe bool
		want     []string
	}{
		{embed.ModalityText, false, []string{"text"}},
		{embed.ModalityImage, false, []string{"image"}},
		{embed.ModalityImage, true, []string{"image", "text"}},
	}
	for _, tt := range tests {
		got, err := e.s.Spaces(ctx, "items", tt.modality, tt.describe)
		if err != nil {
			t.Fatalf("Spaces(%s, %v) failed: %v", tt.modality, tt.describe, err)
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("Spaces(%s, %v) = %v, want %v", tt.modality, tt.describe, got, tt.want)
		}
	}

	textOnly, err := NewSearcher(Config{Text: e.text, Store: e.store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := textOnly.Spaces(ctx, "items", embed.ModalityImage, true); !fault.Is(err, fault.InvalidInput) {
		t.Errorf("expected InvalidInput without image providers, got %v", err)
	}
	if _, err := e.s.Spaces(ctx, "missing", embed.ModalityText, false); !fault.Is(err, fault.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
