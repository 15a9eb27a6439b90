// Package search answers text and image queries across one or more vector
// spaces of a collection.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/llm"
	"github.com/abdul-hamid-achik/multivec/internal/metrics"
	"github.com/abdul-hamid-achik/multivec/internal/space"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

// Result is one merged match.
type Result struct {
	ID      string             `json:"id"`
	Score   float32            `json:"score"`
	Payload map[string]any     `json:"payload,omitempty"`
	Spaces  map[string]float32 `json:"spaces"` // per-space scores the merge was computed from
}

// Query is the input of a search. Exactly one of Text or Image is set.
type Query struct {
	Text  string
	Image *embed.Image
}

// TextQuery builds a text query.
func TextQuery(text string) Query { return Query{Text: text} }

// ImageQuery builds an image query.
func ImageQuery(img *embed.Image) Query { return Query{Image: img} }

func (q Query) request() embed.Request {
	return embed.Request{Text: q.Text, Image: q.Image}
}

// Options tunes a single search.
type Options struct {
	Filter *store.Filter
	// PerSpaceLimit is how many hits each space contributes before merging.
	// Defaults to the overall limit.
	PerSpaceLimit int
	// DescribeImages lets an image query reach text spaces through an LLM
	// description of the image.
	DescribeImages bool
	Prompt         string
	// Merge overrides the searcher's rule when Kind is set.
	Merge MergeRule
}

// Config wires a Searcher.
type Config struct {
	Text   embed.Provider
	Image  embed.Provider
	LLM    llm.Client
	Store  store.Store
	Layout space.Layout
	Merge  MergeRule
	Logger *zap.Logger
}

// Searcher embeds queries, fans them out per space, and merges the results.
type Searcher struct {
	text   embed.Provider
	image  embed.Provider
	llm    llm.Client
	store  store.Store
	layout space.Layout
	merge  MergeRule
	logger *zap.Logger
}

// NewSearcher creates a new Searcher.
func NewSearcher(cfg Config) (*Searcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("search: store is required")
	}
	if cfg.Layout == (space.Layout{}) {
		cfg.Layout = space.DefaultLayout()
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if cfg.Merge.Kind == "" {
		cfg.Merge = Max()
	}
	if err := cfg.Merge.Validate(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Searcher{
		text:   cfg.Text,
		image:  cfg.Image,
		llm:    cfg.LLM,
		store:  cfg.Store,
		layout: cfg.Layout,
		merge:  cfg.Merge,
		logger: cfg.Logger,
	}, nil
}

// MergeRule returns the default rule of the searcher.
func (s *Searcher) MergeRule() MergeRule {
	return s.merge
}

// Search runs q against the given spaces of collection and returns at most
// limit merged results.
func (s *Searcher) Search(ctx context.Context, q Query, collection string, spaces []string, limit int) ([]Result, error) {
	return s.SearchWithOptions(ctx, q, collection, spaces, limit, Options{})
}

// SearchWithOptions is Search with a filter, per-space limit, image
// description, and merge rule override.
func (s *Searcher) SearchWithOptions(ctx context.Context, q Query, collection string, spaces []string, limit int, opts Options) ([]Result, error) {
	start := time.Now()
	ctx, span := metrics.Tracer.Start(ctx, "search.query", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.StringSlice("spaces", spaces),
		attribute.Int("limit", limit),
	))
	defer span.End()

	results, err := s.search(ctx, q, collection, spaces, limit, opts)

	metrics.Queries.WithLabelValues(collection, metrics.Outcome(err)).Inc()
	metrics.QueryDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("query failed",
			zap.String("collection", collection),
			zap.Strings("spaces", spaces),
			zap.Error(err))
		return nil, err
	}
	s.logger.Debug("query",
		zap.String("collection", collection),
		zap.Strings("spaces", spaces),
		zap.Int("results", len(results)),
		zap.Duration("took", time.Since(start)))
	return results, nil
}

// Spaces returns the spaces of collection a query of modality m can reach
// with the configured providers, in name order. Callers that name no spaces
// search these.
func (s *Searcher) Spaces(ctx context.Context, collection string, m embed.Modality, describeImages bool) ([]string, error) {
	schema, err := s.store.DescribeCollection(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("describe collection %q: %w", collection, err)
	}

	var names []string
	for _, name := range schema.Names() {
		needs, ok := s.layout.Embedder(name)
		if !ok {
			continue
		}
		switch {
		case needs == embed.ModalityImage && m == embed.ModalityImage && s.image != nil:
		case needs == embed.ModalityText && m == embed.ModalityText && s.text != nil:
		case needs == embed.ModalityText && m == embed.ModalityImage && describeImages && s.llm != nil && s.text != nil:
		default:
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fault.Newf(fault.InvalidInput, "search", "query", "collection %q has no vector space a %s query can search", collection, m)
	}
	return names, nil
}

// target is one space to query and the vector to query it with.
type target struct {
	space    string
	modality embed.Modality
	vector   []float32
}

func (s *Searcher) search(ctx context.Context, q Query, collection string, spaces []string, limit int, opts Options) ([]Result, error) {
	rule := s.merge
	if opts.Merge.Kind != "" {
		rule = opts.Merge
		if err := rule.Validate(); err != nil {
			return nil, fault.New(fault.InvalidInput, "search", "query", err)
		}
	}
	if limit <= 0 {
		return nil, fault.Newf(fault.InvalidInput, "search", "query", "limit must be positive, got %d", limit)
	}
	perSpace := opts.PerSpaceLimit
	if perSpace <= 0 {
		perSpace = limit
	}
	req := q.request()
	if err := req.Validate(); err != nil {
		return nil, fault.New(fault.InvalidInput, "search", "query", err)
	}

	targets, err := s.resolve(ctx, req.Modality(), collection, spaces, opts)
	if err != nil {
		return nil, err
	}
	if err := s.embed(ctx, q, targets, opts); err != nil {
		return nil, err
	}

	// One store query per space; the first failure cancels the rest.
	results := make([]spaceHits, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			hits, err := s.store.Query(gctx, collection, t.space, t.vector, perSpace, opts.Filter)
			if err != nil {
				return fmt.Errorf("query space %q: %w", t.space, err)
			}
			results[i] = spaceHits{space: t.space, hits: hits}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return merge(rule, results, limit), nil
}

// resolve validates the target spaces against the collection schema and the
// layout, returning them deduplicated in name order.
func (s *Searcher) resolve(ctx context.Context, modality embed.Modality, collection string, spaces []string, opts Options) ([]*target, error) {
	if len(spaces) == 0 {
		return nil, fault.Newf(fault.InvalidInput, "search", "query", "at least one vector space is required")
	}
	schema, err := s.store.DescribeCollection(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("describe collection %q: %w", collection, err)
	}

	seen := map[string]bool{}
	var targets []*target
	for _, name := range spaces {
		if seen[name] {
			continue
		}
		seen[name] = true

		if _, ok := schema[name]; !ok {
			return nil, fault.Newf(fault.InvalidInput, "search", "query",
				"collection %q has no vector space %q (have %s)", collection, name, strings.Join(schema.Names(), ", "))
		}
		needs, ok := s.layout.Embedder(name)
		if !ok {
			return nil, fault.Newf(fault.InvalidInput, "search", "query", "no embedder is configured for vector space %q", name)
		}
		switch {
		case needs == modality:
		case modality == embed.ModalityImage && needs == embed.ModalityText && opts.DescribeImages:
		default:
			return nil, fault.Newf(fault.InvalidInput, "search", "query",
				"a %s query cannot search %s space %q", modality, needs, name)
		}
		targets = append(targets, &target{space: name, modality: needs})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].space < targets[j].space })
	return targets, nil
}

// embed computes each needed query vector once and assigns it to the targets.
func (s *Searcher) embed(ctx context.Context, q Query, targets []*target, opts Options) error {
	vectors := map[embed.Modality][]float32{}
	for _, t := range targets {
		if _, done := vectors[t.modality]; done {
			t.vector = vectors[t.modality]
			continue
		}

		var vec []float32
		var err error
		switch {
		case t.modality == embed.ModalityImage:
			if s.image == nil {
				return fault.Newf(fault.InvalidInput, "search", "query", "no image embedding provider configured")
			}
			vec, err = s.image.Embed(ctx, embed.ImageRequest(q.Image))
		case q.Image != nil:
			vec, err = s.describe(ctx, q.Image, opts.Prompt)
		default:
			if s.text == nil {
				return fault.Newf(fault.InvalidInput, "search", "query", "no text embedding provider configured")
			}
			vec, err = s.text.Embed(ctx, embed.TextRequest(q.Text))
		}
		if err != nil {
			return fmt.Errorf("embed %s query: %w", t.modality, err)
		}
		vectors[t.modality] = vec
		t.vector = vec
	}
	return nil
}

// describe turns an image query into a text vector through the LLM.
func (s *Searcher) describe(ctx context.Context, img *embed.Image, prompt string) ([]float32, error) {
	if s.llm == nil || s.text == nil {
		return nil, fault.Newf(fault.InvalidInput, "search", "query", "describing image queries requires an LLM and a text embedding provider")
	}
	if prompt == "" {
		prompt = llm.DefaultDescribePrompt
	}
	gen, err := s.llm.Generate(ctx, prompt, img)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("described image query", zap.String("model", gen.Model), zap.Int("chars", len(gen.Text)))
	return s.text.Embed(ctx, embed.TextRequest(gen.Text))
}

// OutputFormat specifies the output format for search results.
type OutputFormat string

const (
	FormatDefault OutputFormat = "default"
	FormatJSON    OutputFormat = "json"
	FormatCompact OutputFormat = "compact"
)

// FormatResults formats search results according to the specified format.
func FormatResults(results []Result, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(results)
	case FormatCompact:
		return formatCompact(results)
	default:
		return formatDefault(results)
	}
}

// formatDefault produces human-readable output.
func formatDefault(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("=== Result %d (score: %.4f) ===\n", i+1, r.Score))
		sb.WriteString(fmt.Sprintf("ID: %s\n", r.ID))
		if src, ok := r.Payload["source"].(string); ok && src != "" {
			sb.WriteString(fmt.Sprintf("Source: %s\n", src))
		}
		sb.WriteString("Spaces: " + formatSpaces(r.Spaces) + "\n")

		if desc, ok := r.Payload["description"].(string); ok && desc != "" {
			sb.WriteString("\n  " + desc + "\n")
		} else if text, ok := r.Payload["text"].(string); ok && text != "" {
			// Indent content
			for _, line := range strings.Split(text, "\n") {
				sb.WriteString("  ")
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatSpaces(spaces map[string]float32) string {
	names := make([]string, 0, len(spaces))
	for name := range spaces {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.4f", name, spaces[name])
	}
	return strings.Join(parts, " ")
}

// formatJSON produces JSON output.
func formatJSON(results []Result) string {
	if results == nil {
		results = []Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// formatCompact produces compact single-line-per-result output.
func formatCompact(results []Result) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, r := range results {
		// Format: id score source
		sb.WriteString(fmt.Sprintf("%s\t%.4f", r.ID, r.Score))
		if src, ok := r.Payload["source"].(string); ok && src != "" {
			sb.WriteString("\t" + src)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
