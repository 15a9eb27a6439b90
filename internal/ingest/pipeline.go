package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/llm"
	"github.com/abdul-hamid-achik/multivec/internal/metrics"
	"github.com/abdul-hamid-achik/multivec/internal/space"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

// Options controls a single ingestion.
type Options struct {
	// DescribeImages asks the LLM for a description of image items and
	// stores its text embedding in the description space.
	DescribeImages bool
	// Prompt overrides llm.DefaultDescribePrompt.
	Prompt string
}

// Config wires a Pipeline to its collaborators. Store and at least one
// embedder are required; LLM is only needed when images are described.
type Config struct {
	Text     embed.Provider
	Image    embed.Provider
	LLM      llm.Client
	Store    store.Store
	Layout   space.Layout
	Workers  int
	Logger   *zap.Logger
	Observer Observer
}

// Pipeline embeds items, optionally describes images, and writes exactly one
// record per successful item.
type Pipeline struct {
	text     embed.Provider
	image    embed.Provider
	llm      llm.Client
	store    store.Store
	layout   space.Layout
	workers  int
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if cfg.Text == nil && cfg.Image == nil {
		return nil, errors.New("ingest: at least one embedding provider is required")
	}
	if cfg.Layout == (space.Layout{}) {
		cfg.Layout = space.DefaultLayout()
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pipeline{
		text:     cfg.Text,
		image:    cfg.Image,
		llm:      cfg.LLM,
		store:    cfg.Store,
		layout:   cfg.Layout,
		workers:  cfg.Workers,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		now:      time.Now,
	}, nil
}

// Layout returns the space layout records are written with.
func (p *Pipeline) Layout() space.Layout {
	return p.layout
}

// tracker follows one item through the state machine.
type tracker struct {
	p     *Pipeline
	item  string
	stage Stage
	span  trace.Span
}

func (t *tracker) advance(to Stage) {
	from := t.stage
	t.stage = to
	t.span.AddEvent(to.String())
	t.p.logger.Debug("ingest transition",
		zap.String("item", t.item),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	if t.p.observer != nil {
		t.p.observer(Transition{Item: t.item, From: from, To: to})
	}
}

// fail moves the item to StageFailed and builds the error returned to the caller.
func (t *tracker) fail(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !fault.KindOf(err).Retryable() {
		err = fault.New(fault.ProviderUnavailable, "ingest", t.stage.String(), err)
	}
	itemErr := &ItemError{Item: t.item, Stage: t.stage, Err: err}

	t.span.RecordError(err)
	t.span.SetStatus(codes.Error, err.Error())
	if t.p.observer != nil {
		t.p.observer(Transition{Item: t.item, From: t.stage, To: StageFailed, Err: err})
	}
	return itemErr
}

// plan is the set of calls an item needs, resolved before any of them is made.
type plan struct {
	req      embed.Request
	native   embed.Provider
	space    string
	caption  string
	describe bool
	prompt   string
}

func (p *Pipeline) plan(item Item, opts Options) (plan, error) {
	req, err := item.request()
	if err != nil {
		return plan{}, fault.New(fault.InvalidInput, "ingest", "validate", err)
	}

	pl := plan{req: req, space: p.layout.Native(req.Modality())}
	switch req.Modality() {
	case embed.ModalityImage:
		pl.native = p.image
	default:
		pl.native = p.text
	}
	if pl.native == nil {
		return plan{}, fault.Newf(fault.InvalidInput, "ingest", "validate", "no %s embedding provider configured", req.Modality())
	}

	if caption := item.Caption(); caption != "" {
		if p.text == nil {
			return plan{}, fault.Newf(fault.InvalidInput, "ingest", "validate", "captions require a text embedding provider")
		}
		pl.caption = caption
	}

	// A caption already fills a description space shared with text.
	captioned := pl.caption != "" && p.layout.Description == p.layout.Text
	if opts.DescribeImages && req.Modality() == embed.ModalityImage && !captioned {
		if p.llm == nil {
			return plan{}, fault.Newf(fault.InvalidInput, "ingest", "validate", "describing images requires an LLM provider")
		}
		if !p.llm.Vision() {
			return plan{}, fault.New(fault.InvalidInput, "ingest", "validate", fmt.Errorf("%s: %w", p.llm.Model(), llm.ErrNoVision))
		}
		if p.text == nil {
			return plan{}, fault.Newf(fault.InvalidInput, "ingest", "validate", "describing images requires a text embedding provider")
		}
		pl.describe = true
		pl.prompt = opts.Prompt
		if pl.prompt == "" {
			pl.prompt = llm.DefaultDescribePrompt
		}
	}
	return pl, nil
}

// Ingest runs one item through the pipeline and returns the stored record ID.
// On failure the error is an *ItemError and nothing has been written.
func (p *Pipeline) Ingest(ctx context.Context, item Item, collection string, opts Options) (string, error) {
	start := time.Now()
	ctx, span := metrics.Tracer.Start(ctx, "ingest.item", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("item", item.Key()),
		attribute.Bool("describe", opts.DescribeImages),
	))
	defer span.End()

	id, err := p.ingest(ctx, span, item, collection, opts)

	metrics.IngestItems.WithLabelValues(collection, metrics.Outcome(err)).Inc()
	metrics.IngestDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	if err != nil {
		p.logger.Warn("ingest failed",
			zap.String("collection", collection),
			zap.String("item", item.Key()),
			zap.String("kind", fault.KindOf(err).String()),
			zap.Error(err))
		return "", err
	}
	p.logger.Info("ingested",
		zap.String("collection", collection),
		zap.String("id", id),
		zap.Duration("took", time.Since(start)))
	return id, nil
}

func (p *Pipeline) ingest(ctx context.Context, span trace.Span, item Item, collection string, opts Options) (string, error) {
	t := &tracker{p: p, item: item.Key(), stage: StageReceived, span: span}

	pl, err := p.plan(item, opts)
	if err != nil {
		return "", t.fail(err)
	}

	// Native embedding.
	vec, err := pl.native.Embed(ctx, pl.req)
	if err != nil {
		return "", t.fail(err)
	}
	vectors := map[string][]float32{pl.space: vec}
	if pl.caption != "" {
		cvec, err := p.text.Embed(ctx, embed.TextRequest(pl.caption))
		if err != nil {
			return "", t.fail(err)
		}
		vectors[p.layout.Text] = cvec
	}
	t.advance(StageEmbedded)

	// Optional description, embedded as text.
	var description, descriptionModel string
	if pl.describe {
		gen, err := p.llm.Generate(ctx, pl.prompt, pl.req.Image)
		if err != nil {
			return "", t.fail(err)
		}
		t.advance(StageDescribed)
		description, descriptionModel = gen.Text, gen.Model

		dvec, err := p.text.Embed(ctx, embed.TextRequest(gen.Text))
		if err != nil {
			return "", t.fail(err)
		}
		t.advance(StageReDescribedEmbedded)
		vectors[p.layout.Description] = dvec
	}

	// All embeddings are in hand; a canceled caller still gets nothing written.
	if err := ctx.Err(); err != nil {
		return "", t.fail(err)
	}

	rec := store.Record{
		ID:      item.ID,
		Vectors: vectors,
		Payload: item.payload(description, descriptionModel, p.now().UTC().Format(time.RFC3339)),
	}
	id, err := p.store.Upsert(ctx, collection, rec)
	if err != nil {
		return "", t.fail(err)
	}
	t.advance(StageStored)
	span.SetAttributes(attribute.String("id", id))
	t.advance(StageDone)
	return id, nil
}
