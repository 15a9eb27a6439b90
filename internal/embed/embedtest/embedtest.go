// Package embedtest provides an in-process embed.Provider for tests.
package embedtest

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

// Provider returns fixed vectors for registered content and a deterministic
// pseudo-random unit vector for anything else.
type Provider struct {
	name       string
	dims       int
	modalities []embed.Modality

	mu      sync.Mutex
	vectors map[string][]float32
	fail    map[string]error
	err     error
	calls   int
	inputs  []string
}

// New creates a fake provider of the given dimensionality.
func New(name string, dims int, modalities ...embed.Modality) *Provider {
	if len(modalities) == 0 {
		modalities = []embed.Modality{embed.ModalityText}
	}
	return &Provider{
		name:       name,
		dims:       dims,
		modalities: modalities,
		vectors:    map[string][]float32{},
		fail:       map[string]error{},
	}
}

// Set registers the vector returned for content (text or raw image bytes).
func (p *Provider) Set(content string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectors[content] = vec
}

// FailOn makes any batch containing content fail with err.
func (p *Provider) FailOn(content string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[content] = err
}

// Fail makes every call fail with err. A nil err clears it.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns the number of EmbedBatch invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Inputs returns every piece of content embedded so far.
func (p *Provider) Inputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.inputs)
}

func (p *Provider) Embed(ctx context.Context, req embed.Request) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []embed.Request{req})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *Provider) EmbedBatch(ctx context.Context, reqs []embed.Request) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if p.err != nil {
		return nil, p.err
	}

	out := make([][]float32, len(reqs))
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, fault.New(fault.InvalidInput, p.name, "embed", err)
		}
		if !slices.Contains(p.modalities, req.Modality()) {
			return nil, fault.New(fault.InvalidInput, p.name, "embed", embed.ErrUnsupportedKind)
		}
		key := Key(req)
		if err, ok := p.fail[key]; ok {
			return nil, err
		}
		p.inputs = append(p.inputs, key)
		if v, ok := p.vectors[key]; ok {
			out[i] = slices.Clone(v)
			continue
		}
		out[i] = Vector(key, p.dims)
	}
	return out, nil
}

func (p *Provider) Name() string                 { return p.name }
func (p *Provider) Model() string                { return p.name + "-model" }
func (p *Provider) Dimensions() int              { return p.dims }
func (p *Provider) Modalities() []embed.Modality { return p.modalities }

func (p *Provider) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Key returns the content key of a request.
func Key(req embed.Request) string {
	if req.Image != nil {
		return string(req.Image.Data)
	}
	return req.Text
}

// Vector derives a unit vector of length dims from content.
func Vector(content string, dims int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(content))
	rng := rand.New(rand.NewPCG(h.Sum64(), 0x9e3779b97f4a7c15))

	v := make([]float32, dims)
	var norm float64
	for i := range v {
		f := rng.NormFloat64()
		v[i] = float32(f)
		norm += f * f
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Unit returns a vector of length dims with 1 at position i.
func Unit(dims, i int) []float32 {
	v := make([]float32, dims)
	v[i] = 1
	return v
}
