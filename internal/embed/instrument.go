package embed

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/multivec/internal/metrics"
)

// InstrumentedProvider records call counts and latency for an inner provider.
// Results pass through untouched.
type InstrumentedProvider struct {
	Provider
}

// Instrument wraps p with metrics.
func Instrument(p Provider) Provider {
	if _, ok := p.(*InstrumentedProvider); ok {
		return p
	}
	return &InstrumentedProvider{Provider: p}
}

// Embed generates an embedding and records the call.
func (ip *InstrumentedProvider) Embed(ctx context.Context, req Request) ([]float32, error) {
	start := time.Now()
	vec, err := ip.Provider.Embed(ctx, req)
	ip.record(start, 1, err)
	return vec, err
}

// EmbedBatch generates embeddings and records the call.
func (ip *InstrumentedProvider) EmbedBatch(ctx context.Context, reqs []Request) ([][]float32, error) {
	start := time.Now()
	vecs, err := ip.Provider.EmbedBatch(ctx, reqs)
	ip.record(start, len(reqs), err)
	return vecs, err
}

// Unwrap returns the inner provider.
func (ip *InstrumentedProvider) Unwrap() Provider {
	return ip.Provider
}

func (ip *InstrumentedProvider) record(start time.Time, inputs int, err error) {
	name := ip.Name()
	metrics.EmbedInputs.WithLabelValues(name).Add(float64(inputs))
	metrics.EmbedDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.EmbedRequests.WithLabelValues(name, metrics.Outcome(err)).Inc()
}
