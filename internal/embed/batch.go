package embed

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	defaultBatchSize   = 32
)

// fanOut splits n inputs into chunks and runs embed on them concurrently.
// Results land at their input index; the first failure cancels the rest.
func fanOut(ctx context.Context, n, chunk, limit int, embed func(ctx context.Context, lo, hi int) ([][]float32, error)) ([][]float32, error) {
	if chunk <= 0 {
		chunk = defaultBatchSize
	}
	if limit <= 0 {
		limit = defaultConcurrency
	}

	out := make([][]float32, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			vecs, err := embed(gctx, lo, hi)
			if err != nil {
				return err
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
