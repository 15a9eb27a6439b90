package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
)

// warmupText is embedded once so local model servers load the model before
// the first real query.
const warmupText = "warmup"

// Warmup checks that the store and every configured embedder answer, and
// primes the text embedder. It returns every failure joined.
func (s *Searcher) Warmup(ctx context.Context) error {
	var errs []error

	if err := s.store.Health(ctx); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	for _, p := range []embed.Provider{s.text, s.image} {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s embedder: %w", p.Name(), err))
		}
	}
	if s.text != nil {
		if _, err := s.text.Embed(ctx, embed.TextRequest(warmupText)); err != nil {
			errs = append(errs, fmt.Errorf("prime %s: %w", s.text.Name(), err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn("warmup incomplete", zap.Error(err))
	}
	return err
}
