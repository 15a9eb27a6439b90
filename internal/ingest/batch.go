package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchResult holds per-item outcomes in input order.
type BatchResult struct {
	IDs      []string
	Errors   []error
	Stored   int
	Failed   int
	Duration time.Duration
}

// Err joins every item error, or returns nil when all items were stored.
func (r *BatchResult) Err() error {
	return errors.Join(r.Errors...)
}

// Progress is reported after each item of a batch finishes.
type Progress struct {
	Total int
	Done  int
	Item  string
	Err   error
}

// ProgressCallback receives batch progress. Calls are serialized.
type ProgressCallback func(Progress)

type job struct {
	index int
	item  Item
}

type outcome struct {
	index int
	id    string
	err   error
}

// IngestAll ingests items with a bounded worker pool. One item's failure
// never affects another; items not started before ctx is done fail with the
// context error.
func (p *Pipeline) IngestAll(ctx context.Context, items []Item, collection string, opts Options, progress ProgressCallback) *BatchResult {
	start := time.Now()
	result := &BatchResult{
		IDs:    make([]string, len(items)),
		Errors: make([]error, len(items)),
	}
	if len(items) == 0 {
		return result
	}

	jobs := make(chan job, len(items))
	outcomes := make(chan outcome, len(items))

	workers := min(p.workers, len(items))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					outcomes <- outcome{index: j.index, err: &ItemError{Item: j.item.Key(), Stage: StageReceived, Err: err}}
					continue
				}
				id, err := p.Ingest(ctx, j.item, collection, opts)
				outcomes <- outcome{index: j.index, id: id, err: err}
			}
		}()
	}

	for i, item := range items {
		jobs <- job{index: i, item: item}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	done := 0
	for o := range outcomes {
		done++
		result.IDs[o.index] = o.id
		result.Errors[o.index] = o.err
		if o.err != nil {
			result.Failed++
		} else {
			result.Stored++
		}
		if progress != nil {
			progress(Progress{Total: len(items), Done: done, Item: items[o.index].Key(), Err: o.err})
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info("batch ingested",
		zap.String("collection", collection),
		zap.Int("stored", result.Stored),
		zap.Int("failed", result.Failed),
		zap.Duration("took", result.Duration))
	return result
}
