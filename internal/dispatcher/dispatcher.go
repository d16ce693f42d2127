// Package dispatcher fans batches out to workers and reassembles their results
// in input order.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
	"github.com/JakeFAU/fb-crawler/internal/metrics"
)

// Runner executes one batch with its own key pool.
type Runner interface {
	Run(ctx context.Context, index int, batch crawler.Batch, pool *crawler.KeyPool, totalKeyCount int) crawler.Outcome
}

// Result is the ordered output of one dispatch.
type Result struct {
	Items    []crawler.Item
	Outcomes []crawler.Outcome
}

// FailedBatches counts batches that contributed no items because they did not succeed.
func (r Result) FailedBatches() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State != crawler.BatchSucceeded {
			n++
		}
	}
	return n
}

// Dispatcher runs batches concurrently.
type Dispatcher struct {
	runner Runner
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(runner Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner: runner,
		logger: logger,
	}
}

// Dispatch runs every batch and returns all items in batch order.
// Batch i starts on credentials[i mod len(credentials)]. At most
// min(len(credentials), len(batches)) batches run at once. Failed or panicking
// batches contribute no items and never abort their siblings.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	batches []crawler.Batch,
	credentials []crawler.Credential,
) (Result, error) {
	if len(credentials) == 0 {
		return Result{}, fmt.Errorf("%w: no API keys available", crawler.ErrConfiguration)
	}
	if len(batches) == 0 {
		return Result{Items: []crawler.Item{}}, nil
	}

	outcomes := make([]crawler.Outcome, len(batches))
	pools := make([]*crawler.KeyPool, len(batches))
	for i := range batches {
		pool, err := crawler.NewKeyPool(credentials, i)
		if err != nil {
			return Result{}, err
		}
		pools[i] = pool
		outcomes[i] = crawler.Outcome{Index: i, State: crawler.BatchPending}
	}

	var g errgroup.Group
	g.SetLimit(min(len(credentials), len(batches)))
	for i, batch := range batches {
		g.Go(func() error {
			outcomes[i] = d.runBatch(ctx, i, batch, pools[i], len(credentials))
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Items: []crawler.Item{}, Outcomes: outcomes}
	for i := range outcomes {
		metrics.ObserveBatch(string(outcomes[i].State))
		result.Items = append(result.Items, outcomes[i].Items...)
	}
	d.logger.Info("dispatch finished",
		zap.Int("batches", len(batches)),
		zap.Int("failed_batches", result.FailedBatches()),
		zap.Int("items", len(result.Items)),
	)
	return result, nil
}

func (d *Dispatcher) runBatch(
	ctx context.Context,
	index int,
	batch crawler.Batch,
	pool *crawler.KeyPool,
	totalKeyCount int,
) (outcome crawler.Outcome) {
	metrics.IncActiveBatches()
	defer metrics.DecActiveBatches()
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("batch worker panicked",
				zap.Int("batch", index),
				zap.Strings("targets", batch.Strings()),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			outcome = crawler.Outcome{Index: index, State: crawler.BatchErrored}
		}
	}()
	return d.runner.Run(ctx, index, batch, pool, totalKeyCount)
}
