// Package worker runs a single batch against the scraping backend, rotating
// through API keys until one succeeds.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
	"github.com/JakeFAU/fb-crawler/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// AttemptTimeout bounds one submit/await/fetch cycle. Zero means no bound.
	AttemptTimeout time.Duration
	// OriginFields lists item fields checked when restoring input order.
	OriginFields []string
}

// Worker executes batches against the scraping backend.
type Worker struct {
	backends crawler.BackendFactory
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(backends crawler.BackendFactory, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		backends: backends,
		cfg:      cfg,
		logger:   logger,
	}
}

// attempt is the result of one credential's try at a batch.
type attempt struct {
	items []crawler.Item
	err   error
}

func (a attempt) ok() bool {
	return a.err == nil
}

// Run tries batch with up to totalKeyCount credentials taken from pool, advancing
// the pool after each failure. It never returns an error: a batch for which every
// credential failed yields an Exhausted outcome with no items.
func (w *Worker) Run(
	ctx context.Context,
	index int,
	batch crawler.Batch,
	pool *crawler.KeyPool,
	totalKeyCount int,
) crawler.Outcome {
	logger := w.logger.With(zap.Int("batch", index), zap.Strings("targets", batch.Strings()))
	outcome := crawler.Outcome{Index: index, State: crawler.BatchRunning}

	for outcome.Attempts < totalKeyCount {
		if ctx.Err() != nil {
			logger.Warn("batch abandoned", zap.Error(ctx.Err()))
			break
		}
		cred := pool.Current()
		outcome.Attempts++
		logger.Info("submitting batch", zap.String("api_key", cred.Mask()), zap.Int("attempt", outcome.Attempts))

		start := time.Now()
		res := w.try(ctx, batch, cred)
		if res.ok() {
			metrics.ObserveBackendAttempt("success", time.Since(start))
			outcome.State = crawler.BatchSucceeded
			outcome.Items = crawler.Reorder(batch, res.items, w.cfg.OriginFields)
			logger.Info("batch completed", zap.Int("items", len(outcome.Items)), zap.Int("attempts", outcome.Attempts))
			return outcome
		}

		metrics.ObserveBackendAttempt(failureLabel(res.err), time.Since(start))
		logger.Warn("batch attempt failed", zap.String("api_key", cred.Mask()), zap.Error(res.err))
		next := pool.Advance()
		metrics.ObserveKeyRotation()
		logger.Info("rotating to next API key", zap.String("api_key", next.Mask()))
	}

	outcome.State = crawler.BatchExhausted
	outcome.Items = nil
	logger.Error("all API keys exhausted for batch", zap.Int("attempts", outcome.Attempts))
	return outcome
}

func (w *Worker) try(ctx context.Context, batch crawler.Batch, cred crawler.Credential) attempt {
	if w.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		defer cancel()
	}

	backend := w.backends.ForCredential(cred)
	job, err := backend.Submit(ctx, batch)
	if err != nil {
		return attempt{err: fmt.Errorf("submit job: %w", err)}
	}
	datasetID, err := backend.Await(ctx, job)
	if err != nil {
		return attempt{err: fmt.Errorf("await job %s: %w", job.ID, err)}
	}
	if datasetID == "" {
		return attempt{err: fmt.Errorf("await job %s: %w", job.ID, crawler.ErrNoDataset)}
	}
	items, err := backend.FetchItems(ctx, datasetID)
	if err != nil {
		return attempt{err: fmt.Errorf("fetch dataset %s: %w", datasetID, err)}
	}
	return attempt{items: items}
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, crawler.ErrCredentialFailure):
		return "credential"
	default:
		return "error"
	}
}
