// Package service runs one synchronous crawl: validate, load credentials,
// split, dispatch, store the result and report.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
	"github.com/JakeFAU/fb-crawler/internal/dispatcher"
	"github.com/JakeFAU/fb-crawler/internal/metrics"
)

// DefaultBatchSize is used when a request does not set one.
const DefaultBatchSize = 2

// Dispatcher runs batches for one crawl kind.
type Dispatcher interface {
	Dispatch(ctx context.Context, batches []crawler.Batch, credentials []crawler.Credential) (dispatcher.Result, error)
}

// Sink stores the ordered result set.
type Sink interface {
	Write(ctx context.Context, kind crawler.Kind, items []crawler.Item) (string, error)
}

// Request is one crawl invocation.
type Request struct {
	Kind crawler.Kind
	URLs []string
	// BatchSize of zero selects the configured default.
	BatchSize int
}

// Report summarizes a finished crawl.
type Report struct {
	RunID         string       `json:"run_id"`
	Kind          crawler.Kind `json:"kind"`
	URI           string       `json:"uri"`
	Items         int          `json:"items"`
	Batches       int          `json:"batches"`
	FailedBatches int          `json:"failed_batches"`
}

// Config tunes the service.
type Config struct {
	DefaultBatchSize int
	// Topic receives completion notifications. Empty disables publishing.
	Topic string
}

// Deps are the collaborators of a Service.
type Deps struct {
	Credentials crawler.CredentialSource
	Dispatchers map[crawler.Kind]Dispatcher
	Sink        Sink
	Publisher   crawler.Publisher
	Runs        crawler.RunStore
	IDs         crawler.IDGenerator
	Clock       crawler.Clock
}

// Service orchestrates crawls.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and returns a Service. Publisher and Runs are optional.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Credentials == nil:
		return nil, fmt.Errorf("%w: credential source is required", crawler.ErrConfiguration)
	case len(deps.Dispatchers) == 0:
		return nil, fmt.Errorf("%w: at least one dispatcher is required", crawler.ErrConfiguration)
	case deps.Sink == nil:
		return nil, fmt.Errorf("%w: result sink is required", crawler.ErrConfiguration)
	case deps.IDs == nil || deps.Clock == nil:
		return nil, fmt.Errorf("%w: id generator and clock are required", crawler.ErrConfiguration)
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}, nil
}

// Kinds reports which crawl kinds have a dispatcher.
func (s *Service) Kinds() []crawler.Kind {
	out := make([]crawler.Kind, 0, len(s.deps.Dispatchers))
	for _, k := range []crawler.Kind{crawler.KindProfile, crawler.KindPost} {
		if _, ok := s.deps.Dispatchers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Crawl runs req to completion. Only invalid input, configuration and sink
// failures are returned as errors; failed batches are reported, not raised.
// An empty URL list still writes an empty result file.
func (s *Service) Crawl(ctx context.Context, req Request) (Report, error) {
	ctx, span := otel.Tracer("github.com/JakeFAU/fb-crawler/internal/service").Start(ctx, "crawl")
	defer span.End()

	report, err := s.crawl(ctx, req)
	span.SetAttributes(
		attribute.String("crawl.kind", string(req.Kind)),
		attribute.Int("crawl.urls", len(req.URLs)),
		attribute.Int("crawl.items", report.Items),
		attribute.Int("crawl.failed_batches", report.FailedBatches),
	)
	status := string(crawler.RunStatusSucceeded)
	if err != nil {
		status = string(crawler.RunStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.ObserveCrawl(string(req.Kind), status)
	return report, err
}

func (s *Service) crawl(ctx context.Context, req Request) (Report, error) {
	dispatch, batchSize, err := s.validate(req)
	if err != nil {
		return Report{}, err
	}
	runID, err := s.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	report := Report{RunID: runID, Kind: req.Kind}
	logger := s.logger.With(zap.String("run_id", runID), zap.String("kind", string(req.Kind)))

	targets := make([]crawler.Target, len(req.URLs))
	for i, u := range req.URLs {
		targets[i] = crawler.Target(u)
	}
	batches, err := crawler.Split(targets, batchSize)
	if err != nil {
		return report, err
	}
	report.Batches = len(batches)

	s.createRun(ctx, logger, crawler.Run{
		ID:         runID,
		Kind:       req.Kind,
		Status:     crawler.RunStatusRunning,
		URLCount:   len(targets),
		BatchSize:  batchSize,
		BatchCount: len(batches),
		Started:    s.deps.Clock.Now(),
	})
	logger.Info("crawl started",
		zap.Int("urls", len(targets)),
		zap.Int("batch_size", batchSize),
		zap.Int("batches", len(batches)),
	)

	creds, err := s.deps.Credentials.Credentials(ctx)
	if err == nil && len(creds) == 0 {
		err = fmt.Errorf("%w: credential source returned no keys", crawler.ErrConfiguration)
	}
	if err != nil {
		s.fail(ctx, logger, report, err)
		return report, err
	}

	result, err := dispatch.Dispatch(ctx, batches, creds)
	if err != nil {
		s.fail(ctx, logger, report, err)
		return report, err
	}
	report.Items = len(result.Items)
	report.FailedBatches = result.FailedBatches()
	metrics.ObserveItems(string(req.Kind), report.Items)

	uri, err := s.deps.Sink.Write(ctx, req.Kind, result.Items)
	if err != nil {
		s.fail(ctx, logger, report, err)
		return report, err
	}
	report.URI = uri

	s.completeRun(ctx, logger, report, crawler.RunStatusSucceeded, "")
	s.publish(ctx, logger, report)
	logger.Info("crawl finished",
		zap.String("uri", uri),
		zap.Int("items", report.Items),
		zap.Int("failed_batches", report.FailedBatches),
	)
	return report, nil
}

func (s *Service) validate(req Request) (Dispatcher, int, error) {
	if !req.Kind.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown crawl kind %q", crawler.ErrInvalidArgument, req.Kind)
	}
	dispatch, ok := s.deps.Dispatchers[req.Kind]
	if !ok {
		return nil, 0, fmt.Errorf("%w: crawl kind %q is not configured", crawler.ErrConfiguration, req.Kind)
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = s.cfg.DefaultBatchSize
	}
	if batchSize < 0 {
		return nil, 0, fmt.Errorf("%w: 'batch_size' must be a positive integer", crawler.ErrInvalidArgument)
	}
	return dispatch, batchSize, nil
}

func (s *Service) fail(ctx context.Context, logger *zap.Logger, report Report, err error) {
	logger.Error("crawl failed", zap.Error(err))
	s.completeRun(ctx, logger, report, crawler.RunStatusFailed, err.Error())
}

func (s *Service) createRun(ctx context.Context, logger *zap.Logger, run crawler.Run) {
	if s.deps.Runs == nil {
		return
	}
	if err := s.deps.Runs.CreateRun(ctx, run); err != nil {
		logger.Warn("record run start failed", zap.Error(err))
	}
}

func (s *Service) completeRun(ctx context.Context, logger *zap.Logger, report Report, status crawler.RunStatus, errText string) {
	if s.deps.Runs == nil {
		return
	}
	counters := crawler.RunCounters{
		BatchCount:    report.Batches,
		ItemCount:     report.Items,
		FailedBatches: report.FailedBatches,
	}
	err := s.deps.Runs.CompleteRun(ctx, report.RunID, status, report.URI, errText, counters)
	if err != nil && !errors.Is(err, crawler.ErrRunNotFound) {
		logger.Warn("record run completion failed", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, logger *zap.Logger, report Report) {
	if s.deps.Publisher == nil || s.cfg.Topic == "" {
		return
	}
	note := crawler.Notification{
		RunID:         report.RunID,
		Kind:          report.Kind,
		URI:           report.URI,
		ItemCount:     report.Items,
		BatchCount:    report.Batches,
		FailedBatches: report.FailedBatches,
	}
	id, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, note)
	if err != nil {
		logger.Warn("publish completion failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("published completion", zap.String("topic", s.cfg.Topic), zap.String("message_id", id))
}

// GetRun loads a stored run record.
func (s *Service) GetRun(ctx context.Context, id string) (crawler.Run, error) {
	if s.deps.Runs == nil {
		return crawler.Run{}, fmt.Errorf("%w: %s", crawler.ErrRunNotFound, id)
	}
	run, err := s.deps.Runs.GetRun(ctx, id)
	if err != nil {
		return crawler.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}
