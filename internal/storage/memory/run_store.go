package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

// RunStore provides an in-memory crawler.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]crawler.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.Started.IsZero() {
		run.Started = s.now()
	}
	s.runs[run.ID] = run
	return nil
}

// CompleteRun records the terminal status and tallies of a run.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID string,
	status crawler.RunStatus,
	uri string,
	errText string,
	counters crawler.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", crawler.ErrRunNotFound, runID)
	}
	run.Status = status
	run.URI = uri
	run.ErrorText = errText
	run.BatchCount = counters.BatchCount
	run.ItemCount = counters.ItemCount
	run.FailedBatches = counters.FailedBatches
	finished := s.now()
	run.Finished = &finished
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, fmt.Errorf("%w: %s", crawler.ErrRunNotFound, runID)
	}
	return run, nil
}
