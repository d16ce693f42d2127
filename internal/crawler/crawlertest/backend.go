// Package crawlertest provides in-memory scraping backends for tests.
package crawlertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

// Behavior scripts how a fake backend responds for one credential.
type Behavior struct {
	SubmitErr  error
	AwaitErr   error
	FetchErr   error
	NoDataset  bool
	Delay      time.Duration
	PanicOnRun bool
	// RejectBatch, when set, fails Submit for batches it returns an error for.
	RejectBatch func(batch crawler.Batch) error
	// Items overrides the echoed items. When nil, one item per target is
	// returned carrying the target under "url", in reverse order.
	Items func(batch crawler.Batch) []crawler.Item
}

// Call records one Submit invocation.
type Call struct {
	Credential crawler.Credential
	Batch      crawler.Batch
}

// Backends is a crawler.BackendFactory whose behavior is scripted per credential.
type Backends struct {
	mu        sync.Mutex
	behaviors map[crawler.Credential]Behavior
	fallback  Behavior
	calls     []Call
	jobs      map[string]crawler.Batch
	seq       int
}

// NewBackends returns a factory where unknown credentials behave like fallback.
func NewBackends(fallback Behavior) *Backends {
	return &Backends{
		behaviors: make(map[crawler.Credential]Behavior),
		fallback:  fallback,
		jobs:      make(map[string]crawler.Batch),
	}
}

// Set scripts the behavior for cred.
func (b *Backends) Set(cred crawler.Credential, behavior Behavior) *Backends {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.behaviors[cred] = behavior
	return b
}

// Calls returns a copy of all recorded Submit calls.
func (b *Backends) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// ForCredential implements crawler.BackendFactory.
func (b *Backends) ForCredential(cred crawler.Credential) crawler.Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	behavior, ok := b.behaviors[cred]
	if !ok {
		behavior = b.fallback
	}
	return &backend{parent: b, cred: cred, behavior: behavior}
}

type backend struct {
	parent   *Backends
	cred     crawler.Credential
	behavior Behavior
}

func (f *backend) Submit(ctx context.Context, batch crawler.Batch) (crawler.JobHandle, error) {
	f.parent.mu.Lock()
	f.parent.calls = append(f.parent.calls, Call{Credential: f.cred, Batch: batch})
	f.parent.seq++
	id := fmt.Sprintf("run-%d", f.parent.seq)
	f.parent.jobs[id] = batch
	f.parent.mu.Unlock()

	if f.behavior.PanicOnRun {
		panic("fake backend panic")
	}
	if f.behavior.SubmitErr != nil {
		return crawler.JobHandle{}, f.behavior.SubmitErr
	}
	if f.behavior.RejectBatch != nil {
		if err := f.behavior.RejectBatch(batch); err != nil {
			return crawler.JobHandle{}, err
		}
	}
	if f.behavior.Delay > 0 {
		select {
		case <-time.After(f.behavior.Delay):
		case <-ctx.Done():
			return crawler.JobHandle{}, fmt.Errorf("fake submit: %w", ctx.Err())
		}
	}
	return crawler.JobHandle{ID: id}, nil
}

func (f *backend) Await(_ context.Context, job crawler.JobHandle) (string, error) {
	if f.behavior.AwaitErr != nil {
		return "", f.behavior.AwaitErr
	}
	if f.behavior.NoDataset {
		return "", nil
	}
	return "ds-" + job.ID, nil
}

func (f *backend) FetchItems(_ context.Context, datasetID string) ([]crawler.Item, error) {
	if f.behavior.FetchErr != nil {
		return nil, f.behavior.FetchErr
	}
	f.parent.mu.Lock()
	batch := f.parent.jobs[datasetID[len("ds-"):]]
	f.parent.mu.Unlock()

	if f.behavior.Items != nil {
		return f.behavior.Items(batch), nil
	}
	items := make([]crawler.Item, 0, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		items = append(items, crawler.Item{"url": string(batch[i]), "via": string(f.cred)})
	}
	return items, nil
}
