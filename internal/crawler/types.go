package crawler

import (
	"time"
)

// Kind selects which Facebook scraper a crawl runs against.
type Kind string

// Supported crawl kinds.
const (
	KindProfile Kind = "profile"
	KindPost    Kind = "post"
)

// Valid reports whether k is a known crawl kind.
func (k Kind) Valid() bool {
	return k == KindProfile || k == KindPost
}

// Target is a single profile or post URL to scrape.
type Target string

// Batch is an ordered group of targets submitted to the backend as one job.
type Batch []Target

// Strings returns the batch targets as plain strings.
func (b Batch) Strings() []string {
	out := make([]string, len(b))
	for i, t := range b {
		out[i] = string(t)
	}
	return out
}

// Item is one opaque record returned by the scraping backend.
type Item map[string]any

// Credential is a scraping backend API key.
type Credential string

// Mask renders the credential for logs without leaking it.
func (c Credential) Mask() string {
	const visible = 4
	if len(c) <= visible {
		return "****"
	}
	return "****" + string(c[len(c)-visible:])
}

// BatchState is the terminal state of one batch within a crawl.
type BatchState string

// Batch lifecycle values.
const (
	BatchPending   BatchState = "pending"
	BatchRunning   BatchState = "running"
	BatchSucceeded BatchState = "succeeded"
	BatchExhausted BatchState = "exhausted"
	BatchErrored   BatchState = "errored"
)

// Outcome records how a single batch finished.
type Outcome struct {
	Index    int        `json:"index"`
	State    BatchState `json:"state"`
	Attempts int        `json:"attempts"`
	Items    []Item     `json:"-"`
}

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the metadata persisted for each crawl request.
type Run struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Status        RunStatus  `json:"status"`
	URLCount      int        `json:"url_count"`
	BatchSize     int        `json:"batch_size"`
	BatchCount    int        `json:"batch_count"`
	ItemCount     int        `json:"item_count"`
	FailedBatches int        `json:"failed_batches"`
	URI           string     `json:"uri,omitempty"`
	ErrorText     string     `json:"error_text,omitempty"`
	Started       time.Time  `json:"started_at"`
	Finished      *time.Time `json:"finished_at,omitempty"`
}

// RunCounters carries the final tallies written when a run completes.
type RunCounters struct {
	BatchCount    int
	ItemCount     int
	FailedBatches int
}

// Notification is published once a crawl result has been stored.
type Notification struct {
	RunID         string `json:"run_id"`
	Kind          Kind   `json:"kind"`
	URI           string `json:"uri"`
	ItemCount     int    `json:"item_count"`
	BatchCount    int    `json:"batch_count"`
	FailedBatches int    `json:"failed_batches"`
}
