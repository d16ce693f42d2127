package crawler

import (
	"context"
	"io"
	"time"
)

// JobHandle identifies a job submitted to the scraping backend.
type JobHandle struct {
	ID string
}

// Backend runs scraping jobs with a single credential.
type Backend interface {
	Submit(ctx context.Context, batch Batch) (JobHandle, error)
	Await(ctx context.Context, job JobHandle) (string, error)
	FetchItems(ctx context.Context, datasetID string) ([]Item, error)
}

// BackendFactory builds a Backend bound to one credential.
type BackendFactory interface {
	ForCredential(cred Credential) Backend
}

// CredentialSource supplies the API keys available to a crawl.
type CredentialSource interface {
	Credentials(ctx context.Context) ([]Credential, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists crawl run metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	CompleteRun(ctx context.Context, runID string, status RunStatus, uri string, errText string, counters RunCounters) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
