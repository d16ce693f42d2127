package crawler

import "errors"

// Error taxonomy for a crawl. Only configuration and sink errors reach callers;
// the rest are absorbed by key rotation or the dispatcher.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCredentialFailure = errors.New("credential rejected")
	ErrBackendFailure    = errors.New("backend failure")
	ErrNoDataset         = errors.New("dataset id not found")
	ErrSink              = errors.New("sink write failed")
	ErrRunNotFound       = errors.New("run not found")
)
