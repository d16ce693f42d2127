// Package crawler holds the domain model of a Facebook crawl: targets, batches,
// the API key pool, item ordering, and the interfaces the worker, dispatcher,
// sink and service are built against.
package crawler
