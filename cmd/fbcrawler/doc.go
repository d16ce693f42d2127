// Package main hosts the Facebook crawler service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts {"urls": [...], "batch_size": n} on POST / (profiles),
//     /v1/crawl/profiles and /v1/crawl/posts, and answers only after the crawl has finished and the
//     result file is stored.
//   - Batching: the URL list is split into ordered batches. Batch i starts on API key i mod n and
//     rotates through the remaining keys when an attempt fails. At most min(keys, batches) batches run
//     at once.
//   - Scraping: each attempt starts an Apify actor run, polls it to a terminal status and downloads the
//     run's default dataset. Items are put back into input order before they are merged.
//   - Persistence & fanout: the merged list is written as one JSON file to the bucket for its kind
//     (memory/local/GCS) under a year=/month=/day= path computed in Asia/Ho_Chi_Minh. Run records go to
//     Postgres when a DSN is set, and a completion message is published when a Pub/Sub topic is set.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus metrics are exported at /metrics; OpenTelemetry spans cover requests and crawls.
//
// Quick checklist:
//   - Configure env vars: FBCRAWLER_SERVER_PORT or PORT, FBCRAWLER_CREDENTIALS_SOURCE
//     (static/secretmanager/keyring), FBCRAWLER_CREDENTIALS_KEYS for static keys, storage
//     (FBCRAWLER_STORAGE_*), pubsub, and the database DSN when runs should outlive the process.
//   - Run locally: go run ./cmd/fbcrawler serve --config config.yaml (a .env file is loaded when present).
//   - Seed the OS keyring: go run ./cmd/fbcrawler keys store "key1,key2".
package main
