// Package apify implements crawler.Backend on top of the Apify REST API v2.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

// DefaultBaseURL is the public Apify API endpoint.
const DefaultBaseURL = "https://api.apify.com"

// Run statuses reported by the actor-runs endpoint.
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusTimingOut = "TIMING-OUT"
	StatusTimedOut  = "TIMED-OUT"
	StatusAborting  = "ABORTING"
	StatusAborted   = "ABORTED"
)

// Config describes which actor to run and how to talk to the API.
type Config struct {
	BaseURL string
	// ActorID is an actor ID or "username/actor-name".
	ActorID string
	// WaitForFinish is the long-poll window per status request.
	WaitForFinish time.Duration
	// PollInterval is the minimum spacing between status requests.
	PollInterval time.Duration
	// Input is merged into every run input next to startUrls.
	Input      map[string]any
	HTTPClient *http.Client
	// Submits paces run starts per API key. Nil means no pacing.
	Submits Pacer
}

// Pacer blocks until key may start another run.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Factory builds one Client per credential.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// NewFactory validates cfg and returns a Factory.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if strings.TrimSpace(cfg.ActorID) == "" {
		return nil, fmt.Errorf("%w: apify actor id is required", crawler.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.WaitForFinish <= 0 {
		cfg.WaitForFinish = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.WaitForFinish + 30*time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}, nil
}

// ForCredential implements crawler.BackendFactory.
func (f *Factory) ForCredential(cred crawler.Credential) crawler.Backend {
	return &Client{
		cfg:     f.cfg,
		token:   string(cred),
		limiter: rate.NewLimiter(rate.Every(f.cfg.PollInterval), 1),
		logger:  f.logger.With(zap.String("api_key", cred.Mask())),
	}
}

// Client runs actor jobs with a single API token.
type Client struct {
	cfg     Config
	token   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

type runEnvelope struct {
	Data runInfo `json:"data"`
}

type runInfo struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type startURL struct {
	URL string `json:"url"`
}

// Submit starts an actor run with the batch as startUrls.
func (c *Client) Submit(ctx context.Context, batch crawler.Batch) (crawler.JobHandle, error) {
	if c.cfg.Submits != nil {
		if err := c.cfg.Submits.Wait(ctx, c.token); err != nil {
			return crawler.JobHandle{}, fmt.Errorf("pace submit: %w", err)
		}
	}
	input := make(map[string]any, len(c.cfg.Input)+1)
	for k, v := range c.cfg.Input {
		input[k] = v
	}
	urls := make([]startURL, len(batch))
	for i, t := range batch {
		urls[i] = startURL{URL: string(t)}
	}
	input["startUrls"] = urls

	body, err := json.Marshal(input)
	if err != nil {
		return crawler.JobHandle{}, fmt.Errorf("marshal run input: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v2/acts/%s/runs", c.cfg.BaseURL, url.PathEscape(actorPath(c.cfg.ActorID)))
	var env runEnvelope
	if err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), &env); err != nil {
		return crawler.JobHandle{}, err
	}
	if env.Data.ID == "" {
		return crawler.JobHandle{}, fmt.Errorf("%w: run id missing from response", crawler.ErrBackendFailure)
	}
	c.logger.Debug("actor run started", zap.String("run_id", env.Data.ID), zap.String("status", env.Data.Status))
	return crawler.JobHandle{ID: env.Data.ID}, nil
}

// Await polls the run until it reaches a terminal status and returns its default dataset ID.
func (c *Client) Await(ctx context.Context, job crawler.JobHandle) (string, error) {
	wait := int(c.cfg.WaitForFinish / time.Second)
	endpoint := fmt.Sprintf("%s/v2/actor-runs/%s?waitForFinish=%d", c.cfg.BaseURL, url.PathEscape(job.ID), wait)
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("poll wait: %w", err)
		}
		var env runEnvelope
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &env); err != nil {
			return "", err
		}
		switch env.Data.Status {
		case StatusSucceeded:
			if env.Data.DefaultDatasetID == "" {
				return "", crawler.ErrNoDataset
			}
			return env.Data.DefaultDatasetID, nil
		case StatusFailed, StatusTimedOut, StatusAborted:
			return "", fmt.Errorf("%w: run %s finished with status %s", crawler.ErrBackendFailure, job.ID, env.Data.Status)
		default:
			c.logger.Debug("actor run pending", zap.String("run_id", job.ID), zap.String("status", env.Data.Status))
		}
	}
}

// FetchItems downloads every item of a dataset.
func (c *Client) FetchItems(ctx context.Context, datasetID string) ([]crawler.Item, error) {
	endpoint := fmt.Sprintf("%s/v2/datasets/%s/items?format=json&clean=true", c.cfg.BaseURL, url.PathEscape(datasetID))
	var items []crawler.Item
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []crawler.Item{}
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", crawler.ErrBackendFailure, method, redact(endpoint), err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", crawler.ErrBackendFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", crawler.ErrBackendFailure, err)
	}
	return nil
}

func statusError(code int, payload []byte) error {
	msg := strings.TrimSpace(string(payload))
	var env errorEnvelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Error.Message != "" {
		msg = env.Error.Type + ": " + env.Error.Message
	}
	kind := crawler.ErrBackendFailure
	switch code {
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
		kind = crawler.ErrCredentialFailure
	}
	return &StatusError{Code: code, Message: msg, kind: kind}
}

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	Code    int
	Message string
	kind    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apify status %d: %s", e.Code, e.Message)
}

// Unwrap exposes the crawler error class for errors.Is.
func (e *StatusError) Unwrap() error {
	return e.kind
}

func actorPath(actorID string) string {
	return strings.ReplaceAll(strings.TrimSpace(actorID), "/", "~")
}

func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
