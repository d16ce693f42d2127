package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/fb-crawler/internal/config"
	"github.com/JakeFAU/fb-crawler/internal/crawler"
	"github.com/JakeFAU/fb-crawler/internal/id/uuid"
	"github.com/JakeFAU/fb-crawler/internal/metrics"
	"github.com/JakeFAU/fb-crawler/internal/service"
	"github.com/JakeFAU/fb-crawler/internal/telemetry"
)

// Crawler is the part of the service the HTTP layer needs.
type Crawler interface {
	Crawl(ctx context.Context, req service.Request) (service.Report, error)
	GetRun(ctx context.Context, id string) (crawler.Run, error)
	Kinds() []crawler.Kind
}

// Server wires HTTP handlers to the crawl service.
type Server struct {
	router  chi.Router
	crawler Crawler
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(c Crawler, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		crawler: c,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		if cfg.Server.RequestTimeout > 0 {
			r.Use(timeoutMiddleware(cfg.Server.RequestTimeout))
		}
		r.Post("/", s.crawlHandler(crawler.KindProfile))
		r.Route("/v1", func(r chi.Router) {
			r.Post("/crawl/profiles", s.crawlHandler(crawler.KindProfile))
			r.Post("/crawl/posts", s.crawlHandler(crawler.KindPost))
			r.Get("/runs/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	kinds := s.crawler.Kinds()
	if len(kinds) == 0 {
		s.writeError(w, http.StatusServiceUnavailable, "no crawl kinds configured")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "kinds": kinds})
}

type crawlResponse struct {
	Message       string `json:"message"`
	URI           string `json:"uri"`
	RunID         string `json:"run_id"`
	Items         int    `json:"items"`
	Batches       int    `json:"batches"`
	FailedBatches int    `json:"failed_batches"`
}

func (s *Server) crawlHandler(kind crawler.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		urls, batchSize, err := decodeCrawlRequest(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		report, err := s.crawler.Crawl(r.Context(), service.Request{Kind: kind, URLs: urls, BatchSize: batchSize})
		if err != nil {
			if errors.Is(err, crawler.ErrInvalidArgument) {
				s.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.writeError(w, http.StatusInternalServerError, "Error: "+err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, crawlResponse{
			Message:       "Finished. Upload JSON to: " + report.URI,
			URI:           report.URI,
			RunID:         report.RunID,
			Items:         report.Items,
			Batches:       report.Batches,
			FailedBatches: report.FailedBatches,
		})
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.crawler.GetRun(r.Context(), runID)
	if errors.Is(err, crawler.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// decodeCrawlRequest reads {"urls": [...], "batch_size": n}. batch_size may be
// omitted, a JSON integer, or a numeric string.
func decodeCrawlRequest(r *http.Request) ([]string, int, error) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, 0, errors.New("request body must be a JSON object")
	}
	rawURLs, ok := body["urls"]
	if !ok {
		return nil, 0, errors.New("Key 'urls' not in the request body")
	}
	// Pointers let a null element be told apart from an empty string.
	var elems []*string
	if err := json.Unmarshal(rawURLs, &elems); err != nil || elems == nil {
		return nil, 0, errors.New("'urls' must be a list of strings")
	}
	urls := make([]string, len(elems))
	for i, u := range elems {
		if u == nil {
			return nil, 0, errors.New("'urls' must be a list of strings")
		}
		urls[i] = *u
	}
	batchSize, err := parseBatchSize(body["batch_size"])
	if err != nil {
		return nil, 0, err
	}
	return urls, batchSize, nil
}

func parseBatchSize(raw json.RawMessage) (int, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, nil
	}
	var n int
	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		v, err := strconv.Atoi(strings.TrimSpace(quoted))
		if err != nil {
			return 0, errors.New("'batch_size' must be an integer")
		}
		n = v
	} else {
		// JSON numbers with no fractional part (2.0, 1e1) are integers.
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return 0, errors.New("'batch_size' must be an integer")
		}
		n = int(f)
	}
	if n <= 0 {
		return 0, errors.New("'batch_size' must be a positive integer")
	}
	return n, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = fmt.Fprint(w, `{"error":"internal server error"}`)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = fmt.Fprint(w, `{"error":"unauthorized"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
