// Package sink serializes crawl results and writes them to blob storage under a
// date-partitioned path.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

// DefaultTimezone is the zone the date partitions are computed in.
const DefaultTimezone = "Asia/Ho_Chi_Minh"

// DefaultPrefix is the top-level folder and file name prefix.
const DefaultPrefix = "facebook"

// Destination is where results of one crawl kind are written.
type Destination struct {
	Store  crawler.BlobStore
	Prefix string
}

// Config wires destinations per kind.
type Config struct {
	Timezone     string
	Destinations map[crawler.Kind]Destination
}

// Sink writes result sets.
type Sink struct {
	loc          *time.Location
	destinations map[crawler.Kind]Destination
	clock        crawler.Clock
	logger       *zap.Logger
}

// New validates cfg and returns a Sink.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) (*Sink, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: load timezone %q: %w", crawler.ErrConfiguration, tz, err)
	}
	if len(cfg.Destinations) == 0 {
		return nil, fmt.Errorf("%w: no sink destinations configured", crawler.ErrConfiguration)
	}
	dests := make(map[crawler.Kind]Destination, len(cfg.Destinations))
	for kind, dest := range cfg.Destinations {
		if dest.Store == nil {
			return nil, fmt.Errorf("%w: sink destination for %s has no store", crawler.ErrConfiguration, kind)
		}
		if strings.TrimSpace(dest.Prefix) == "" {
			dest.Prefix = DefaultPrefix
		}
		dest.Prefix = strings.Trim(dest.Prefix, "/")
		dests[kind] = dest
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: sink clock is required", crawler.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{loc: loc, destinations: dests, clock: clock, logger: logger}, nil
}

// Write encodes items and uploads them, returning the object URI.
func (s *Sink) Write(ctx context.Context, kind crawler.Kind, items []crawler.Item) (string, error) {
	dest, ok := s.destinations[kind]
	if !ok {
		return "", fmt.Errorf("%w: no destination for kind %q", crawler.ErrSink, kind)
	}
	payload, err := Encode(items)
	if err != nil {
		return "", fmt.Errorf("%w: %w", crawler.ErrSink, err)
	}
	path := ObjectPath(dest.Prefix, kind, s.clock.Now().In(s.loc))
	uri, err := dest.Store.PutObject(ctx, path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %w", crawler.ErrSink, err)
	}
	s.logger.Info("uploaded crawl results",
		zap.String("kind", string(kind)),
		zap.String("uri", uri),
		zap.Int("items", len(items)),
		zap.Int("bytes", len(payload)),
	)
	return uri, nil
}

// ObjectPath builds prefix/year=YYYY/month=MM/day=DD/prefix_kind_unix.json.
func ObjectPath(prefix string, kind crawler.Kind, at time.Time) string {
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%s_%s_%d.json",
		prefix, at.Year(), int(at.Month()), at.Day(), prefix, kind, at.Unix())
}

// Encode renders items as an indented JSON array without escaping HTML or
// non-ASCII characters. A nil slice encodes as [].
func Encode(items []crawler.Item) ([]byte, error) {
	if items == nil {
		items = []crawler.Item{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(items); err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
