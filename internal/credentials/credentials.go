// Package credentials loads the scraping backend API keys.
//
// Keys are stored the way the Cloud Run service has always kept them: a JSON
// array of strings. Plain comma or newline separated lists are accepted too,
// which is what environment variables and keyring entries usually hold.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

// Static serves a fixed key list.
type Static struct {
	keys []crawler.Credential
}

// NewStatic returns a Source over keys.
func NewStatic(keys []string) *Static {
	return &Static{keys: normalize(keys)}
}

// Credentials implements crawler.CredentialSource.
func (s *Static) Credentials(_ context.Context) ([]crawler.Credential, error) {
	if len(s.keys) == 0 {
		return nil, fmt.Errorf("%w: no API keys configured", crawler.ErrConfiguration)
	}
	out := make([]crawler.Credential, len(s.keys))
	copy(out, s.keys)
	return out, nil
}

// Parse decodes a secret payload into credentials.
func Parse(payload string) ([]crawler.Credential, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty key payload", crawler.ErrConfiguration)
	}
	var raw []string
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("%w: decode key list: %w", crawler.ErrConfiguration, err)
		}
	} else {
		raw = strings.FieldsFunc(trimmed, func(r rune) bool {
			return r == ',' || r == '\n' || r == '\r'
		})
	}
	keys := normalize(raw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: key payload holds no keys", crawler.ErrConfiguration)
	}
	return keys, nil
}

// normalize trims keys, drops blanks and removes duplicates keeping first occurrence.
func normalize(raw []string) []crawler.Credential {
	seen := make(map[string]struct{}, len(raw))
	out := make([]crawler.Credential, 0, len(raw))
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, crawler.Credential(k))
	}
	return out
}

func encode(keys []string) (string, error) {
	creds := normalize(keys)
	if len(creds) == 0 {
		return "", fmt.Errorf("%w: no keys to store", crawler.ErrConfiguration)
	}
	raw := make([]string, len(creds))
	for i, c := range creds {
		raw[i] = string(c)
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encode key list: %w", err)
	}
	return string(payload), nil
}
