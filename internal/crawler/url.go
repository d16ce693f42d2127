package crawler

import (
	"net/url"
	"strings"
)

// NormalizeURL reduces a URL to a comparison key so a backend echo of a target
// still matches when it differs only cosmetically.
// It lowercases the scheme and host, drops "www." and default ports, folds the
// mobile and web Facebook hosts together, removes fragments and trailing
// slashes, and sorts query parameters.
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(trimmed), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	// Fold hosts only after the default port is gone.
	switch u.Host {
	case "m.facebook.com", "web.facebook.com", "mbasic.facebook.com":
		u.Host = "facebook.com"
	}

	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String()
}
