package redact

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings. Query strings
	// embedded in *url.Error messages ("...&api_key=abc&...") match here too.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|e621[_-]?api[_-]?key)\b\s*[:=]\s*[^\s"'&]+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}

// Query returns a copy of v with the api_key value masked, for debug output.
func Query(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		if strings.EqualFold(k, "api_key") {
			out[k] = []string{"<redacted>"}
			continue
		}
		out[k] = append([]string(nil), vals...)
	}
	return out
}
