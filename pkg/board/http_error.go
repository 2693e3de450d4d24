package board

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shpitdev/character-image-enricher/pkg/pipeline/redact"
)

// errorEnvelope is the error body shape returned by the board API on most failures.
type errorEnvelope struct {
	Success *bool  `json:"success"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// HTTPError is a sanitized summary of a non-200 board API response.
//
// Important: do not include raw response bodies here (can leak credentials).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Reason     string

	// Snippet is a redacted, truncated hint for responses without an error envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "board http error"
	}
	parts := []string{
		fmt.Sprintf("board api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Reason) != "" {
		parts = append(parts, "reason="+strings.TrimSpace(e.Reason))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		reason := strings.TrimSpace(env.Reason)
		if reason == "" {
			reason = strings.TrimSpace(env.Message)
		}
		if reason != "" {
			h.Reason = redact.Secrets(reason)
			return h
		}
	}

	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
