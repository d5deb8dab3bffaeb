package httpclient

import (
	"fmt"
	"strings"
)

const maxErrorSnippet = 200

// UpstreamError is a non-2xx answer from a side service (verifier, log sink).
type UpstreamError struct {
	StatusCode int
	Body       []byte
	URL        string
}

func (e *UpstreamError) Error() string {
	snippet := strings.TrimSpace(string(e.Body))
	if snippet == "" {
		return fmt.Sprintf("upstream error: status %d from %s", e.StatusCode, e.URL)
	}
	if len(snippet) > maxErrorSnippet {
		snippet = snippet[:maxErrorSnippet] + "..."
	}
	return fmt.Sprintf("upstream error: status %d from %s: %s", e.StatusCode, e.URL, snippet)
}
