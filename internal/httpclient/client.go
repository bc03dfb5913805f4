package httpclient

import (
	"net/http"
	"time"
)

// DefaultUserAgent identifies vigil's outbound requests. Sites that block
// anonymous clients usually accept a named monitoring agent.
const DefaultUserAgent = "Mozilla/5.0 (compatible; Vigil/1.0; website-monitor)"

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}
