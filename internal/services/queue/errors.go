package queue

import (
	"errors"
	"strings"

	"github.com/ternarybob/vigil/internal/interfaces"
)

// User-visible failure phrases. Queue rows carry these verbatim; raw error
// text never reaches the dashboard.
const (
	msgNoConnection = "Unable to connect to the website. Please check the URL and try again."
	msgDNSFailure   = "Domain could not be found."
	msgSSLIssue     = "SSL certificate issue detected."
	msgForbidden    = "Access denied by the website."
	msgPageMissing  = "Page not found."
	msgServerError  = "Server error. The website may be experiencing issues."
	msgRateLimited  = "Too many requests. Please try again later."
	msgWebsiteGone  = "Website no longer exists."
	msgNotEnabled   = "This check type is not enabled for the website."
	msgGeneric      = "The check could not be completed due to an unexpected error."
)

// TranslateError maps a raw check error onto a curated user-visible phrase.
// Matching is by keyword; order matters because DNS and TLS failures embed
// dial/connection wording.
func TranslateError(err error) string {
	if err == nil {
		return ""
	}

	// The baseline precondition message is already user-visible.
	if errors.Is(err, interfaces.ErrNoBaselines) {
		return interfaces.ErrNoBaselines.Error()
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "no such host", "dns", "name resolution", "server misbehaving"):
		return msgDNSFailure
	case containsAny(msg, "certificate", "x509", "tls", "ssl"):
		return msgSSLIssue
	case containsAny(msg, "429", "too many requests", "rate limit"):
		return msgRateLimited
	case containsAny(msg, "403", "forbidden", "access denied"):
		return msgForbidden
	case containsAny(msg, "404", "not found"):
		return msgPageMissing
	case containsAny(msg, "500", "502", "503", "504", "server error", "bad gateway", "service unavailable"):
		return msgServerError
	case containsAny(msg, "connection refused", "connection reset", "timeout", "deadline exceeded", "no route to host", "network is unreachable", "unable to connect", "eof"):
		return msgNoConnection
	default:
		return msgGeneric
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
