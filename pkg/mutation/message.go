package mutation

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"ledger-sync/pkg/remote"
)

// User-facing fallbacks.
const (
	GenericMessage     = "Something went wrong. Please try again."
	UnavailableMessage = "The service is temporarily unavailable. Please try again shortly."
	TimeoutMessage     = "The request timed out. Please try again."
)

var (
	urlPattern      = regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.-]*://[^\s"'<>]*`)
	ipPattern       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d{1,5})?\b`)
	localhostPat    = regexp.MustCompile(`(?i)\blocalhost(?::\d{1,5})?\b`)
	hostPortPattern = regexp.MustCompile(`(?i)\b[a-z0-9-]+(?:\.[a-z0-9-]+)+:\d{1,5}\b`)
	// dotted names ending in an alphabetic label; amounts like 250.00 never match
	hostnamePattern = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,63}\b`)
	spaces          = regexp.MustCompile(`\s{2,}`)
)

// Message returns the user-facing text for err: the structured message the
// service sent, else its first field message, else a generic fallback.
// Transport failures always get a generic message. Hosts, ports and URLs are
// stripped from everything returned.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var local *LocalValidationError
	var partial *PartialBatchError
	var apiErr *remote.APIError
	var transport *remote.TransportError

	switch {
	case errors.As(err, &local):
		return sanitize(local.Message)
	case errors.As(err, &partial):
		return sanitize(partial.Error())
	case errors.Is(err, remote.ErrCircuitOpen):
		return UnavailableMessage
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutMessage
	case errors.As(err, &apiErr):
		if msg := sanitize(apiErr.Message); msg != "" {
			return msg
		}
		for _, f := range apiErr.Fields {
			if msg := sanitize(f.Message); msg != "" {
				return msg
			}
		}
		return GenericMessage
	case errors.As(err, &transport):
		return GenericMessage
	}
	return GenericMessage
}

// FieldMessages returns the per-field validation messages carried by err,
// or nil when it has none.
func FieldMessages(err error) map[string]string {
	var apiErr *remote.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsValidation() {
		return nil
	}
	out := make(map[string]string, len(apiErr.Fields))
	for _, f := range apiErr.Fields {
		if _, seen := out[f.Field]; seen {
			continue
		}
		if msg := sanitize(f.Message); msg != "" {
			out[f.Field] = msg
		}
	}
	return out
}

// sanitize removes URLs, IP addresses, hostnames and host:port fragments.
func sanitize(s string) string {
	s = urlPattern.ReplaceAllString(s, "")
	s = ipPattern.ReplaceAllString(s, "")
	s = localhostPat.ReplaceAllString(s, "")
	s = hostPortPattern.ReplaceAllString(s, "")
	s = hostnamePattern.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, " :,-")
	return strings.TrimSpace(s)
}
