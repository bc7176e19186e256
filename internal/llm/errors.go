// internal/llm/errors.go
package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is the closed classification of external-call failures consumed by
// the engine. The engine never inspects error text itself; all string
// heuristics live in this package, at the provider boundary.
type Kind int

const (
	// KindRateLimited covers HTTP 429 and provider throttling messages.
	// Feeds the concurrency controller.
	KindRateLimited Kind = iota
	// KindTimeout covers call deadlines and timed-out transport errors.
	// Feeds the concurrency controller.
	KindTimeout
	// KindTransient covers other recoverable transport hiccups. Retried a
	// bounded number of times without touching the controller.
	KindTransient
	// KindPermanent covers everything else: malformed input, policy
	// rejections, authentication failures. Never retried.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// CallError attaches a Kind to a provider failure.
type CallError struct {
	Kind Kind
	Err  error
}

func (e *CallError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from an error, defaulting to
// permanent for anything unwrapped and unknown.
func KindOf(err error) Kind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindPermanent
}

// substrings that providers use to describe throttling. Matching message
// text is a documented heuristic: many OpenAI-compatible gateways return
// generic 4xx/5xx codes with the real cause only in the body.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota exceeded",
	"429",
}

var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad gateway",
	"service unavailable",
	"502",
	"503",
	"eof",
}

// Classify maps a raw client/transport error to a CallError with a closed
// Kind. statusCode is 0 when no HTTP response was received.
func Classify(statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if ce := (*CallError)(nil); errors.As(err, &ce) {
		return err
	}

	kind := KindPermanent
	msg := strings.ToLower(err.Error())

	switch {
	case statusCode == 429:
		kind = KindRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case isTimeoutNetErr(err):
		kind = KindTimeout
	case statusCode >= 500 && statusCode < 600:
		kind = KindTransient
	case containsAny(msg, rateLimitMarkers):
		kind = KindRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		kind = KindTimeout
	case containsAny(msg, transientMarkers):
		kind = KindTransient
	}

	return &CallError{Kind: kind, Err: err}
}

func isTimeoutNetErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
