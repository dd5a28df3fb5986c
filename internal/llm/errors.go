package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind categorizes a gateway failure for the orchestration layer.
type Kind string

const (
	// KindUnavailable indicates the remote service is unreachable, timed
	// out, or failed server-side. The orchestrator degrades to a scripted
	// fallback rather than surfacing a hard error.
	KindUnavailable Kind = "unavailable"

	// KindRateLimited indicates the provider rejected the request for
	// quota reasons (HTTP 429).
	KindRateLimited Kind = "rate_limited"

	// KindAuth indicates an authentication or authorization failure.
	KindAuth Kind = "auth"

	// KindInvalid indicates the request itself was malformed.
	KindInvalid Kind = "invalid_request"

	// KindUnknown indicates an unclassified failure.
	KindUnknown Kind = "unknown"
)

// GatewayError is the uniform error produced by every gateway
// implementation. Vendor status codes and SDK error types never escape the
// llm package.
type GatewayError struct {
	Kind     Kind
	Provider string
	Model    string
	Cause    error
}

func (e *GatewayError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Kind)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// NewGatewayError classifies cause and wraps it with provider context.
func NewGatewayError(provider, model string, cause error) *GatewayError {
	return &GatewayError{
		Kind:     Classify(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// IsUnavailable reports whether err represents a transient outage of the
// remote service: timeouts, connection failures, server errors, and rate
// limiting all qualify. These trigger the scripted fallback path.
func IsUnavailable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind == KindUnavailable || ge.Kind == KindRateLimited
	}
	k := Classify(err)
	return k == KindUnavailable || k == KindRateLimited
}

// Classify inspects an error and returns its Kind. Classification is
// message-based because the SDKs do not expose a stable error taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindUnavailable
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "overloaded"):
		return KindUnavailable
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return KindAuth
	case strings.Contains(msg, "invalid_request"),
		strings.Contains(msg, "400"):
		return KindInvalid
	}
	return KindUnknown
}
