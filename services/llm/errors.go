package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrEmbeddingUnsupported is returned by backends that cannot compute
// embeddings.
var ErrEmbeddingUnsupported = errors.New("backend does not support embeddings")

// ProviderError wraps a failure from an LLM provider with a retry
// classification. The pipeline never sees a raw provider error: every
// backend reduces its failures to one of these before returning.
type ProviderError struct {
	// Op names the failing operation, e.g. "openai.chat" or "ollama.generate".
	Op string

	// Transient marks rate limits, timeouts and transient network faults.
	// Permanent failures (auth, malformed request, content policy) are
	// not retried.
	Transient bool

	Err error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s provider error: %v", e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable provider error.
func NewTransient(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Transient: true, Err: err}
}

// NewPermanent wraps err as a non-retryable provider error.
func NewPermanent(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err should be retried with backoff.
//
// Context cancellation is never transient: a cancelled run must stop, not
// retry. Deadline expiry on the call itself counts as a timeout and is
// retryable, matching how the providers' own SDKs surface timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// classifyHTTPStatus maps an HTTP status from a provider to a retry class.
// 429 and 5xx are transient; everything else 4xx is permanent.
func classifyHTTPStatus(status int) bool {
	if status == 429 {
		return true
	}
	return status >= 500
}
