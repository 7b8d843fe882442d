package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies failures of the pipeline.
type Kind string

const (
	KindScanWarning      Kind = "scan_warning"
	KindChunkConfig      Kind = "chunk_config"
	KindEmbedding        Kind = "embedding"
	KindStoreUnavailable Kind = "store_unavailable"
	KindStoreRejected    Kind = "store_rejected"
	KindGeneration       Kind = "generation"
	KindCancelled        Kind = "cancelled"
	KindInvalidInput     Kind = "invalid_input"
	KindConfig           Kind = "config"
)

// Reason refines a Kind.
type Reason string

const (
	ReasonTransient      Reason = "transient"
	ReasonPermanent      Reason = "permanent"
	ReasonRateLimited    Reason = "rate_limited"
	ReasonRemoteRejected Reason = "remote_rejected"
	ReasonUnreachable    Reason = "unreachable"
	ReasonTimeout        Reason = "timeout"
)

// Error is the structured error type shared by all pipeline stages.
type Error struct {
	Kind    Kind
	Reason  Reason
	Op      string
	Message string
	// Ref names the offending items, e.g. chunk IDs of a failed batch.
	Ref []string
	// RetryAfter is the server-provided wait hint for rate-limited calls.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString("(" + string(e.Reason) + ")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Ref) > 0 {
		fmt.Fprintf(&b, " [items: %s]", strings.Join(e.Ref, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error { return e.Err }

// Is matches by kind, and by reason when the target names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrScanWarning      = &Error{Kind: KindScanWarning}
	ErrChunkConfig      = &Error{Kind: KindChunkConfig}
	ErrEmbedding        = &Error{Kind: KindEmbedding}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrStoreRejected    = &Error{Kind: KindStoreRejected}
	ErrGeneration       = &Error{Kind: KindGeneration}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrConfig           = &Error{Kind: KindConfig}
)

// NewError creates an Error of the given kind.
func NewError(kind Kind, reason Reason, op, message string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Op: op, Message: message, Err: cause}
}

// InvalidInput creates a validation error.
func InvalidInput(op, message string) *Error {
	return NewError(KindInvalidInput, "", op, message, nil)
}

// ChunkConfigError reports unusable chunker parameters.
func ChunkConfigError(message string) *Error {
	return NewError(KindChunkConfig, "", "chunker.New", message, nil)
}

// Cancelled wraps a context error as a cancellation.
func Cancelled(op string, cause error) *Error {
	return NewError(KindCancelled, "", op, "cancellation requested", cause)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether another attempt may succeed.
// Only transient network-level failures qualify.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindStoreUnavailable:
		return true
	case KindEmbedding, KindGeneration:
		switch e.Reason {
		case ReasonTransient, ReasonRateLimited, ReasonUnreachable, ReasonTimeout:
			return true
		}
	}
	return false
}

// RetryAfterOf returns the server wait hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
