// Package apierror defines the error taxonomy exposed by the HTTP surface.
//
// Every handler-facing error is one of the kinds below; the server package
// renders them as {error, message, details?, suggestions?} and maps them to
// an HTTP status code. Internal packages return plain Go errors (wrapped
// with fmt.Errorf or a sentinel from their own package) and the server
// layer classifies unrecognized errors as Internal.
package apierror

import "fmt"

// Kind enumerates the taxonomy of spec.md §7.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindNotFound          Kind = "NotFound"
	KindAuthRequired      Kind = "AuthRequired"
	KindQuorumUnmet       Kind = "QuorumUnmet"
	KindRateLimited       Kind = "RateLimited"
	KindPasskeyMismatch   Kind = "PasskeyMismatch"
	KindPaymentRejected   Kind = "PaymentRejected"
	KindExecutionFailed   Kind = "ExecutionFailed"
	KindPendingConfirm    Kind = "PendingConfirmation"
	KindChainError        Kind = "ChainError"
	KindInternal          Kind = "Internal"
)

// Error is the typed error carried through the pipeline up to the HTTP layer.
type Error struct {
	Kind        Kind
	Message     string
	Details     map[string]interface{}
	Suggestions []string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details and returns the same Error for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithSuggestions attaches candidate-cause suggestions.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = suggestions
	return e
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func AuthRequired(message string) *Error {
	return New(KindAuthRequired, message)
}

// QuorumUnmet builds the QuorumUnmet error with its required detail fields
// (spec.md §7).
func QuorumUnmet(walletsInRange, walletsOutOfRange []string, minimumRequired int) *Error {
	return New(KindQuorumUnmet, "quorum not met for rule").WithDetails(map[string]interface{}{
		"walletsInRange":    walletsInRange,
		"walletsOutOfRange": walletsOutOfRange,
		"minimumRequired":   minimumRequired,
	})
}

// RateLimited builds the RateLimited error with window/count detail.
func RateLimited(windowSeconds, currentCount, max int) *Error {
	return New(KindRateLimited, "execution rate limit reached").WithDetails(map[string]interface{}{
		"windowSeconds": windowSeconds,
		"currentCount":  currentCount,
		"max":           max,
	})
}

// PasskeyMismatch builds the PasskeyMismatch error, truncating the hex
// digests in details per spec.md §7.
func PasskeyMismatch(registeredHex, extractedHex string) *Error {
	return New(KindPasskeyMismatch, "registered passkey does not match extracted key").
		WithDetails(map[string]interface{}{
			"registered":      truncateHex(registeredHex),
			"extracted":       truncateHex(extractedHex),
			"canAutoRegister": true,
		})
}

func truncateHex(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:8] + "…" + h[len(h)-8:]
}

// PaymentRejected builds the PaymentRejected error with candidate causes.
func PaymentRejected(candidateCauses ...string) *Error {
	return New(KindPaymentRejected, "smart wallet rejected payment").WithDetails(map[string]interface{}{
		"candidateCauses": candidateCauses,
	})
}

// ExecutionFailed builds the ExecutionFailed error.
func ExecutionFailed(reason string) *Error {
	return New(KindExecutionFailed, reason)
}

// PendingConfirmation builds the PendingConfirmation error, the hash is
// surfaced in details (spec.md §7).
func PendingConfirmation(transactionHash string) *Error {
	return New(KindPendingConfirm, "submitted but confirmation poll exhausted").WithDetails(map[string]interface{}{
		"transactionHash": transactionHash,
	})
}

// ChainError wraps an RPC/network failure below the contract layer.
func ChainError(message string, cause error) *Error {
	return Wrap(KindChainError, message, cause)
}

// Internal wraps an unclassified failure.
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}
