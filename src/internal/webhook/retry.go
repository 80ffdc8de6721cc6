package webhook

import (
	"math"
	"strings"
)

// RetryPolicy is a pure, deterministic function object: no I/O, no
// clock reads beyond what the caller passes in, so it can be unit
// tested without ever making a request.
type RetryPolicy struct {
	InitialDelayMs    int64
	BackoffMultiplier float64
}

// DefaultRetryPolicy mirrors the package-level defaults used when a
// dispatch doesn't override them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelayMs:    DefaultInitialDelayMs,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// CalculateDelay returns initialDelayMs × backoffMultiplier^(attempt-1)
// for attempt >= 1. It is intentionally uncapped; callers that need a
// safety ceiling apply it themselves (see queue.go).
func (p RetryPolicy) CalculateDelay(attempt int) int64 {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.InitialDelayMs
	if initial <= 0 {
		initial = DefaultInitialDelayMs
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = DefaultBackoffMultiplier
	}
	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	return int64(delay)
}

// isRetryableStatus reports whether an HTTP status is worth retrying:
// 5xx, request timeout, and too-many-requests.
func isRetryableStatus(statusCode int) bool {
	if statusCode >= 500 {
		return true
	}
	return statusCode == 408 || statusCode == 429
}

// transientErrorSubstrings and permanentErrorSubstrings classify
// transport failures by message content, matching how the existing
// subscriber-facing clients report these errors.
var transientErrorSubstrings = []string{"ETIMEDOUT", "socket hang up"}
var permanentErrorSubstrings = []string{"ENOTFOUND", "ECONNREFUSED", "CERT_"}

// ShouldRetry decides whether a failed attempt is worth retrying.
// statusCode is 0 when the request never produced a response (a
// transport-level failure, described by errMessage instead).
func ShouldRetry(statusCode int, errMessage string) bool {
	if statusCode > 0 {
		return isRetryableStatus(statusCode)
	}
	for _, s := range permanentErrorSubstrings {
		if strings.Contains(errMessage, s) {
			return false
		}
	}
	for _, s := range transientErrorSubstrings {
		if strings.Contains(errMessage, s) {
			return true
		}
	}
	return false
}

// IsFinalFailure reports whether attempt has exhausted the job's
// retry budget.
func IsFinalFailure(attempt, maxAttempts int) bool {
	return attempt >= maxAttempts
}

// ClassifyTransportError builds the typed §7 error for a failed
// delivery attempt, so the deliverer reports exactly the taxonomy the
// dispatcher and audit log are specified to see. It does not affect
// ShouldRetry — the retry decision and the error kind are derived from
// the same inputs but are two separate questions.
func ClassifyTransportError(statusCode int, errMessage string) *Error {
	if ShouldRetry(statusCode, errMessage) {
		return TransientTransportError(errMessage, nil)
	}
	return PermanentTransportError(errMessage, nil)
}
