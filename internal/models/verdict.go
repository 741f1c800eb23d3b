package models

import "time"

// FailureKind classifies an upstream failure into the action the routing
// layer takes next.
type FailureKind int

const (
	// FailureTransient covers 408/5xx and network errors: skip to the next
	// candidate without a cooldown write.
	FailureTransient FailureKind = iota
	// FailureRateLimit covers 429: cool the candidate down and move on.
	FailureRateLimit
	// FailureFreeze covers quota-window exhaustion and 402/403: persist
	// freeze fields on the account row and move on.
	FailureFreeze
	// FailureUnauthorized covers 401: refresh once and retry the same
	// candidate; a second 401 becomes a freeze.
	FailureUnauthorized
	// FailureFatal covers request errors the caller must fix (4xx other
	// than the above). No retry, no cooldown.
	FailureFatal
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureRateLimit:
		return "rate_limit"
	case FailureFreeze:
		return "freeze"
	case FailureUnauthorized:
		return "unauthorized"
	case FailureFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Quota window tags used in freeze verdicts.
const (
	Window5h   = "5h"
	WindowWeek = "week"
)

// FailureVerdict is the classified outcome of one upstream failure.
type FailureVerdict struct {
	Kind FailureKind

	// RetryAfter is the provider-disclosed relative delay (Retry-After
	// header), zero when absent.
	RetryAfter time.Duration

	// ResetAt is the provider-disclosed absolute recovery time, zero when
	// absent. For freezes this is the quota window reset.
	ResetAt time.Time

	// FreezeReason and Window qualify FailureFreeze verdicts.
	FreezeReason string
	Window       string
}
