package reliability

import (
	"time"
)

// ClaimOutcome classifies a successfully claimed delivery lock.
type ClaimOutcome string

const (
	// OutcomeFresh marks a message never attempted before.
	OutcomeFresh ClaimOutcome = "FRESH"
	// OutcomeRetry marks a message with at least one prior attempt and
	// budget remaining.
	OutcomeRetry ClaimOutcome = "RETRY"
	// OutcomeStale marks a message whose retry budget is exhausted, by
	// time or by attempts.
	OutcomeStale ClaimOutcome = "STALE"
)

// Staleness reasons reported alongside OutcomeStale.
const (
	StaleReasonExpired     = "maximum time to send the message has been reached"
	StaleReasonMaxAttempts = "maximum number of attempts to send the message has been reached"
)

// LockState is the reliability-relevant projection of a delivery lock.
type LockState struct {
	StaledAt        time.Time
	SendAttempts    int
	SendAttemptsMax int
}

// Classify decides the outcome of a claimed lock. Staleness by wall clock
// is checked before staleness by attempt count; a lock that is neither
// stale nor fresh is a retry.
func Classify(l LockState, now time.Time) (ClaimOutcome, string) {
	switch {
	case l.StaledAt.Before(now):
		return OutcomeStale, StaleReasonExpired
	case l.SendAttempts >= l.SendAttemptsMax:
		return OutcomeStale, StaleReasonMaxAttempts
	case l.SendAttempts > 0:
		return OutcomeRetry, ""
	default:
		return OutcomeFresh, ""
	}
}
