package reliability

import (
	"time"
)

// DefaultExtraGraceAttempts is the grace multiplier added to the staleness
// horizon so a lock is declared stale only after the retry budget is
// conclusively exhausted, not merely after the nominal timeout.
const DefaultExtraGraceAttempts = 2

// RetryPolicy is the reliability envelope of one leg.
type RetryPolicy struct {
	// RetryCount is the number of retries after the original attempt.
	RetryCount int
	// RetryTimeout bounds the wall-clock window of the whole retry budget.
	RetryTimeout time.Duration
	// ExtraGraceAttempts widens the staleness horizon; zero means
	// DefaultExtraGraceAttempts.
	ExtraGraceAttempts int
}

// MaxSendAttempts is the total attempt budget: the original attempt plus
// the configured retries.
func (p RetryPolicy) MaxSendAttempts() int {
	return p.RetryCount + 1
}

func (p RetryPolicy) graceAttempts() int {
	if p.ExtraGraceAttempts > 0 {
		return p.ExtraGraceAttempts
	}
	return DefaultExtraGraceAttempts
}

// StaleTime computes the instant after which a delivery lock released at
// start is considered stale:
//
//	start + retryTimeout + extraAttempts * (retryTimeout / retryCount)
//
// A retry count of zero contributes no grace: the horizon is then exactly
// start + retryTimeout.
func (p RetryPolicy) StaleTime(start time.Time) time.Time {
	stale := start.Add(p.RetryTimeout)
	if p.RetryCount > 0 {
		grace := time.Duration(p.graceAttempts()) * (p.RetryTimeout / time.Duration(p.RetryCount))
		stale = stale.Add(grace)
	}
	return stale
}

// NextAttempt computes the scheduled time of the given attempt number
// (1-based, attempt 1 being the first retry), spreading the retries evenly
// over the retry timeout window.
func (p RetryPolicy) NextAttempt(start time.Time, attempt int) time.Time {
	if p.RetryCount <= 0 || attempt <= 0 {
		return start
	}
	return start.Add(time.Duration(attempt) * (p.RetryTimeout / time.Duration(p.RetryCount)))
}

// HasAttemptsLeft reports whether another send attempt may be made. A
// message exhausts its retries either by attempt count or by wall clock:
// once at least one attempt was made, the retry window closes at
// scheduledStart + retryTimeout.
func HasAttemptsLeft(sendAttempts, sendAttemptsMax int, scheduledStart time.Time, retryTimeout time.Duration, now time.Time) bool {
	if sendAttempts >= sendAttemptsMax {
		return false
	}
	if sendAttempts > 0 && !now.Before(scheduledStart.Add(retryTimeout)) {
		return false
	}
	return true
}
