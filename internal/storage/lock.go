package storage

import (
	"github.com/google/uuid"

	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

// NewDeliveryLock builds the lock registration making a sending-side
// message pull-eligible. The staling deadline is computed from the
// message's scheduled start so the lock only goes stale once the retry
// budget is conclusively exhausted; the attempt counters are carried from
// the log so a re-registered lock keeps its consumed attempts.
func NewDeliveryLock(log *DeliveryLog, initiatorParty string, policy reliability.RetryPolicy) *DeliveryLock {
	return &DeliveryLock{
		ID:              uuid.NewString(),
		MessageID:       log.MessageID,
		Mpc:             log.Mpc,
		InitiatorParty:  initiatorParty,
		StaledAt:        policy.StaleTime(log.ScheduledStart()),
		SendAttempts:    log.SendAttempts,
		SendAttemptsMax: log.SendAttemptsMax,
	}
}
