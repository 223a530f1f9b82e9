// Package pull implements both sides of the pull exchange: the
// coordinator claiming delivery locks exactly once, the responder
// answering incoming PullRequest signals, and the sender issuing
// PullRequests on behalf of configured pull processes.
package pull

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/internal/storage"
	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

// Claimed is a successfully consumed delivery lock with its
// classification.
type Claimed struct {
	Lock    *storage.DeliveryLock
	Outcome reliability.ClaimOutcome
	// Reason describes why a stale claim is stale.
	Reason string
}

// Coordinator claims and releases delivery locks. All concurrency control
// lives in the store: the coordinator only sequences candidate lookup,
// claim and classification.
type Coordinator struct {
	store  storage.DeliveryLockStore
	logger *slog.Logger
	now    func() time.Time
}

// NewCoordinator creates a coordinator over the given lock store.
func NewCoordinator(store storage.DeliveryLockStore, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, logger: logger, now: time.Now}
}

// Claim consumes the lock with the given id and classifies it. A nil
// result with nil error means the race was lost: the record was already
// claimed, cleared, or is contended. That is an expected outcome, not an
// error.
func (c *Coordinator) Claim(ctx context.Context, lockID string) (*Claimed, error) {
	lock, err := c.store.TryClaim(ctx, lockID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrLockContended) {
		c.logger.Debug("lock claim lost", slog.String("lock_id", lockID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	outcome, reason := reliability.Classify(reliability.LockState{
		StaledAt:        lock.StaledAt,
		SendAttempts:    lock.SendAttempts,
		SendAttemptsMax: lock.SendAttemptsMax,
	}, c.now())

	return &Claimed{Lock: lock, Outcome: outcome, Reason: reason}, nil
}

// NextForMpc returns the id of the next claimable lock on the partition
// channel, or "" when the channel is empty for that initiator.
func (c *Coordinator) NextForMpc(ctx context.Context, mpc, initiatorParty string) (string, error) {
	id, err := c.store.NextLockID(ctx, mpc, initiatorParty)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Release registers a message as pull-eligible. The lock is built by
// [storage.NewDeliveryLock], the one place computing the staling deadline
// for every release path.
func (c *Coordinator) Release(ctx context.Context, log *storage.DeliveryLog, initiatorParty string, policy reliability.RetryPolicy) error {
	return c.store.CreateLock(ctx, storage.NewDeliveryLock(log, initiatorParty, policy))
}
