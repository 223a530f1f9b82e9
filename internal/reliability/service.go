// Package reliability drives the sending-side message state machine: it
// applies claim outcomes, retry bookkeeping and terminal transitions to
// the delivery log, keeps the delivery lock and retained envelope in step,
// and raises producer notifications.
package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/internal/notify"
	"github.com/sirosfoundation/go-as4-gateway/internal/storage"
	"github.com/sirosfoundation/go-as4-gateway/pkg/pmode"
	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

// StateService applies state transitions of sending-side messages.
type StateService struct {
	store    storage.Store
	notifier notify.StatusNotifier
	cfg      *pmode.Configuration
	logger   *slog.Logger
	now      func() time.Time
}

// NewStateService creates a state service over the given store.
func NewStateService(store storage.Store, notifier notify.StatusNotifier, cfg *pmode.Configuration, logger *slog.Logger) *StateService {
	return &StateService{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// leg resolves the leg configuration referenced by a delivery log's
// processing mode key.
func (s *StateService) leg(log *storage.DeliveryLog) (*pmode.LegConfiguration, error) {
	pc, err := pmode.ParsePModeKey(log.PModeKey)
	if err != nil {
		return nil, err
	}
	leg, err := s.cfg.GetLegConfiguration(pc.Leg)
	if err != nil {
		return nil, err
	}
	return leg, nil
}

// Policy returns the retry policy governing a delivery log.
func (s *StateService) Policy(log *storage.DeliveryLog) (reliability.RetryPolicy, error) {
	leg, err := s.leg(log)
	if err != nil {
		return reliability.RetryPolicy{}, err
	}
	return reliability.RetryPolicy{
		RetryCount:         leg.ReceptionAwareness.RetryCount,
		RetryTimeout:       leg.ReceptionAwareness.RetryTimeout,
		ExtraGraceAttempts: reliability.DefaultExtraGraceAttempts,
	}, nil
}

func (s *StateService) notifyStatus(ctx context.Context, log *storage.DeliveryLog, detail string) {
	if log.NotificationStatus != reliability.NotificationRequired {
		return
	}
	if err := s.notifier.NotifyStatusChange(ctx, log.BackendName, log.MessageID, log.Status, detail); err != nil {
		s.logger.Error("notifying backend",
			slog.String("message_id", log.MessageID),
			slog.String("backend", log.BackendName),
			slog.String("error", err.Error()))
		return
	}
	log.NotificationStatus = reliability.NotificationNotified
	if err := s.store.UpdateDeliveryLog(ctx, log); err != nil {
		s.logger.Error("recording notification",
			slog.String("message_id", log.MessageID),
			slog.String("error", err.Error()))
	}
}

// Acknowledged moves a message to its acknowledged terminal state after a
// valid receipt. The delivery lock and retained envelope are cleared.
func (s *StateService) Acknowledged(ctx context.Context, log *storage.DeliveryLog, withWarning bool) error {
	if err := s.store.DeleteLockByMessageID(ctx, log.MessageID); err != nil {
		return fmt.Errorf("clearing lock of %s: %w", log.MessageID, err)
	}
	if err := s.store.DeleteRawEnvelope(ctx, log.MessageID); err != nil {
		return fmt.Errorf("dropping envelope of %s: %w", log.MessageID, err)
	}

	log.Status = reliability.StatusAcknowledged
	if withWarning {
		log.Status = reliability.StatusAcknowledgedWithWarning
	}
	log.NextAttempt = nil
	log.NotificationStatus = reliability.NotificationRequired
	if err := s.store.UpdateDeliveryLog(ctx, log); err != nil {
		return fmt.Errorf("updating %s: %w", log.MessageID, err)
	}

	s.notifyStatus(ctx, log, "")
	return nil
}

// SendFailed moves a message to SEND_FAILURE. The delivery lock and
// retained envelope are cleared; the producer is notified when the leg's
// error handling asks for it.
func (s *StateService) SendFailed(ctx context.Context, log *storage.DeliveryLog, reason string) error {
	if err := s.store.DeleteLockByMessageID(ctx, log.MessageID); err != nil {
		return fmt.Errorf("clearing lock of %s: %w", log.MessageID, err)
	}
	if err := s.store.DeleteRawEnvelope(ctx, log.MessageID); err != nil {
		return fmt.Errorf("dropping envelope of %s: %w", log.MessageID, err)
	}

	now := s.now()
	log.Status = reliability.StatusSendFailure
	log.Failed = &now
	log.NextAttempt = nil

	log.NotificationStatus = reliability.NotificationNotRequired
	if leg, err := s.leg(log); err == nil && leg.ErrorHandling.DeliveryFailuresNotifyProducer {
		log.NotificationStatus = reliability.NotificationRequired
	}

	if err := s.store.UpdateDeliveryLog(ctx, log); err != nil {
		return fmt.Errorf("updating %s: %w", log.MessageID, err)
	}

	s.logger.Warn("message delivery failed",
		slog.String("message_id", log.MessageID),
		slog.String("reason", reason))
	s.notifyStatus(ctx, log, reason)
	return nil
}

// ExpirePullMessage finalizes a stale claim: the retained envelope is
// dropped and the message fails. The lock itself was already consumed by
// the claim.
func (s *StateService) ExpirePullMessage(ctx context.Context, log *storage.DeliveryLog, reason string) error {
	return s.SendFailed(ctx, log, reason)
}

// AttemptStarted records a send attempt being made: the attempt counter
// advances and the message waits for its receipt with a retry deadline.
func (s *StateService) AttemptStarted(ctx context.Context, log *storage.DeliveryLog) error {
	policy, err := s.Policy(log)
	if err != nil {
		return err
	}

	log.SendAttempts++
	log.Status = reliability.StatusWaitingForReceipt
	next := policy.NextAttempt(log.ScheduledStart(), log.SendAttempts)
	log.NextAttempt = &next
	if err := s.store.UpdateDeliveryLog(ctx, log); err != nil {
		return fmt.Errorf("updating %s: %w", log.MessageID, err)
	}
	return nil
}

// PullFailedOnRequest handles a pull dispatch that never produced an
// attempt the responder could answer. The attempt was counted at claim
// time; with budget left the message returns to READY_TO_PULL under a
// fresh lock, otherwise it fails.
func (s *StateService) PullFailedOnRequest(ctx context.Context, log *storage.DeliveryLog, lock *storage.DeliveryLock, reason string) error {
	policy, err := s.Policy(log)
	if err != nil {
		return err
	}
	if !reliability.HasAttemptsLeft(lock.SendAttempts, lock.SendAttemptsMax, log.ScheduledStart(), policy.RetryTimeout, s.now()) {
		return s.SendFailed(ctx, log, reason)
	}
	return s.requeueForPull(ctx, log, lock, policy, reason)
}

// PullFailedOnReceipt handles a pull whose request went out but whose
// receipt never validated. The consumed attempt stays counted; with
// budget left the message returns to READY_TO_PULL, otherwise it fails.
func (s *StateService) PullFailedOnReceipt(ctx context.Context, log *storage.DeliveryLog, lock *storage.DeliveryLock, reason string) error {
	policy, err := s.Policy(log)
	if err != nil {
		return err
	}
	if !reliability.HasAttemptsLeft(lock.SendAttempts, lock.SendAttemptsMax, log.ScheduledStart(), policy.RetryTimeout, s.now()) {
		return s.SendFailed(ctx, log, reason)
	}
	return s.requeueForPull(ctx, log, lock, policy, reason)
}

// requeueForPull re-registers the delivery lock carrying the current
// attempt count, returns the message to READY_TO_PULL and notifies the
// backend of the reset.
func (s *StateService) requeueForPull(ctx context.Context, log *storage.DeliveryLog, lock *storage.DeliveryLock, policy reliability.RetryPolicy, reason string) error {
	relock := storage.NewDeliveryLock(log, lock.InitiatorParty, policy)
	if err := s.store.CreateLock(ctx, relock); err != nil {
		return fmt.Errorf("re-registering lock of %s: %w", log.MessageID, err)
	}

	log.Status = reliability.StatusReadyToPull
	log.NextAttempt = nil
	log.NotificationStatus = reliability.NotificationRequired
	if err := s.store.UpdateDeliveryLog(ctx, log); err != nil {
		return fmt.Errorf("updating %s: %w", log.MessageID, err)
	}

	s.notifyStatus(ctx, log, reason)
	return nil
}

// ScheduleRetry moves a push message to WAITING_FOR_RETRY with its next
// attempt time, or to SEND_FAILURE when the budget is exhausted.
func (s *StateService) ScheduleRetry(ctx context.Context, log *storage.DeliveryLog, reason string) error {
	policy, err := s.Policy(log)
	if err != nil {
		return err
	}
	if !reliability.HasAttemptsLeft(log.SendAttempts, log.SendAttemptsMax, log.ScheduledStart(), policy.RetryTimeout, s.now()) {
		return s.SendFailed(ctx, log, reason)
	}

	log.Status = reliability.StatusWaitingForRetry
	next := policy.NextAttempt(log.ScheduledStart(), log.SendAttempts)
	log.NextAttempt = &next
	if err := s.store.UpdateDeliveryLog(ctx, log); err != nil {
		return fmt.Errorf("updating %s: %w", log.MessageID, err)
	}
	return nil
}
