package pull

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/internal/reliability"
	"github.com/sirosfoundation/go-as4-gateway/internal/storage"
	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/go-as4-gateway/pkg/pmode"
	relcore "github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
	"github.com/sirosfoundation/go-as4-gateway/pkg/signal"
)

// Responder answers incoming PullRequest signals: it validates the pull
// configuration of the requested MPC, claims one delivery lock, and hands
// out the retained envelope of the claimed message. Stale claims are
// expired on the spot and the next lock is tried.
type Responder struct {
	cfg         *pmode.Configuration
	validator   *pmode.PullProcessValidator
	coordinator *Coordinator
	store       storage.Store
	states      *reliability.StateService
	logger      *slog.Logger
	now         func() time.Time
}

// NewResponder wires a responder.
func NewResponder(cfg *pmode.Configuration, coordinator *Coordinator, store storage.Store, states *reliability.StateService, logger *slog.Logger) *Responder {
	return &Responder{
		cfg:         cfg,
		validator:   pmode.NewPullProcessValidator(cfg),
		coordinator: coordinator,
		store:       store,
		states:      states,
		logger:      logger,
		now:         time.Now,
	}
}

// ProcessPullRequest handles one incoming PullRequest envelope. The
// initiatorParty is the authenticated identity of the puller, empty when
// pulling is unauthenticated. It returns the envelope to answer with: the
// claimed message, or an empty-MPC warning signal when nothing is
// claimable.
func (r *Responder) ProcessPullRequest(ctx context.Context, request []byte, initiatorParty string) ([]byte, error) {
	mpc, signalID, err := signal.ParsePullRequest(request)
	if err != nil {
		return nil, err
	}
	if mpc == "" {
		mpc = pmode.DefaultMpc
	}

	processes := r.cfg.FindPullProcessesByMpc(mpc)
	if _, err := r.validator.Validate(processes); err != nil {
		return nil, ebms.NewProtocolErrorFrom(ebms.ErrorProcessingModeMismatch,
			"no valid pull process for mpc "+mpc, err).WithRefToMessageID(signalID)
	}

	for {
		lockID, err := r.coordinator.NextForMpc(ctx, mpc, initiatorParty)
		if err != nil {
			return nil, fmt.Errorf("finding claimable lock on %s: %w", mpc, err)
		}
		if lockID == "" {
			return signal.BuildEmptyMpcWarning(signalID, r.now())
		}

		claimed, err := r.coordinator.Claim(ctx, lockID)
		if err != nil {
			return nil, fmt.Errorf("claiming lock %s: %w", lockID, err)
		}
		if claimed == nil {
			// Lost the race; the next candidate may still be ours.
			continue
		}

		envelope, done, err := r.deliverClaimed(ctx, claimed)
		if err != nil {
			return nil, err
		}
		if done {
			return envelope, nil
		}
	}
}

// deliverClaimed finalizes one claimed lock. done is false when the claim
// was consumed without producing an answer (stale or orphaned) and the
// responder should try the next lock.
func (r *Responder) deliverClaimed(ctx context.Context, claimed *Claimed) (envelope []byte, done bool, err error) {
	lock := claimed.Lock
	log, err := r.store.GetDeliveryLog(ctx, lock.MessageID, relcore.RoleSending)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Warn("claimed lock without delivery log", slog.String("message_id", lock.MessageID))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading delivery log of %s: %w", lock.MessageID, err)
	}

	if claimed.Outcome == relcore.OutcomeStale {
		if err := r.states.ExpirePullMessage(ctx, log, claimed.Reason); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	raw, err := r.store.GetRawEnvelope(ctx, lock.MessageID)
	if err != nil {
		// No envelope to hand out. Count the attempt and let the
		// reliability math decide whether the message survives.
		r.logger.Error("retained envelope missing", slog.String("message_id", lock.MessageID))
		log.SendAttempts = lock.SendAttempts + 1
		if ferr := r.states.PullFailedOnRequest(ctx, log, lock, "retained envelope missing"); ferr != nil {
			return nil, false, ferr
		}
		return nil, false, nil
	}

	if err := r.states.AttemptStarted(ctx, log); err != nil {
		return nil, false, err
	}

	r.logger.Info("message claimed for pull",
		slog.String("message_id", lock.MessageID),
		slog.String("mpc", lock.Mpc),
		slog.String("outcome", string(claimed.Outcome)),
		slog.Int("attempt", log.SendAttempts))
	return raw.Envelope, true, nil
}

// HandleReceipt resolves a pulled message once its receipt arrived (or
// conclusively failed). An invalid receipt with attempts left returns the
// message to the channel; otherwise the message fails.
func (r *Responder) HandleReceipt(ctx context.Context, messageID string, valid, warning bool) error {
	log, err := r.store.GetDeliveryLog(ctx, messageID, relcore.RoleSending)
	if errors.Is(err, storage.ErrNotFound) {
		return &ebms.MessageNotFoundError{MessageID: messageID}
	}
	if err != nil {
		return fmt.Errorf("loading delivery log of %s: %w", messageID, err)
	}

	if valid {
		return r.states.Acknowledged(ctx, log, warning)
	}
	return r.states.PullFailedOnReceipt(ctx, log, r.lockFromLog(log), "receipt invalid")
}

// lockFromLog rebuilds the lock projection of a message whose lock was
// consumed by the claim that produced the attempt being resolved. The
// receiver of a pull-bound message is the party entitled to pull it.
func (r *Responder) lockFromLog(log *storage.DeliveryLog) *storage.DeliveryLock {
	staledAt := log.ScheduledStart()
	if policy, err := r.states.Policy(log); err == nil {
		staledAt = policy.StaleTime(log.ScheduledStart())
	}
	initiator := ""
	if pc, err := pmode.ParsePModeKey(log.PModeKey); err == nil {
		initiator = pc.ReceiverParty
	}
	return &storage.DeliveryLock{
		MessageID:       log.MessageID,
		Mpc:             log.Mpc,
		InitiatorParty:  initiator,
		StaledAt:        staledAt,
		SendAttempts:    log.SendAttempts,
		SendAttemptsMax: log.SendAttemptsMax,
	}
}
