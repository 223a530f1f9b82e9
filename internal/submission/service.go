// Package submission implements the outbound submission pipeline: a
// sequence of hard gates that assigns message identity, resolves the
// governing exchange configuration, validates the message against it,
// persists the initial delivery state and schedules delivery work.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-as4-gateway/internal/notify"
	"github.com/sirosfoundation/go-as4-gateway/internal/queue"
	"github.com/sirosfoundation/go-as4-gateway/internal/storage"
	"github.com/sirosfoundation/go-as4-gateway/pkg/compression"
	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/go-as4-gateway/pkg/pmode"
	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

// EnvelopeBuilder renders the wire envelope of an accepted submission. The
// gateway core retains the result for dispatch and receipt verification;
// envelope structure and security are the builder's concern.
type EnvelopeBuilder interface {
	Build(ctx context.Context, sub *ebms.Submission, leg *pmode.LegConfiguration, pc pmode.ProcessingContext) ([]byte, error)
}

// SendScheduler hands accepted push messages to the send worker.
type SendScheduler interface {
	EnqueueSend(job queue.SendJob) error
}

// Options tunes the submission pipeline.
type Options struct {
	// MessageIDSuffix is appended to generated message ids after an "@".
	MessageIDSuffix string
	// MessageIDPattern validates submitted ids. Empty selects
	// DefaultMessageIDPattern.
	MessageIDPattern string
}

// Service is the submission pipeline.
type Service struct {
	store      storage.Store
	cfg        *pmode.Configuration
	resolver   *pmode.LegResolver
	builder    EnvelopeBuilder
	scheduler  SendScheduler
	notifier   notify.StatusNotifier
	compressor *compression.Compressor
	logger     *slog.Logger

	idSuffix  string
	idPattern *regexp.Regexp
	now       func() time.Time
}

// NewService creates the pipeline. The pattern in opts must compile.
func NewService(store storage.Store, cfg *pmode.Configuration, builder EnvelopeBuilder, scheduler SendScheduler, notifier notify.StatusNotifier, logger *slog.Logger, opts Options) (*Service, error) {
	pattern := opts.MessageIDPattern
	if pattern == "" {
		pattern = DefaultMessageIDPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling message id pattern: %w", err)
	}

	return &Service{
		store:      store,
		cfg:        cfg,
		resolver:   pmode.NewLegResolver(cfg),
		builder:    builder,
		scheduler:  scheduler,
		notifier:   notifier,
		compressor: compression.NewCompressor(),
		logger:     logger,
		idSuffix:   opts.MessageIDSuffix,
		idPattern:  re,
		now:        time.Now,
	}, nil
}

// Submit runs the pipeline on one outbound message and returns the
// assigned message id. Every gate failure aborts the submission without
// touching previously stored messages.
func (s *Service) Submit(ctx context.Context, sub *ebms.Submission, backendName string) (string, error) {
	// Gate 1: identity.
	if sub.MessageID == "" {
		sub.MessageID = s.generateMessageID()
	} else {
		if err := validateMessageID(sub.MessageID, "messageId", s.idPattern); err != nil {
			return "", err
		}
		status, err := s.store.GetStatus(ctx, sub.MessageID)
		if err != nil {
			return "", fmt.Errorf("checking message id uniqueness: %w", err)
		}
		if status != reliability.StatusNotFound {
			return "", &ebms.DuplicateMessageError{MessageID: sub.MessageID}
		}
	}

	// Gate 2: reference format.
	if sub.RefToMessageID != "" {
		if err := validateMessageID(sub.RefToMessageID, "refToMessageId", s.idPattern); err != nil {
			return "", err
		}
	}

	// Gate 3: exchange resolution.
	pc := pmode.ProcessingContext{
		SenderParty:   sub.FromParty,
		ReceiverParty: sub.ToParty,
		Service:       sub.Service,
		Action:        sub.Action,
		Agreement:     sub.Agreement,
	}
	leg, process, err := s.resolver.Resolve(pc)
	if err != nil {
		return "", err
	}
	pc.Leg = leg.Name
	pModeKey := pc.PModeKey()

	// Gate 4: parties and roles.
	if err := validateParties(sub, s.cfg.Party, process); err != nil {
		return "", err
	}

	// Gates 5 and 6: payloads and property profile.
	if err := validatePayloads(sub, leg.PayloadProfile); err != nil {
		return "", err
	}
	if err := validateProperties(sub, leg.PropertySet); err != nil {
		return "", err
	}

	if leg.PayloadProfile.Compress {
		for i := range sub.Payloads {
			if err := s.compressor.CompressPayload(&sub.Payloads[i]); err != nil {
				return "", err
			}
		}
	}

	// Gate 7: partition channel.
	mpc := leg.MpcFor(sub.ToParty)

	// Gate 8: persist initial delivery state.
	now := s.now()
	policy := reliability.RetryPolicy{
		RetryCount:         leg.ReceptionAwareness.RetryCount,
		RetryTimeout:       leg.ReceptionAwareness.RetryTimeout,
		ExtraGraceAttempts: reliability.DefaultExtraGraceAttempts,
	}
	pullBound := process.IsPull()

	log := &storage.DeliveryLog{
		ID:                 uuid.NewString(),
		MessageID:          sub.MessageID,
		MshRole:            reliability.RoleSending,
		Status:             reliability.StatusSendEnqueued,
		Mpc:                mpc,
		PModeKey:           pModeKey,
		BackendName:        backendName,
		SendAttemptsMax:    policy.MaxSendAttempts(),
		Received:           now,
		NotificationStatus: reliability.NotificationNotRequired,
	}
	if pullBound {
		log.Status = reliability.StatusReadyToPull
	}
	if leg.ErrorHandling.DeliveryFailuresNotifyProducer {
		log.NotificationStatus = reliability.NotificationRequired
	}

	if err := s.store.CreateDeliveryLog(ctx, log); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return "", &ebms.DuplicateMessageError{MessageID: sub.MessageID}
		}
		return "", fmt.Errorf("persisting delivery log: %w", err)
	}

	// Build and retain the envelope. Failure here unwinds the log so the
	// id stays resubmittable.
	envelope, err := s.builder.Build(ctx, sub, leg, pc)
	if err != nil {
		s.unwind(ctx, log)
		return "", fmt.Errorf("building envelope for %s: %w", sub.MessageID, err)
	}
	if err := s.store.StoreRawEnvelope(ctx, &storage.RawEnvelope{
		MessageID: sub.MessageID,
		Envelope:  envelope,
		CreatedAt: now,
	}); err != nil {
		s.unwind(ctx, log)
		return "", fmt.Errorf("retaining envelope for %s: %w", sub.MessageID, err)
	}

	// Pull-bound messages become claimable immediately.
	if pullBound {
		lock := storage.NewDeliveryLock(log, s.pullInitiator(process), policy)
		if err := s.store.CreateLock(ctx, lock); err != nil {
			s.unwind(ctx, log)
			return "", fmt.Errorf("registering delivery lock for %s: %w", sub.MessageID, err)
		}
	}

	// Gate 9: schedule push delivery.
	if !pullBound {
		if err := s.scheduler.EnqueueSend(queue.SendJob{MessageID: sub.MessageID}); err != nil {
			s.logger.Error("scheduling send job",
				slog.String("message_id", sub.MessageID),
				slog.String("error", err.Error()))
		}
	}

	s.logger.Info("message submitted",
		slog.String("message_id", sub.MessageID),
		slog.String("backend", backendName),
		slog.String("pmode_key", pModeKey),
		slog.String("status", string(log.Status)))
	return sub.MessageID, nil
}

// Status reports the delivery status of a message, StatusNotFound for an
// unknown id.
func (s *Service) Status(ctx context.Context, messageID string) (reliability.MessageStatus, error) {
	return s.store.GetStatus(ctx, messageID)
}

func (s *Service) generateMessageID() string {
	id := uuid.NewString()
	if s.idSuffix != "" {
		return id + "@" + s.idSuffix
	}
	return id
}

// pullInitiator names the party entitled to pull this message. Dynamic
// initiator processes leave it empty, matching any puller.
func (s *Service) pullInitiator(process *pmode.Process) string {
	if process.DynamicInitiator || len(process.Initiators) != 1 {
		return ""
	}
	return process.Initiators[0]
}

// unwind removes the partially persisted state of a failed submission.
func (s *Service) unwind(ctx context.Context, log *storage.DeliveryLog) {
	if err := s.store.DeleteRawEnvelope(ctx, log.MessageID); err != nil {
		s.logger.Error("unwinding envelope", slog.String("message_id", log.MessageID), slog.String("error", err.Error()))
	}
	if err := s.store.DeleteDeliveryLog(ctx, log.ID); err != nil {
		s.logger.Error("unwinding delivery log", slog.String("message_id", log.MessageID), slog.String("error", err.Error()))
	}
}
