// Package sender provides background delivery of push-bound messages.
//
// The Sender consumes send jobs enqueued by the submission pipeline and,
// in parallel, polls the delivery log for messages whose retry or receipt
// deadline has passed. Both paths converge on one dispatch routine so the
// attempt bookkeeping is identical regardless of how a message became due.
//
// # Concurrency
//
// Dispatches within one polling batch run sequentially. Multiple gateway
// nodes can run senders concurrently: the delivery log is the shared
// source of truth and an attempt that loses the update race is simply
// retried by the reliability math, never duplicated past the budget.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/internal/queue"
	"github.com/sirosfoundation/go-as4-gateway/internal/reliability"
	"github.com/sirosfoundation/go-as4-gateway/internal/storage"
	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/go-as4-gateway/pkg/pmode"
	relcore "github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
	"github.com/sirosfoundation/go-as4-gateway/pkg/transport"
)

// Transport posts an envelope to a remote gateway endpoint.
type Transport interface {
	Send(ctx context.Context, url string, body []byte, contentType string) ([]byte, error)
}

// ReceiptVerifier checks a push response against the retained envelope of
// the sent message. Warning reports an accepted receipt with non-fatal
// findings.
type ReceiptVerifier interface {
	Verify(ctx context.Context, sentEnvelope, response []byte) (warning bool, err error)
}

// Config holds sender tuning.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 10 * time.Second,
		BatchSize:    10,
	}
}

// Sender delivers push-bound messages.
type Sender struct {
	store     storage.Store
	cfg       *pmode.Configuration
	states    *reliability.StateService
	transport Transport
	verifier  ReceiptVerifier
	logger    *slog.Logger

	pollInterval time.Duration
	batchSize    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates a background sender.
func NewSender(store storage.Store, cfg *pmode.Configuration, states *reliability.StateService, tr Transport, verifier ReceiptVerifier, scfg *Config, logger *slog.Logger) *Sender {
	if scfg == nil {
		scfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		store:        store,
		cfg:          cfg,
		states:       states,
		transport:    tr,
		verifier:     verifier,
		logger:       logger,
		pollInterval: scfg.PollInterval,
		batchSize:    scfg.BatchSize,
	}
}

// Start begins background processing: the retry poll loop plus the send
// job subscription.
func (s *Sender) Start(ctx context.Context, q *queue.Queue) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := q.ConsumeSend(s.ctx, s.HandleSendJob); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.run()
	s.logger.Info("sender started", slog.Duration("poll_interval", s.pollInterval))
	return nil
}

// Stop gracefully stops the sender.
func (s *Sender) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sender stopped")
}

func (s *Sender) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.processDue()
		}
	}
}

// processDue re-drives messages whose retry or receipt deadline passed.
func (s *Sender) processDue() {
	due, err := s.store.FindRetryDue(s.ctx, time.Now(), s.batchSize)
	if err != nil {
		s.logger.Error("finding due messages", slog.String("error", err.Error()))
		return
	}
	for _, log := range due {
		s.dispatch(s.ctx, log)
	}
}

// HandleSendJob dispatches one freshly enqueued message.
func (s *Sender) HandleSendJob(ctx context.Context, job queue.SendJob) {
	log, err := s.store.GetDeliveryLog(ctx, job.MessageID, relcore.RoleSending)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("send job for unknown message", slog.String("message_id", job.MessageID))
		return
	}
	if err != nil {
		s.logger.Error("loading delivery log", slog.String("message_id", job.MessageID), slog.String("error", err.Error()))
		return
	}
	if log.Status.Terminal() {
		return
	}
	s.dispatch(ctx, log)
}

// dispatch performs one delivery attempt and applies its outcome to the
// state machine.
func (s *Sender) dispatch(ctx context.Context, log *storage.DeliveryLog) {
	l := s.logger.With(
		slog.String("message_id", log.MessageID),
		slog.Int("attempt", log.SendAttempts+1),
		slog.Int("attempts_max", log.SendAttemptsMax))

	receiver, err := s.cfg.GetReceiverParty(log.PModeKey)
	if err != nil || receiver.Endpoint == "" {
		l.Error("no endpoint for receiver", slog.String("pmode_key", log.PModeKey))
		if err := s.states.SendFailed(ctx, log, "receiver endpoint unresolvable"); err != nil {
			l.Error("marking failed", slog.String("error", err.Error()))
		}
		return
	}

	raw, err := s.store.GetRawEnvelope(ctx, log.MessageID)
	if err != nil {
		l.Error("retained envelope missing", slog.String("error", err.Error()))
		if err := s.states.SendFailed(ctx, log, "retained envelope missing"); err != nil {
			l.Error("marking failed", slog.String("error", err.Error()))
		}
		return
	}

	if err := s.states.AttemptStarted(ctx, log); err != nil {
		l.Error("recording attempt", slog.String("error", err.Error()))
		return
	}

	response, err := s.transport.Send(ctx, receiver.Endpoint, raw.Envelope, transport.ContentTypeSOAP)
	if err != nil {
		reason := "dispatch failed: " + err.Error()
		if ebms.IsConnectionFailure(err) {
			l.Warn("endpoint unreachable", slog.String("endpoint", receiver.Endpoint))
		} else {
			l.Warn("dispatch rejected", slog.String("error", err.Error()))
		}
		if err := s.states.ScheduleRetry(ctx, log, reason); err != nil {
			l.Error("scheduling retry", slog.String("error", err.Error()))
		}
		return
	}

	warning, err := s.verifier.Verify(ctx, raw.Envelope, response)
	if err != nil {
		l.Warn("receipt rejected", slog.String("error", err.Error()))
		if err := s.states.ScheduleRetry(ctx, log, "receipt invalid: "+err.Error()); err != nil {
			l.Error("scheduling retry", slog.String("error", err.Error()))
		}
		return
	}

	if err := s.states.Acknowledged(ctx, log, warning); err != nil {
		l.Error("acknowledging", slog.String("error", err.Error()))
		return
	}
	l.Info("message delivered", slog.String("endpoint", receiver.Endpoint))
}
