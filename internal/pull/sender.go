package pull

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/internal/queue"
	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/go-as4-gateway/pkg/pmode"
	"github.com/sirosfoundation/go-as4-gateway/pkg/signal"
	"github.com/sirosfoundation/go-as4-gateway/pkg/transport"
)

// Transport posts an envelope to a remote gateway endpoint.
type Transport interface {
	Send(ctx context.Context, url string, body []byte, contentType string) ([]byte, error)
}

// MessageReceiver accepts a pulled business message for inbound
// processing. Envelope verification and delivery to the backend live
// behind this interface.
type MessageReceiver interface {
	ReceiveUserMessage(ctx context.Context, envelope []byte) error
}

// ReceiptScheduler schedules receipt acknowledgement work for a pulled
// message.
type ReceiptScheduler interface {
	EnqueueReceipt(job queue.ReceiptJob) error
}

// Sender issues PullRequest signals for the pull processes this gateway
// initiates and routes substantive responses into the inbound path.
type Sender struct {
	cfg       *pmode.Configuration
	transport Transport
	receiver  MessageReceiver
	scheduler ReceiptScheduler
	frequency *Frequency
	logger    *slog.Logger
	now       func() time.Time
}

// NewSender wires a pull sender.
func NewSender(cfg *pmode.Configuration, tr Transport, receiver MessageReceiver, scheduler ReceiptScheduler, frequency *Frequency, logger *slog.Logger) *Sender {
	return &Sender{
		cfg:       cfg,
		transport: tr,
		receiver:  receiver,
		scheduler: scheduler,
		frequency: frequency,
		logger:    logger,
		now:       time.Now,
	}
}

// HandlePullJob executes one pull job: resolve the counterpart, dispatch
// a PullRequest on the job's MPC, and classify the response. Connection
// failures feed the per-MPC backoff and are never surfaced; other
// protocol errors are returned to the caller.
func (s *Sender) HandlePullJob(ctx context.Context, job queue.PullJob) error {
	if !s.frequency.ShouldPull(job.Mpc, s.now()) {
		s.logger.Debug("pull suppressed by backoff", slog.String("mpc", job.Mpc))
		return nil
	}

	responder, err := s.cfg.GetReceiverParty(job.PModeKey)
	if err != nil {
		return fmt.Errorf("resolving pull counterpart: %w", err)
	}
	if responder.Endpoint == "" {
		return ebms.NewConfigurationError("party [%s] has no endpoint to pull from", responder.Name)
	}

	request, signalID, err := signal.BuildPullRequest(job.Mpc, s.now())
	if err != nil {
		return err
	}

	respBody, err := s.transport.Send(ctx, responder.Endpoint, request, transport.ContentTypeSOAP)
	if err != nil {
		if ebms.IsConnectionFailure(err) {
			s.frequency.Error(job.Mpc, s.now())
			s.logger.Warn("pull endpoint unreachable, backing off",
				slog.String("mpc", job.Mpc),
				slog.String("endpoint", responder.Endpoint),
				slog.String("error", err.Error()))
			return nil
		}
		return err
	}
	s.frequency.Success(job.Mpc)

	resp, err := signal.ParseResponse(respBody)
	if err != nil {
		return err
	}

	switch {
	case resp.HasUserMessage:
		if err := s.receiver.ReceiveUserMessage(ctx, respBody); err != nil {
			return fmt.Errorf("processing pulled message %s: %w", resp.MessageID, err)
		}
		if err := s.scheduler.EnqueueReceipt(queue.ReceiptJob{
			MessageID: resp.MessageID,
			PModeKey:  job.PModeKey,
		}); err != nil {
			s.logger.Error("scheduling receipt job",
				slog.String("message_id", resp.MessageID),
				slog.String("error", err.Error()))
		}
		s.logger.Info("pulled message received",
			slog.String("mpc", job.Mpc),
			slog.String("message_id", resp.MessageID))
		return nil

	case resp.EmptyMpc:
		s.logger.Debug("partition channel empty",
			slog.String("mpc", job.Mpc),
			slog.String("ref", signalID))
		return nil

	default:
		err := ebms.NewProtocolError(ebms.ErrorOther,
			fmt.Sprintf("pull on %s answered with error %s", job.Mpc, resp.ErrorCode))
		if job.NotifyOnError {
			return err
		}
		s.logger.Warn("pull answered with error signal",
			slog.String("mpc", job.Mpc),
			slog.String("error_code", resp.ErrorCode))
		return nil
	}
}

// Schedule enqueues one pull job per configured pull process this gateway
// initiates, honoring the per-MPC backoff. It is meant to run on a ticker.
func Schedule(cfg *pmode.Configuration, frequency *Frequency, enqueue func(queue.PullJob) error, now time.Time, logger *slog.Logger) {
	for _, process := range cfg.FindPullProcessesByInitiator(cfg.Party) {
		for _, legName := range process.Legs {
			leg, err := cfg.GetLegConfiguration(legName)
			if err != nil {
				continue
			}
			mpc := leg.QualifiedMpc()
			if !frequency.ShouldPull(mpc, now) {
				continue
			}
			pc := pmode.ProcessingContext{
				SenderParty:   cfg.Party,
				ReceiverParty: firstResponder(process),
				Service:       leg.Service,
				Action:        leg.Action,
				Agreement:     process.AgreementName(),
				Leg:           leg.Name,
			}
			if err := enqueue(queue.PullJob{Mpc: mpc, PModeKey: pc.PModeKey()}); err != nil {
				logger.Error("scheduling pull job",
					slog.String("mpc", mpc),
					slog.String("error", err.Error()))
			}
		}
	}
}

func firstResponder(p *pmode.Process) string {
	if len(p.Responders) > 0 {
		return p.Responders[0]
	}
	return ""
}
