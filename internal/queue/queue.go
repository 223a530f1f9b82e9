// Package queue decouples the submission pipeline from the send and pull
// workers with an in-process watermill pub/sub. Jobs are delivery hints
// only: messages are always acked, and a failed job is re-driven by the
// reliability state machine through the stored nextAttempt, never by queue
// redelivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// Topics
const (
	TopicSend    = "as4.send"
	TopicPull    = "as4.pull"
	TopicReceipt = "as4.receipt"
)

// SendJob asks the push sender to dispatch a message.
type SendJob struct {
	MessageID string `json:"messageId"`
}

// PullJob asks the pull sender to issue a PullRequest on an MPC.
type PullJob struct {
	Mpc      string `json:"mpc"`
	PModeKey string `json:"pModeKey"`
	// NotifyOnError requests producer notification when the pull fails.
	NotifyOnError bool `json:"notifyOnError"`
}

// ReceiptJob asks the receipt handler to resolve an awaited receipt.
type ReceiptJob struct {
	MessageID string `json:"messageId"`
	PModeKey  string `json:"pModeKey"`
}

// Queue is the in-process job bus.
type Queue struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

// New creates a queue backed by a watermill go-channel pub/sub.
func New(logger *slog.Logger) *Queue {
	return &Queue{
		pubSub: gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger)),
		logger: logger,
	}
}

// Close shuts the pub/sub down; pending subscriptions end.
func (q *Queue) Close() error {
	return q.pubSub.Close()
}

func (q *Queue) publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s job: %w", topic, err)
	}
	return q.pubSub.Publish(topic, message.NewMessage(uuid.NewString(), data))
}

// EnqueueSend publishes a send job.
func (q *Queue) EnqueueSend(job SendJob) error {
	return q.publish(TopicSend, job)
}

// EnqueuePull publishes a pull job.
func (q *Queue) EnqueuePull(job PullJob) error {
	return q.publish(TopicPull, job)
}

// EnqueueReceipt publishes a receipt job.
func (q *Queue) EnqueueReceipt(job ReceiptJob) error {
	return q.publish(TopicReceipt, job)
}

// ConsumeSend delivers send jobs to handler until ctx is cancelled.
func (q *Queue) ConsumeSend(ctx context.Context, handler func(context.Context, SendJob)) error {
	return consume(ctx, q, TopicSend, handler)
}

// ConsumePull delivers pull jobs to handler until ctx is cancelled.
func (q *Queue) ConsumePull(ctx context.Context, handler func(context.Context, PullJob)) error {
	return consume(ctx, q, TopicPull, handler)
}

// ConsumeReceipt delivers receipt jobs to handler until ctx is cancelled.
func (q *Queue) ConsumeReceipt(ctx context.Context, handler func(context.Context, ReceiptJob)) error {
	return consume(ctx, q, TopicReceipt, handler)
}

func consume[T any](ctx context.Context, q *Queue, topic string, handler func(context.Context, T)) error {
	messages, err := q.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	go func() {
		for msg := range messages {
			var job T
			if err := json.Unmarshal(msg.Payload, &job); err != nil {
				q.logger.Error("discarding malformed job",
					slog.String("topic", topic),
					slog.String("error", err.Error()))
				msg.Ack()
				continue
			}
			handler(ctx, job)
			// Always ack: retry scheduling lives in the delivery log,
			// not in queue redelivery.
			msg.Ack()
		}
	}()
	return nil
}
