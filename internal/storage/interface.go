// Package storage provides data storage interfaces and implementations for
// the gateway core.
//
// # Interface Design
//
// The storage layer is organized into focused interfaces:
//
//   - [DeliveryLogStore]: per-message delivery state, keyed messageId+role
//   - [DeliveryLockStore]: pull coordination records with exactly-once claim
//   - [RawEnvelopeStore]: retained raw envelopes for receipt verification
//
// The [Store] interface combines all sub-stores for convenience.
//
// # Implementations
//
// The mongodb sub-package provides a MongoDB implementation, the postgres
// sub-package a PostgreSQL one, and memory an in-memory store for tests and
// examples.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines and, for mongodb and postgres, from multiple gateway nodes.
// [DeliveryLockStore.TryClaim] is the only operation requiring pessimistic
// control: it must atomically read and delete the lock record so that of
// any number of concurrent claimants exactly one observes it. Whether a
// contended claim blocks or fails immediately is a property of the backend
// configuration, not of callers: a claim lost to contention is reported as
// [ErrLockContended], a claim of a consumed record as [ErrNotFound], and
// callers treat both as "none".
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists indicates a unique constraint rejected an insert.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrLockContended indicates another claimant holds the row lock and
	// the backend is configured not to wait.
	ErrLockContended = errors.New("storage: lock contended")
)

// DeliveryLog is the delivery state of one message in one MSH role.
// Created at submission, mutated by the submission pipeline and the
// reliability state machine, deleted only by the retention purge.
type DeliveryLog struct {
	ID        string                    `bson:"_id" json:"id"`
	MessageID string                    `bson:"message_id" json:"messageId"`
	MshRole   reliability.MshRole       `bson:"msh_role" json:"mshRole"`
	Status    reliability.MessageStatus `bson:"status" json:"status"`

	// Routing
	Mpc         string `bson:"mpc" json:"mpc"`
	PModeKey    string `bson:"pmode_key" json:"pModeKey"`
	BackendName string `bson:"backend_name" json:"backendName"`

	// Attempt bookkeeping
	SendAttempts    int        `bson:"send_attempts" json:"sendAttempts"`
	SendAttemptsMax int        `bson:"send_attempts_max" json:"sendAttemptsMax"`
	NextAttempt     *time.Time `bson:"next_attempt,omitempty" json:"nextAttempt,omitempty"`

	// Timestamps
	Received   time.Time  `bson:"received" json:"received"`
	Deleted    *time.Time `bson:"deleted,omitempty" json:"deleted,omitempty"`
	Downloaded *time.Time `bson:"downloaded,omitempty" json:"downloaded,omitempty"`
	Failed     *time.Time `bson:"failed,omitempty" json:"failed,omitempty"`
	Restored   *time.Time `bson:"restored,omitempty" json:"restored,omitempty"`

	NotificationStatus reliability.NotificationStatus `bson:"notification_status" json:"notificationStatus"`
}

// ScheduledStart is the instant the retry window of this message opened:
// the restoration time when the message was restored, the reception time
// otherwise.
func (l *DeliveryLog) ScheduledStart() time.Time {
	if l.Restored != nil {
		return *l.Restored
	}
	return l.Received
}

// DeliveryLock is the pull coordination record of one pull-eligible
// message. Created when the message becomes claimable, consumed
// (read-and-delete) exactly once by whichever puller wins the row lock.
type DeliveryLock struct {
	ID             string    `bson:"_id" json:"id"`
	MessageID      string    `bson:"message_id" json:"messageId"` // unique
	Mpc            string    `bson:"mpc" json:"mpc"`
	InitiatorParty string    `bson:"initiator_party" json:"initiatorParty"`
	StaledAt       time.Time `bson:"staled_at" json:"staledAt"`

	SendAttempts    int `bson:"send_attempts" json:"sendAttempts"`
	SendAttemptsMax int `bson:"send_attempts_max" json:"sendAttemptsMax"`
}

// RawEnvelope retains the raw envelope of a sent message so a later
// receipt can be verified against it.
type RawEnvelope struct {
	MessageID string    `bson:"_id" json:"messageId"`
	Envelope  []byte    `bson:"envelope" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// DeliveryLogStore manages delivery logs.
type DeliveryLogStore interface {
	// CreateDeliveryLog stores a new delivery log. ErrAlreadyExists when a
	// log for the same messageId and role exists.
	CreateDeliveryLog(ctx context.Context, log *DeliveryLog) error

	// GetDeliveryLog retrieves a delivery log. ErrNotFound when absent.
	GetDeliveryLog(ctx context.Context, messageID string, role reliability.MshRole) (*DeliveryLog, error)

	// UpdateDeliveryLog replaces a delivery log by its ID.
	UpdateDeliveryLog(ctx context.Context, log *DeliveryLog) error

	// DeleteDeliveryLog removes a delivery log by its ID.
	DeleteDeliveryLog(ctx context.Context, id string) error

	// GetStatus returns the status of a message, StatusNotFound for an
	// unknown messageId. Any role counts: the uniqueness gate of the
	// submission pipeline is role-agnostic.
	GetStatus(ctx context.Context, messageID string) (reliability.MessageStatus, error)

	// FindRetryDue returns sending-role logs whose next attempt is due:
	// WAITING_FOR_RETRY and receipt-overdue WAITING_FOR_RECEIPT entries
	// with nextAttempt at or before now.
	FindRetryDue(ctx context.Context, now time.Time, limit int) ([]*DeliveryLog, error)
}

// DeliveryLockStore manages pull coordination records.
type DeliveryLockStore interface {
	// CreateLock registers a lock. ErrAlreadyExists when the message
	// already has one.
	CreateLock(ctx context.Context, lock *DeliveryLock) error

	// TryClaim atomically reads and deletes the lock with the given ID in
	// its own unit of work. ErrNotFound when the record is absent (already
	// claimed or cleared), ErrLockContended when another claimant holds it
	// and the backend is configured not to wait.
	TryClaim(ctx context.Context, lockID string) (*DeliveryLock, error)

	// NextLockID returns the ID of the oldest claimable lock for the MPC
	// and initiator party, ErrNotFound when none exists. The returned ID
	// is only a candidate: the subsequent TryClaim may still lose the race.
	NextLockID(ctx context.Context, mpc, initiatorParty string) (string, error)

	// DeleteLockByMessageID removes any lock of the message. Idempotent.
	DeleteLockByMessageID(ctx context.Context, messageID string) error
}

// RawEnvelopeStore manages retained raw envelopes.
type RawEnvelopeStore interface {
	// StoreRawEnvelope stores or replaces the raw envelope of a message.
	StoreRawEnvelope(ctx context.Context, env *RawEnvelope) error

	// GetRawEnvelope retrieves a raw envelope. ErrNotFound when absent.
	GetRawEnvelope(ctx context.Context, messageID string) (*RawEnvelope, error)

	// DeleteRawEnvelope removes the raw envelope of a message. Idempotent.
	DeleteRawEnvelope(ctx context.Context, messageID string) error
}

// Store is the main storage interface combining all sub-stores.
type Store interface {
	DeliveryLogStore
	DeliveryLockStore
	RawEnvelopeStore

	// Close releases storage resources.
	Close(ctx context.Context) error

	// Ping checks storage connectivity.
	Ping(ctx context.Context) error
}
