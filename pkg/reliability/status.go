package reliability

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	// StatusSendEnqueued marks a push-bound message awaiting its first send.
	StatusSendEnqueued MessageStatus = "SEND_ENQUEUED"
	// StatusWaitingForReceipt marks a dispatched message awaiting its receipt.
	StatusWaitingForReceipt MessageStatus = "WAITING_FOR_RECEIPT"
	// StatusWaitingForRetry marks a failed attempt scheduled for another one.
	StatusWaitingForRetry MessageStatus = "WAITING_FOR_RETRY"
	// StatusReadyToPull marks a pull-bound message claimable by a puller.
	StatusReadyToPull MessageStatus = "READY_TO_PULL"
	// StatusSendFailure is the terminal failure state.
	StatusSendFailure MessageStatus = "SEND_FAILURE"
	// StatusReceived marks an inbound message accepted by the gateway.
	StatusReceived MessageStatus = "RECEIVED"
	// StatusAcknowledged marks an outbound message whose receipt arrived.
	StatusAcknowledged MessageStatus = "ACKNOWLEDGED"
	// StatusAcknowledgedWithWarning marks an acknowledged message whose
	// receipt carried a warning.
	StatusAcknowledgedWithWarning MessageStatus = "ACKNOWLEDGED_WITH_WARNING"
	// StatusDeleted marks a purged message.
	StatusDeleted MessageStatus = "DELETED"
	// StatusDownloaded marks an inbound message retrieved by the backend.
	StatusDownloaded MessageStatus = "DOWNLOADED"
	// StatusNotFound is the pseudo-status of an unknown messageId.
	StatusNotFound MessageStatus = "NOT_FOUND"
)

// Terminal reports whether no further delivery attempt can follow.
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusSendFailure, StatusReceived, StatusAcknowledged,
		StatusAcknowledgedWithWarning, StatusDeleted, StatusDownloaded:
		return true
	}
	return false
}

// MshRole distinguishes the gateway's role for one delivery log.
type MshRole string

const (
	RoleSending   MshRole = "SENDING"
	RoleReceiving MshRole = "RECEIVING"
)

// NotificationStatus tracks whether the producer must be notified of a
// delivery failure.
type NotificationStatus string

const (
	NotificationRequired    NotificationStatus = "REQUIRED"
	NotificationNotRequired NotificationStatus = "NOT_REQUIRED"
	NotificationNotified    NotificationStatus = "NOTIFIED"
)
