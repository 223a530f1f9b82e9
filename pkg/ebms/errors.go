package ebms

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an ebMS3/AS4 error as defined by the OASIS
// specifications (ebMS3 core section 6.7, AS4 profile section 5.2).
type ErrorCode struct {
	Code             string
	Severity         string
	ShortDescription string
	Category         string
}

// Predefined ebMS3/AS4 error codes
var (
	ErrorValueNotRecognized = ErrorCode{
		Code:             "EBMS:0001",
		Severity:         "Failure",
		ShortDescription: "ValueNotRecognized",
		Category:         "Content",
	}

	ErrorFeatureNotSupported = ErrorCode{
		Code:             "EBMS:0002",
		Severity:         "Warning",
		ShortDescription: "FeatureNotSupported",
		Category:         "Content",
	}

	ErrorValueInconsistent = ErrorCode{
		Code:             "EBMS:0003",
		Severity:         "Failure",
		ShortDescription: "ValueInconsistent",
		Category:         "Content",
	}

	ErrorOther = ErrorCode{
		Code:             "EBMS:0004",
		Severity:         "Failure",
		ShortDescription: "Other",
		Category:         "Content",
	}

	ErrorConnectionFailure = ErrorCode{
		Code:             "EBMS:0005",
		Severity:         "Failure",
		ShortDescription: "ConnectionFailure",
		Category:         "Communication",
	}

	ErrorEmptyMessagePartition = ErrorCode{
		Code:             "EBMS:0006",
		Severity:         "Warning",
		ShortDescription: "EmptyMessagePartitionChannel",
		Category:         "Communication",
	}

	ErrorInvalidHeader = ErrorCode{
		Code:             "EBMS:0009",
		Severity:         "Failure",
		ShortDescription: "InvalidHeader",
		Category:         "Unpackaging",
	}

	ErrorProcessingModeMismatch = ErrorCode{
		Code:             "EBMS:0010",
		Severity:         "Failure",
		ShortDescription: "ProcessingModeMismatch",
		Category:         "Processing",
	}

	ErrorDeliveryFailure = ErrorCode{
		Code:             "EBMS:0202",
		Severity:         "Failure",
		ShortDescription: "DeliveryFailure",
		Category:         "Communication",
	}

	ErrorMissingReceipt = ErrorCode{
		Code:             "EBMS:0301",
		Severity:         "Failure",
		ShortDescription: "MissingReceipt",
		Category:         "Communication",
	}

	ErrorInvalidReceipt = ErrorCode{
		Code:             "EBMS:0302",
		Severity:         "Failure",
		ShortDescription: "InvalidReceipt",
		Category:         "Communication",
	}

	ErrorDecompressionFailure = ErrorCode{
		Code:             "EBMS:0303",
		Severity:         "Failure",
		ShortDescription: "DecompressionFailure",
		Category:         "Communication",
	}
)

// ProtocolError is an ebMS-level error. When the gateway is the sender it is
// propagated to the remote peer; when receiving it is logged.
type ProtocolError struct {
	ErrorCode      ErrorCode
	RefToMessageID string
	Detail         string
	cause          error
}

// NewProtocolError creates a protocol error for the given ebMS error code.
func NewProtocolError(code ErrorCode, detail string) *ProtocolError {
	return &ProtocolError{ErrorCode: code, Detail: detail}
}

// NewProtocolErrorFrom wraps an underlying cause in a protocol error.
func NewProtocolErrorFrom(code ErrorCode, detail string, cause error) *ProtocolError {
	return &ProtocolError{ErrorCode: code, Detail: detail, cause: cause}
}

// WithRefToMessageID attaches the message this error refers to.
func (e *ProtocolError) WithRefToMessageID(id string) *ProtocolError {
	e.RefToMessageID = id
	return e
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.ErrorCode.Code, e.ErrorCode.ShortDescription, e.Detail)
	if e.RefToMessageID != "" {
		msg += " [refToMessageId=" + e.RefToMessageID + "]"
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.cause }

// IsConnectionFailure reports whether err is an EBMS:0005 protocol error.
// Connection failures during pull are recovered locally via backoff instead
// of being surfaced.
func IsConnectionFailure(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.ErrorCode.Code == ErrorConnectionFailure.Code
}

// ConfigurationError signals a broken or ambiguous exchange configuration.
// It aborts the current submission or pull cycle but never the gateway.
type ConfigurationError struct {
	Reason string
	cause  error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.cause }

// NewConfigurationError creates a configuration error.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// NewConfigurationErrorFrom creates a configuration error wrapping a
// sentinel so callers can classify with errors.Is.
func NewConfigurationErrorFrom(sentinel error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...), cause: sentinel}
}

// DuplicateMessageError is returned when a submission reuses a messageId
// that the gateway already knows. Non-retryable.
type DuplicateMessageError struct {
	MessageID string
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("message with id [%s] already exists", e.MessageID)
}

// MessageNotFoundError is returned when an operation references a messageId
// with no delivery log. Terminal.
type MessageNotFoundError struct {
	MessageID string
}

func (e *MessageNotFoundError) Error() string {
	return fmt.Sprintf("message with id [%s] not found", e.MessageID)
}
