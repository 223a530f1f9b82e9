// Package notify delivers message status changes to the submitting
// backend. The gateway core ships a structured-log notifier; connector
// deployments plug in their own transport behind the same interface.
package notify

import (
	"context"
	"log/slog"

	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

// StatusNotifier receives message status changes addressed to a backend.
type StatusNotifier interface {
	// NotifyStatusChange reports that the message moved to status. The
	// detail carries the failure description for SEND_FAILURE, empty
	// otherwise.
	NotifyStatusChange(ctx context.Context, backendName, messageID string, status reliability.MessageStatus, detail string) error
}

// LogNotifier logs status changes through slog.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier writing to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyStatusChange(_ context.Context, backendName, messageID string, status reliability.MessageStatus, detail string) error {
	attrs := []any{
		slog.String("backend", backendName),
		slog.String("message_id", messageID),
		slog.String("status", string(status)),
	}
	if detail != "" {
		attrs = append(attrs, slog.String("detail", detail))
	}
	n.logger.Info("message status changed", attrs...)
	return nil
}
