package delivery

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogChannel writes notifications to the log instead of sending them.
type LogChannel struct{}

// NewLogChannel creates a LogChannel.
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

// Send logs the notification.
func (*LogChannel) Send(_ context.Context, recipient, message string) (*Result, error) {
	id := uuid.NewString()

	slog.Info("notification sent",
		slog.String("channel", "log"),
		slog.String("recipient", recipient),
		slog.String("message", message),
		slog.String("message_id", id),
	)

	return &Result{MessageID: id}, nil
}
