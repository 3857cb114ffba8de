package notifier

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, message string) error {
	n.logger.Info("notification", zap.String("message", message))
	return nil
}
