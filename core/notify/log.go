package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher is the Publisher used when no message broker is configured:
// every message is written to the log.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.logger.Info("Published message", zap.String("topic", topic), zap.ByteString("payload", payload))
	return nil
}
