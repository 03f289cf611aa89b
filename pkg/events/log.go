package events

import (
	"context"

	"go.uber.org/zap"
)

type logEmitter struct {
	logger *zap.Logger
}

// Log writes every event to logger at info level
func Log(logger *zap.Logger) Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logEmitter{logger: logger}
}

func (l logEmitter) Emit(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("type", string(ev.Type)),
		zap.Time("timestamp", ev.Timestamp),
		zap.String("address", ev.Address.String()),
	}
	if !ev.Subject.IsZero() {
		fields = append(fields, zap.String("subject", ev.Subject.Short()))
	}
	if !ev.Actor.IsZero() {
		fields = append(fields, zap.String("actor", ev.Actor.Short()))
	}
	if ev.ContentHash != nil {
		fields = append(fields, zap.String("content_hash", ev.ContentHash.String()))
	}
	if ev.PreviousHash != nil {
		fields = append(fields, zap.String("previous_hash", ev.PreviousHash.String()))
	}
	l.logger.Info("Event published", fields...)
	return nil
}
