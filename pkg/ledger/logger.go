package ledger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// badgerLogger routes badger's internal logging through zap
type badgerLogger struct {
	logger *zap.Logger
}

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	return &badgerLogger{logger: logger.With(zap.String("component", "badger"))}
}

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

// Badger's info output is chatty; keep it at debug.
func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}
