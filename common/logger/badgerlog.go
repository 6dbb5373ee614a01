package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// BadgerLoggerBridge implements badger.Logger on top of zap. It formats with fmt.Sprintf which is
// fine because badger only logs occasionally outside of debug level.
type BadgerLoggerBridge struct {
	logger *zap.Logger
}

// NewBadgerLoggerBridge returns a badger.Logger that tags every message with the database name.
// Badger is chatty at info level so its info messages are logged at debug.
func NewBadgerLoggerBridge(database string, logger *zap.Logger) *BadgerLoggerBridge {
	return &BadgerLoggerBridge{
		logger: logger.With(zap.String("database", database)),
	}
}

func (z *BadgerLoggerBridge) Errorf(format string, args ...any) {
	z.logger.Error(formatBadgerMessage(format, args))
}

func (z *BadgerLoggerBridge) Warningf(format string, args ...any) {
	z.logger.Warn(formatBadgerMessage(format, args))
}

func (z *BadgerLoggerBridge) Infof(format string, args ...any) {
	z.logger.Debug(formatBadgerMessage(format, args))
}

func (z *BadgerLoggerBridge) Debugf(format string, args ...any) {
	z.logger.Debug(formatBadgerMessage(format, args))
}

func formatBadgerMessage(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(strings.TrimSuffix(format, "\n"), args...))
}
