package scheduler

import (
	"context"
	"fmt"

	"github.com/goliatone/go-logger/glog"
)

// glogAdapter satisfies Logger (and FieldsLogger, where the underlying
// glog.Logger supports it) over a github.com/goliatone/go-logger/glog
// instance, the structured logger production deployments wire in
// place of the dependency-free FmtLogger fallback.
type glogAdapter struct {
	logger glog.Logger
}

// NewGlogLogger wraps an already-configured glog.Logger (e.g. built
// with glog.NewLogger(glog.WithLoggerTypeJSON(), glog.WithLevel(...)))
// as a scheduler.Logger.
func NewGlogLogger(logger glog.Logger) Logger {
	return glogAdapter{logger: logger}
}

func (l glogAdapter) Trace(msg string, args ...any) { l.logger.Trace(formatMsg(msg, args)) }
func (l glogAdapter) Debug(msg string, args ...any) { l.logger.Debug(formatMsg(msg, args)) }
func (l glogAdapter) Info(msg string, args ...any)  { l.logger.Info(formatMsg(msg, args)) }
func (l glogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(formatMsg(msg, args)) }
func (l glogAdapter) Error(msg string, args ...any) { l.logger.Error(formatMsg(msg, args)) }

// formatMsg applies printf-style args to msg, the convention every
// Logger call site (and FmtLogger) follows, before handing it to glog.
func formatMsg(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (l glogAdapter) WithContext(ctx context.Context) Logger {
	if l.logger == nil {
		return NewFmtLogger(nil)
	}
	return glogAdapter{logger: l.logger.WithContext(ctx)}
}

func (l glogAdapter) WithFields(fields map[string]any) Logger {
	if l.logger == nil {
		return NewFmtLogger(nil)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogAdapter{logger: fl.WithFields(fields)}
	}
	return l
}

var _ Logger = glogAdapter{}
var _ FieldsLogger = glogAdapter{}
