package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trendboard/pkg/errors"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// Logger wraps zap.SugaredLogger with optional error tracking.
// tags are attached to every error forwarded to the tracker.
type Logger struct {
	*zap.SugaredLogger
	errorTracker errors.Tracker
	tags         map[string]string
}

// Init initializes the global logger
func Init(level string, env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	base, err := config.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return err
	}

	globalMu.Lock()
	globalLogger = &Logger{
		SugaredLogger: base.Sugar(),
		tags:          map[string]string{},
	}
	globalMu.Unlock()
	return nil
}

// SetErrorTracker sets the error tracker for automatic error reporting
func SetErrorTracker(tracker errors.Tracker) {
	l := Get()
	globalMu.Lock()
	l.errorTracker = tracker
	globalMu.Unlock()
}

// Get returns the global logger
func Get() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		base, _ := zap.NewDevelopment()
		globalLogger = &Logger{SugaredLogger: base.Sugar(), tags: map[string]string{}}
	}
	return globalLogger
}

// With creates a child logger with additional fields
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(args...),
		errorTracker:  l.errorTracker,
		tags:          l.tags,
	}
}

// Component returns a child logger scoped to a pipeline component.
// The component name is also used as tracker tag.
func (l *Logger) Component(name string) *Logger {
	return l.withTag("component", name)
}

// Security returns a child logger scoped to one security and timeframe.
// An empty timeframe is omitted.
func (l *Logger) Security(securityID, timeframe string) *Logger {
	child := l.withTag("security_id", securityID)
	if timeframe != "" {
		child = child.withTag("timeframe", timeframe)
	}
	return child
}

func (l *Logger) withTag(key, value string) *Logger {
	tags := make(map[string]string, len(l.tags)+1)
	for k, v := range l.tags {
		tags[k] = v
	}
	tags[key] = value
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(key, value),
		errorTracker:  l.errorTracker,
		tags:          tags,
	}
}

// Error logs an error and optionally sends it to error tracker
func (l *Logger) Error(args ...interface{}) {
	l.SugaredLogger.Error(args...)

	if l.errorTracker != nil {
		err := errors.Wrapf(errors.ErrInternal, "%v", fmt.Sprint(args...))
		_ = l.errorTracker.CaptureError(context.Background(), err, l.trackerTags(nil))
	}
}

// Errorf logs a formatted error and optionally sends it to error tracker
func (l *Logger) Errorf(template string, args ...interface{}) {
	l.SugaredLogger.Errorf(template, args...)

	if l.errorTracker != nil {
		err := fmt.Errorf(template, args...)
		_ = l.errorTracker.CaptureError(context.Background(), err, l.trackerTags(nil))
	}
}

// Errorw logs a structured error. The value of an "error" key, when it is
// an error, is forwarded to the tracker together with the string values.
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)

	if l.errorTracker == nil {
		return
	}
	var cause error
	extra := map[string]string{"message": msg}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		switch v := keysAndValues[i+1].(type) {
		case error:
			if key == "error" {
				cause = v
			}
		case string:
			extra[key] = v
		}
	}
	if cause == nil {
		cause = errors.Wrap(errors.ErrInternal, msg)
	}
	_ = l.errorTracker.CaptureError(context.Background(), cause, l.trackerTags(extra))
}

// Breadcrumb records a completed step on the tracker, if one is set
func (l *Logger) Breadcrumb(ctx context.Context, category, message string, data map[string]interface{}) {
	l.SugaredLogger.Debugw(message, "category", category)
	if l.errorTracker != nil {
		l.errorTracker.Breadcrumb(ctx, category, message, data)
	}
}

// ErrorWithContext logs an error with context and sends to error tracker
func (l *Logger) ErrorWithContext(ctx context.Context, err error, tags map[string]string) {
	l.SugaredLogger.Errorw(err.Error(), "error", err)

	if l.errorTracker != nil {
		_ = l.errorTracker.CaptureError(ctx, err, l.trackerTags(tags))
	}
}

func (l *Logger) trackerTags(extra map[string]string) map[string]string {
	out := make(map[string]string, len(l.tags)+len(extra)+1)
	out["component"] = "logger"
	for k, v := range l.tags {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Convenience functions that use the global logger
func Debug(args ...interface{})                   { Get().Debug(args...) }
func Debugf(template string, args ...interface{}) { Get().Debugf(template, args...) }
func Info(args ...interface{})                    { Get().Info(args...) }
func Infof(template string, args ...interface{})  { Get().Infof(template, args...) }
func Warn(args ...interface{})                    { Get().Warn(args...) }
func Warnf(template string, args ...interface{})  { Get().Warnf(template, args...) }
func Error(args ...interface{})                   { Get().Error(args...) }
func Errorf(template string, args ...interface{}) { Get().Errorf(template, args...) }
func Fatal(args ...interface{})                   { Get().Fatal(args...) }
func Fatalf(template string, args ...interface{}) { Get().Fatalf(template, args...) }

// Sync flushes any buffered log entries
func Sync() error {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
