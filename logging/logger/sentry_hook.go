package logger

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/ncobase/nsearch/ctxutil"
	"github.com/sirupsen/logrus"
)

// SentryHook forwards error level entries to Sentry
type SentryHook struct {
	hub     *sentry.Hub
	levels  []logrus.Level
	timeout time.Duration
}

// NewSentryHook creates a hook reporting through the current Sentry hub
func NewSentryHook() *SentryHook {
	return &SentryHook{
		hub:     sentry.CurrentHub(),
		levels:  []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
		timeout: 2 * time.Second,
	}
}

// Levels returns the levels reported to Sentry
func (h *SentryHook) Levels() []logrus.Level {
	return h.levels
}

// Fire sends the entry to Sentry
func (h *SentryHook) Fire(entry *logrus.Entry) error {
	hub := h.hub
	if hub == nil || hub.Client() == nil {
		return nil
	}
	hub = hub.Clone()

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(entry.Level))
		for k, v := range entry.Data {
			if k == logrus.ErrorKey {
				continue
			}
			if k == ctxutil.TraceIDKey {
				scope.SetTag(k, fmt.Sprint(v))
				continue
			}
			scope.SetExtra(k, v)
		}

		if err, ok := entry.Data[logrus.ErrorKey].(error); ok {
			hub.CaptureException(fmt.Errorf("%s: %w", entry.Message, err))
			return
		}
		hub.CaptureException(errors.New(entry.Message))
	})

	if entry.Level <= logrus.FatalLevel {
		hub.Flush(h.timeout)
	}
	return nil
}

func sentryLevel(level logrus.Level) sentry.Level {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return sentry.LevelFatal
	case logrus.ErrorLevel:
		return sentry.LevelError
	case logrus.WarnLevel:
		return sentry.LevelWarning
	case logrus.InfoLevel:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}
