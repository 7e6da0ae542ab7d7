package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"trendboard/pkg/errors"
)

const maxBreadcrumbs = 50

// Tracker reports pipeline failures to Sentry
type Tracker struct {
	hub          *sentry.Hub
	flushTimeout time.Duration
}

var _ errors.Tracker = (*Tracker)(nil)

// New initialises the Sentry client. release is the build version.
func New(dsn string, environment string, release string) (*Tracker, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:            dsn,
		Environment:    environment,
		Release:        release,
		MaxBreadcrumbs: maxBreadcrumbs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init sentry")
	}

	return &Tracker{
		hub:          sentry.CurrentHub(),
		flushTimeout: 2 * time.Second,
	}, nil
}

// CaptureError sends err with its tags. Events are grouped per stage and
// security so a recurring failure of one series stays one issue.
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	if err == nil {
		return nil
	}
	hub := t.hub.Clone()

	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetTag("error_kind", errors.Kind(err))

		fingerprint := []string{"{{ default }}"}
		if stage := tags["stage"]; stage != "" {
			fingerprint = append(fingerprint, stage)
		}
		if securityID := tags["security_id"]; securityID != "" {
			fingerprint = append(fingerprint, securityID)
		}
		scope.SetFingerprint(fingerprint)

		if deadline, ok := ctx.Deadline(); ok {
			scope.SetContext("request", sentry.Context{"deadline": deadline.UTC().Format(time.RFC3339)})
		}
	})

	hub.CaptureException(err)
	return nil
}

// Breadcrumb records a completed pipeline step on the shared hub
func (t *Tracker) Breadcrumb(ctx context.Context, category, message string, data map[string]interface{}) {
	t.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Data:      data,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}, nil)
}

// Flush waits for pending events, bounded by ctx and the flush timeout
func (t *Tracker) Flush(ctx context.Context) error {
	timeout := t.flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !sentry.Flush(timeout) {
		return errors.Wrapf(errors.ErrTimeout, "sentry flush after %s", timeout)
	}
	return nil
}
