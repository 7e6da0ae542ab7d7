package pipeline

import (
	"context"

	"trendboard/pkg/errors"
)

// Notifiers fans one outcome out to several notifiers. Every notifier is
// called; their errors are joined.
type Notifiers []Notifier

func (n Notifiers) Recomputed(ctx context.Context, result *Result) error {
	var errs errors.MultiError
	for _, notifier := range n {
		errs.Add(notifier.Recomputed(ctx, result))
	}
	return errs.ToError()
}

func (n Notifiers) Failed(ctx context.Context, result *Result, cause error) error {
	var errs errors.MultiError
	for _, notifier := range n {
		errs.Add(notifier.Failed(ctx, result, cause))
	}
	return errs.ToError()
}
