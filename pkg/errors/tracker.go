package errors

import (
	"context"
)

// Tracker forwards failures to an external error tracker (Sentry)
type Tracker interface {
	// CaptureError reports err with the given tags
	CaptureError(ctx context.Context, err error, tags map[string]string) error

	// Breadcrumb records a completed pipeline step. The trail is attached
	// to the next captured error.
	Breadcrumb(ctx context.Context, category, message string, data map[string]interface{})

	// Flush waits for pending events
	Flush(ctx context.Context) error
}

// PipelineTags builds the tag set attached to every pipeline failure so a
// tracked error can be retried for the same security/timeframe/stage.
func PipelineTags(securityID, timeframe, stage string) map[string]string {
	tags := map[string]string{
		"component": "pipeline",
		"stage":     stage,
	}
	if securityID != "" {
		tags["security_id"] = securityID
	}
	if timeframe != "" {
		tags["timeframe"] = timeframe
	}
	return tags
}

// StageOf returns the pipeline stage recorded in a failure chain, or "".
func StageOf(err error) string {
	var se *StageError
	if As(err, &se) {
		return se.Stage
	}
	return ""
}

// StageError marks the pipeline stage an error came from
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// InStage wraps err with its stage. nil stays nil.
func InStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
