package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trendboard/internal/adapters/errors/noop"
	"trendboard/pkg/errors"
)

func newTracked() (*Logger, *noop.Tracker) {
	tr := noop.New()
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), errorTracker: tr, tags: map[string]string{}}, tr
}

func TestErrorw_ForwardsCause(t *testing.T) {
	log, tr := newTracked()
	cause := errors.Wrap(errors.ErrIncompleteSeries, "daily")

	log.Component("trend").Security("15380", "daily").Errorw("label run failed", "error", cause, "run_id", "abc", "bars", 12)

	captures := tr.Captures()
	require.Len(t, captures, 1)
	assert.True(t, errors.Is(captures[0].Err, errors.ErrIncompleteSeries))
	assert.Equal(t, "trend", captures[0].Tags["component"])
	assert.Equal(t, "15380", captures[0].Tags["security_id"])
	assert.Equal(t, "daily", captures[0].Tags["timeframe"])
	assert.Equal(t, "abc", captures[0].Tags["run_id"])
	assert.Equal(t, "label run failed", captures[0].Tags["message"])
	_, hasBars := captures[0].Tags["bars"]
	assert.False(t, hasBars)
}

func TestErrorw_WithoutCause(t *testing.T) {
	log, tr := newTracked()

	log.Errorw("scheduler stalled")

	captures := tr.Captures()
	require.Len(t, captures, 1)
	assert.True(t, errors.Is(captures[0].Err, errors.ErrInternal))
}

func TestComponentTagsDoNotLeak(t *testing.T) {
	log, tr := newTracked()
	a := log.Component("ingest")
	_ = log.Component("pipeline")

	a.ErrorWithContext(context.Background(), errors.ErrUnavailable, map[string]string{"stage": "upsert"})

	captures := tr.Captures()
	require.Len(t, captures, 1)
	assert.Equal(t, "ingest", captures[0].Tags["component"])
	assert.Equal(t, "upsert", captures[0].Tags["stage"])
	assert.Empty(t, log.tags)
}

func TestBreadcrumb(t *testing.T) {
	log, tr := newTracked()
	log.Breadcrumb(context.Background(), "pipeline", "aggregated", nil)
	log.Breadcrumb(context.Background(), "pipeline", "labelled", map[string]interface{}{"labels": 3})
	assert.Equal(t, 2, tr.Breadcrumbs())

	untracked := &Logger{SugaredLogger: zap.NewNop().Sugar()}
	assert.NotPanics(t, func() { untracked.Breadcrumb(context.Background(), "pipeline", "x", nil) })
}
