package noop

import (
	"context"
	"sync"

	"trendboard/pkg/errors"
)

// keep is the number of captures retained for inspection
const keep = 32

// Capture is one error handed to the tracker
type Capture struct {
	Err  error
	Tags map[string]string
}

// Tracker is used when error tracking is disabled. It sends nothing but
// keeps the most recent captures and the breadcrumb count.
type Tracker struct {
	mu          sync.Mutex
	captures    []Capture
	breadcrumbs int
}

var _ errors.Tracker = (*Tracker)(nil)

func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.captures) == keep {
		t.captures = t.captures[1:]
	}
	t.captures = append(t.captures, Capture{Err: err, Tags: tags})
	return nil
}

func (t *Tracker) Breadcrumb(ctx context.Context, category, message string, data map[string]interface{}) {
	t.mu.Lock()
	t.breadcrumbs++
	t.mu.Unlock()
}

func (t *Tracker) Flush(ctx context.Context) error {
	return nil
}

// Captures returns a copy of the retained captures, oldest first
func (t *Tracker) Captures() []Capture {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Capture(nil), t.captures...)
}

// Breadcrumbs returns how many breadcrumbs were recorded
func (t *Tracker) Breadcrumbs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.breadcrumbs
}
