package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendboard/pkg/errors"
)

type fakeRemote struct {
	held     map[string]bool
	released []string
}

func (f *fakeRemote) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if f.held[key] {
		return nil, errors.Wrapf(errors.ErrLockNotAcquired, "lock %s", key)
	}
	f.held[key] = true
	return func(context.Context) error {
		delete(f.held, key)
		f.released = append(f.released, key)
		return nil
	}, nil
}

func TestLocker_Remote(t *testing.T) {
	remote := &fakeRemote{held: map[string]bool{}}
	l := NewLocker(remote, time.Minute)
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "15380")
	require.NoError(t, err)
	assert.True(t, remote.held["pipeline:15380"])

	_, err = l.TryLock(ctx, "15380")
	assert.True(t, errors.Is(err, errors.ErrLockNotAcquired))

	unlock()
	assert.Equal(t, []string{"pipeline:15380"}, remote.released)
	assert.False(t, l.Held("15380"))
}

func TestLocker_RemoteHeldElsewhereReleasesLocal(t *testing.T) {
	remote := &fakeRemote{held: map[string]bool{"pipeline:15380": true}}
	l := NewLocker(remote, time.Minute)

	_, err := l.TryLock(context.Background(), "15380")
	assert.True(t, errors.Is(err, errors.ErrLockNotAcquired))
	assert.False(t, l.Held("15380"))
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(time.Hour)
	assert.True(t, th.Allow("15380"))
	assert.False(t, th.Allow("15380"))
	assert.True(t, th.Allow("11536"))

	off := NewThrottle(0)
	for i := 0; i < 3; i++ {
		assert.True(t, off.Allow("15380"))
	}
}
