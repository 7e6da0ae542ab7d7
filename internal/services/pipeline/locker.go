package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// RemoteLock is a cross-process lock backend (Redis)
type RemoteLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Locker serializes pipeline runs per security. The in-process guard is
// always taken; the remote lock is taken on top when configured.
type Locker struct {
	mu     sync.Mutex
	held   map[string]struct{}
	remote RemoteLock
	ttl    time.Duration
}

// NewLocker creates a locker. remote may be nil.
func NewLocker(remote RemoteLock, ttl time.Duration) *Locker {
	return &Locker{
		held:   make(map[string]struct{}),
		remote: remote,
		ttl:    ttl,
	}
}

// TryLock takes the lock of securityID without waiting. It returns
// ErrLockNotAcquired while another run holds it.
func (l *Locker) TryLock(ctx context.Context, securityID string) (unlock func(), err error) {
	l.mu.Lock()
	if _, busy := l.held[securityID]; busy {
		l.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrLockNotAcquired, "security %s", securityID)
	}
	l.held[securityID] = struct{}{}
	l.mu.Unlock()

	local := func() {
		l.mu.Lock()
		delete(l.held, securityID)
		l.mu.Unlock()
	}

	if l.remote == nil {
		return local, nil
	}

	release, err := l.remote.Acquire(ctx, "pipeline:"+securityID, l.ttl)
	if err != nil {
		local()
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			logger.Get().Component("pipeline").Warnw("release remote lock", "security_id", securityID, "error", err)
		}
		local()
	}, nil
}

// Held reports whether this process currently runs securityID
func (l *Locker) Held(securityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[securityID]
	return ok
}

// Throttle limits how often a recompute may be triggered per key
type Throttle struct {
	mu       sync.Mutex
	every    time.Duration
	limiters map[string]*rate.Limiter
}

// NewThrottle allows one trigger per key every minInterval. A non-positive
// interval disables throttling.
func NewThrottle(minInterval time.Duration) *Throttle {
	return &Throttle{every: minInterval, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether key may trigger now and consumes the token if so
func (t *Throttle) Allow(key string) bool {
	if t == nil || t.every <= 0 {
		return true
	}
	t.mu.Lock()
	lim, ok := t.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.every), 1)
		t.limiters[key] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}
