// Package limiter implements fixed-window usage quotas over a pluggable
// counter store.
package limiter

import (
	"context"
	"fmt"
	"time"
)

// CounterStore keeps integer counters by key. Implementations must be safe for
// concurrent use.
type CounterStore interface {
	Count(ctx context.Context, key string) (int64, error)
	// Increment adds one to key and returns the new value. ttl bounds how
	// long the counter must survive.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Decision reports the state of a quota after a check.
type Decision struct {
	Allowed bool
	Used    int64
	Limit   int64
	ResetIn time.Duration
}

// Limiter counts events per key within fixed windows of a given length.
type Limiter struct {
	store  CounterStore
	window time.Duration
	now    func() time.Time
}

func New(store CounterStore, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, window: window, now: time.Now}
}

// Check reports whether key still has room under limit without consuming any.
func (l *Limiter) Check(ctx context.Context, key string, limit int64) (Decision, error) {
	wkey, resetIn := l.windowKey(key)
	used, err := l.store.Count(ctx, wkey)
	if err != nil {
		return Decision{}, fmt.Errorf("read counter %s: %w", key, err)
	}
	return Decision{Allowed: limit < 0 || used < limit, Used: used, Limit: limit, ResetIn: resetIn}, nil
}

// Allow consumes one unit when the quota has room. A denied call leaves the
// counter untouched. A negative limit means unlimited.
func (l *Limiter) Allow(ctx context.Context, key string, limit int64) (Decision, error) {
	d, err := l.Check(ctx, key, limit)
	if err != nil || !d.Allowed {
		return d, err
	}
	wkey, _ := l.windowKey(key)
	used, err := l.store.Increment(ctx, wkey, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("increment counter %s: %w", key, err)
	}
	d.Used = used
	if limit >= 0 && used > limit {
		// lost a race with a concurrent caller
		d.Allowed = false
	}
	return d, nil
}

// Reset clears the current window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	wkey, _ := l.windowKey(key)
	return l.store.Reset(ctx, wkey)
}

func (l *Limiter) windowKey(key string) (string, time.Duration) {
	now := l.now()
	idx := now.UnixNano() / int64(l.window)
	end := time.Unix(0, (idx+1)*int64(l.window))
	return fmt.Sprintf("%s:%d", key, idx), end.Sub(now)
}
