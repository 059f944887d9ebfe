// Package concurrency bounds parallel calls to search backends.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Limiter bounds the number of concurrent executions
type Limiter struct {
	max       int32
	current   atomic.Int32
	semaphore chan struct{}

	total    atomic.Int64
	rejected atomic.Int64
}

// NewLimiter creates a limiter allowing max concurrent executions
func NewLimiter(max int32) (*Limiter, error) {
	if max <= 0 {
		return nil, fmt.Errorf("max concurrent must be positive, got: %d", max)
	}
	return &Limiter{
		max:       max,
		semaphore: make(chan struct{}, max),
	}, nil
}

// Acquire waits for a slot until ctx is done
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.semaphore <- struct{}{}:
		l.current.Add(1)
		l.total.Add(1)
		return nil
	case <-ctx.Done():
		l.rejected.Add(1)
		return fmt.Errorf("failed to acquire concurrency slot: %w", ctx.Err())
	}
}

// TryAcquire takes a slot without blocking
func (l *Limiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.current.Add(1)
		l.total.Add(1)
		return true
	default:
		return false
	}
}

// Release returns a slot. Releasing more than acquired panics.
func (l *Limiter) Release() {
	select {
	case <-l.semaphore:
		l.current.Add(-1)
	default:
		panic("concurrency: release without acquire")
	}
}

// Available returns the number of free slots
func (l *Limiter) Available() int32 {
	return l.max - l.current.Load()
}

// Stats returns usage counters
func (l *Limiter) Stats() map[string]int64 {
	return map[string]int64{
		"current":          int64(l.current.Load()),
		"total_executions": l.total.Load(),
		"rejected_count":   l.rejected.Load(),
	}
}

// ForEach calls fn for every i in [0, n) with at most limit calls in
// flight. The first error cancels the context seen by the other calls and
// is returned once every started call has finished.
func ForEach(ctx context.Context, limit int, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	l, err := NewLimiter(int32(limit))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	fail := func(err error) {
		once.Do(func() {
			first = err
			cancel()
		})
	}

	for i := 0; i < n; i++ {
		if err := l.Acquire(ctx); err != nil {
			fail(err)
			break
		}
		// a failed call cancels before releasing its slot
		if err := ctx.Err(); err != nil {
			l.Release()
			fail(err)
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer l.Release()
			if err := fn(ctx, i); err != nil {
				fail(err)
			}
		}(i)
	}
	wg.Wait()
	return first
}
