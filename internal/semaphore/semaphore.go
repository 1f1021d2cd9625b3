// Package semaphore provides a named counting admission gate.
package semaphore

import (
	"context"
	"sync"
	"sync/atomic"

	xsem "golang.org/x/sync/semaphore"
)

// Semaphore bounds the number of concurrent holders of a named resource.
// Acquire has no timeout of its own: a holder that never calls its release
// function leaks the permit for the lifetime of the process.
type Semaphore struct {
	name  string
	limit int64
	sem   *xsem.Weighted
	inUse atomic.Int64
}

// New returns a semaphore admitting at most limit holders. A non-positive
// limit is treated as 1.
func New(name string, limit int) *Semaphore {
	if limit < 1 {
		limit = 1
	}
	return &Semaphore{
		name:  name,
		limit: int64(limit),
		sem:   xsem.NewWeighted(int64(limit)),
	}
}

// Acquire blocks until a permit is free and returns the function that gives
// it back. Calling the release function more than once is a no-op. The only
// error is the context's.
func (s *Semaphore) Acquire(ctx context.Context) (release func(), err error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	s.inUse.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.inUse.Add(-1)
			s.sem.Release(1)
		})
	}, nil
}

// Do runs fn while holding a permit.
func (s *Semaphore) Do(ctx context.Context, fn func() error) error {
	release, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Name returns the resource name the semaphore guards.
func (s *Semaphore) Name() string { return s.name }

// Limit returns the configured number of permits.
func (s *Semaphore) Limit() int64 { return s.limit }

// InUse is advisory; it is for observability only.
func (s *Semaphore) InUse() int64 { return s.inUse.Load() }

// Available is advisory; it is for observability only.
func (s *Semaphore) Available() int64 {
	avail := s.limit - s.inUse.Load()
	if avail < 0 {
		return 0
	}
	return avail
}
