package workers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of requests decoding at once. Acquire blocks until
// a slot frees up or ctx is done, so time spent queueing counts against the
// caller's deadline.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// NewPool creates a pool with size slots. size < 1 is treated as 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Acquire takes a slot and returns the function that gives it back, along
// with how long the caller waited. The release function is idempotent.
func (p *Pool) Acquire(ctx context.Context) (release func(), waited time.Duration, err error) {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, time.Since(start), err
	}
	return p.releaser(), time.Since(start), nil
}

// TryAcquire takes a slot only if one is free right now.
func (p *Pool) TryAcquire() (release func(), ok bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	return p.releaser(), true
}

func (p *Pool) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { p.sem.Release(1) })
	}
}
