package mainloop

import (
	"context"
	"runtime"
	"sync"

	"media-thumbnailer/internal/logging"
)

var log = logging.Tag("MainLoop")

// Poster delivers closures to the caller's thread.
type Poster interface {
	Post(fn func())
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(fn func())

// Post implements Poster.
func (f PosterFunc) Post(fn func()) {
	f(fn)
}

// Immediate runs every closure on the posting goroutine. Tests use it as a
// synchronous dispatcher.
type Immediate struct{}

// Post implements Poster.
func (Immediate) Post(fn func()) {
	fn()
}

// Loop is a single goroutine that runs posted closures one at a time, in
// the order they were posted. It is the only place completion callbacks
// run, so callers may touch their own state from them without locking.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	signal  chan struct{}
	running bool
	stopped bool
}

// NewLoop creates a loop. Nothing runs until Run is called.
func NewLoop() *Loop {
	return &Loop{signal: make(chan struct{}, 1)}
}

// Post queues fn. Closures posted after the loop has stopped run on the
// posting goroutine so that no completion is lost.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		log.Debug("Loop stopped, running posted closure inline")
		run(fn)
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of queued closures.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run processes posted closures on the calling goroutine, pinned to its OS
// thread, until ctx is done. Closures still queued at that point are run
// before Run returns. Run may only be called once.
func (l *Loop) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		log.Warn("Loop.Run called more than once")
		return
	}
	l.running = true
	l.mu.Unlock()

	for {
		select {
		case <-l.signal:
			l.drain()
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			run(fn)
		}
	}
}

// run keeps a panicking callback from taking the loop down.
func run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Posted closure panicked: %v", r)
		}
	}()
	fn()
}
