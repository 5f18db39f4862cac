package decoder

import (
	"sync"
	"sync/atomic"

	"media-thumbnailer/internal/metrics"
)

// DefaultLedger counts the handles acquired by the built-in sources and
// the metadata reader.
var DefaultLedger = NewLedger()

// Ledger counts native handles that have been acquired and not yet
// released. After every request completes, Open must read zero.
type Ledger struct {
	open atomic.Int64

	mu     sync.Mutex
	byKind map[string]int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{byKind: make(map[string]int64)}
}

// Handle is one tracked native resource.
type Handle struct {
	kind    string
	ledger  *Ledger
	release func()
	once    sync.Once
}

// Track registers a resource of the given kind and returns its handle.
// release is called exactly once, by the first Handle.Release.
func (l *Ledger) Track(kind string, release func()) *Handle {
	l.open.Add(1)
	l.mu.Lock()
	l.byKind[kind]++
	l.mu.Unlock()

	metrics.OpenHandles.WithLabelValues(kind).Inc()
	metrics.HandlesAcquiredTotal.WithLabelValues(kind).Inc()

	return &Handle{kind: kind, ledger: l, release: release}
}

// Release frees the resource. Only the first call has any effect.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		defer h.ledger.untrack(h.kind)
		if h.release != nil {
			h.release()
		}
	})
}

// Kind returns the kind the handle was tracked under.
func (h *Handle) Kind() string {
	return h.kind
}

func (l *Ledger) untrack(kind string) {
	l.open.Add(-1)
	l.mu.Lock()
	l.byKind[kind]--
	if l.byKind[kind] == 0 {
		delete(l.byKind, kind)
	}
	l.mu.Unlock()
	metrics.OpenHandles.WithLabelValues(kind).Dec()
}

// Open returns the number of unreleased handles.
func (l *Ledger) Open() int64 {
	return l.open.Load()
}

// OpenByKind returns a snapshot of unreleased handles per kind.
func (l *Ledger) OpenByKind() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, len(l.byKind))
	for k, v := range l.byKind {
		out[k] = v
	}
	return out
}

// Scope collects the handles of one decode so they can be released
// together, newest first, on whatever path the decode exits by.
type Scope struct {
	ledger  *Ledger
	mu      sync.Mutex
	handles []*Handle
}

// Scope starts a new release scope on l.
func (l *Ledger) Scope() *Scope {
	return &Scope{ledger: l}
}

// Track registers a resource in the ledger and in the scope.
func (s *Scope) Track(kind string, release func()) *Handle {
	h := s.ledger.Track(kind, release)
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h
}

// Close releases every handle in reverse acquisition order. Handles that
// were already released individually are skipped. Safe to call repeatedly.
func (s *Scope) Close() {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		handles[i].Release()
	}
}
