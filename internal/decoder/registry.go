package decoder

import (
	"fmt"
	"sort"
	"sync"
)

// Options is handed to every factory when a chain is built.
type Options struct {
	FFmpegPath string
	Ledger     *Ledger
	Inspector  Inspector
}

func (o Options) ledger() *Ledger {
	if o.Ledger == nil {
		return DefaultLedger
	}
	return o.Ledger
}

// Factory constructs a source. A factory returns an error when its backend
// is not usable on this host, for example when a shared library is missing.
type Factory func(Options) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a source available under name. Registering the same name
// twice replaces the earlier factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Registered returns the registered source names in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a chain from the named sources, in order. Sources whose
// factory fails or that were never registered are left out and reported in
// the returned map so the caller can log them.
func Build(names []string, opts Options) (*Chain, map[string]error) {
	opts.Ledger = opts.ledger()
	unavailable := make(map[string]error)

	var sources []Source
	for _, name := range names {
		registryMu.RLock()
		factory, ok := registry[name]
		registryMu.RUnlock()
		if !ok {
			unavailable[name] = fmt.Errorf("unknown decoder tier %q", name)
			continue
		}

		src, err := factory(opts)
		if err != nil {
			unavailable[name] = err
			continue
		}
		sources = append(sources, src)
	}

	chain := NewChain(sources...)
	if opts.Inspector != nil {
		chain.WithInspector(opts.Inspector)
	}
	return chain, unavailable
}
