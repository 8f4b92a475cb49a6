package market

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the listed pairs in a thread-safe manner.
// Lookups return copies; mutation goes through the registry only.
type Registry struct {
	mu    sync.RWMutex
	pairs map[string]*Pair // symbol -> pair
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pairs: make(map[string]*Pair)}
}

// NewDefaultRegistry returns a registry pre-loaded with the demo listing.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range DefaultPairs() {
		pair := p
		if err := r.Register(&pair); err != nil {
			// The default listing is static; a duplicate here is a
			// programming error.
			panic(err)
		}
	}
	return r
}

// Register adds a new pair to the registry.
// Returns an error if a pair with the same symbol already exists.
func (r *Registry) Register(p *Pair) error {
	if p == nil {
		return fmt.Errorf("cannot register nil pair")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pairs[p.Symbol]; exists {
		return fmt.Errorf("pair %s already registered", p.Symbol)
	}
	if p.Status == "" {
		p.Status = Active
	}

	r.pairs[p.Symbol] = p
	return nil
}

// Get retrieves a pair by symbol.
func (r *Registry) Get(symbol string) (Pair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.pairs[symbol]
	if !exists {
		return Pair{}, fmt.Errorf("pair %s not found", symbol)
	}
	return *p, nil
}

// List returns all registered pairs sorted by symbol.
func (r *Registry) List() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pairs := make([]Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		pairs = append(pairs, *p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Symbol < pairs[j].Symbol })
	return pairs
}

// Symbols returns all registered symbols sorted.
func (r *Registry) Symbols() []string {
	pairs := r.List()
	symbols := make([]string, len(pairs))
	for i, p := range pairs {
		symbols[i] = p.Symbol
	}
	return symbols
}

// SetStatus changes the trading status of a pair.
// Used for halting a listing without delisting it.
func (r *Registry) SetStatus(symbol string, status Status) error {
	if status != Active && status != Halted {
		return fmt.Errorf("unknown status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pairs[symbol]
	if !exists {
		return fmt.Errorf("pair %s not found", symbol)
	}
	p.Status = status
	return nil
}

// Exists checks if a pair is registered.
func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.pairs[symbol]
	return exists
}

// Count returns the number of registered pairs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairs)
}
