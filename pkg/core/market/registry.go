package market

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all trading pairs in a thread-safe manner.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market // symbol -> market
}

func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
	}
}

// Register adds a new market. Returns ErrExists if the symbol is taken.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrExists, m.Symbol)
	}

	r.markets[m.Symbol] = m
	return nil
}

// Get retrieves a market by symbol.
func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[symbol]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	return m, nil
}

// List returns all registered markets sorted by symbol.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markets := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	return markets
}

// ListActive returns only markets currently accepting orders.
func (r *Registry) ListActive() []*Market {
	markets := r.List()
	active := markets[:0]
	for _, m := range markets {
		if m.Status == Active {
			active = append(active, m)
		}
	}
	return active
}

// UpdateStatus changes a market's trading status. Delisted is terminal.
func (r *Registry) UpdateStatus(symbol string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[symbol]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	if m.Status == Delisted {
		return fmt.Errorf("cannot change status of delisted market %s", symbol)
	}

	m.Status = status
	return nil
}

// Exists checks if a symbol is registered.
func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[symbol]
	return ok
}

// Count returns the number of registered markets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
