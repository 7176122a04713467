package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openspot/openspot/pkg/core/order"
	"github.com/openspot/openspot/pkg/util"
)

// Store owns order records and their lifecycle state. Lifecycle mutations
// (fills, cancellation) additionally happen inside the engine's per-pair
// critical section; the store's own lock makes concurrent API reads safe
// and consistent. Query methods return copies, never live pointers.
type Store struct {
	clock util.Clock

	mu      sync.RWMutex
	orders  map[string]*order.Order
	byOwner map[string][]*order.Order
	seq     uint64
}

func NewStore(clock util.Clock) *Store {
	return &Store{
		clock:   clock,
		orders:  make(map[string]*order.Order),
		byOwner: make(map[string][]*order.Order),
	}
}

// Create inserts a new Open order, assigning its UUID and sequence number.
// Input validation happens before this point (market rules, ledger
// reservation); the store trusts its caller.
func (s *Store) Create(owner, symbol string, side order.Side, price, qty decimal.Decimal) *order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := s.clock.Now().UnixMilli()
	o := &order.Order{
		ID:        uuid.NewString(),
		Owner:     owner,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Qty:       qty,
		Filled:    decimal.Zero,
		Status:    order.Open,
		Seq:       s.seq,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.orders[o.ID] = o
	s.byOwner[owner] = append(s.byOwner[owner], o)
	return o
}

// Get returns a copy of the order.
func (s *Store) Get(id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return *o, nil
}

// live returns the mutable order record. Engine-internal: the pointer may
// only be mutated while holding the order's pair lock.
func (s *Store) live(id string) (*order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// RecordFill increases the filled quantity and transitions the order to
// Filled when it completes. Returns the resulting status.
func (s *Store) RecordFill(id string, qty decimal.Decimal) (order.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if o.Status != order.Open {
		return o.Status, fmt.Errorf("fill on %s order %s", o.Status, id)
	}
	if qty.GreaterThan(o.Remaining()) {
		return o.Status, fmt.Errorf("fill %s exceeds remaining %s on order %s", qty, o.Remaining(), id)
	}

	o.Filled = o.Filled.Add(qty)
	o.UpdatedAt = s.clock.Now().UnixMilli()
	if o.Filled.Equal(o.Qty) {
		o.Status = order.Filled
	}
	return o.Status, nil
}

// MarkCancelled transitions an Open order to Cancelled.
func (s *Store) MarkCancelled(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if o.Status != order.Open {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, o.Status)
	}

	o.Status = order.Cancelled
	o.UpdatedAt = s.clock.Now().UnixMilli()
	return nil
}

// ByOwner returns copies of all orders placed by an owner, oldest first.
func (s *Store) ByOwner(owner string) []order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]order.Order, 0, len(s.byOwner[owner]))
	for _, o := range s.byOwner[owner] {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ByMarket returns copies of orders on a pair with the given status,
// oldest first.
func (s *Store) ByMarket(symbol string, status order.Status) []order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []order.Order
	for _, o := range s.orders {
		if o.Symbol == symbol && o.Status == status {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Count returns the total number of orders ever created.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
