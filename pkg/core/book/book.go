// Package book implements a single-pair limit order book with price-time
// priority: best price first, then FIFO by arrival within a price level.
//
// The book holds references to orders owned by the order store; it never
// copies them authoritatively. It is not internally locked — all access is
// serialized by the matching engine's per-market critical section, which is
// what the correctness of match/cancel interleaving relies on.
package book

import (
	"container/heap"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/openspot/openspot/pkg/core/order"
)

// Level is an aggregated price level for depth snapshots.
type Level struct {
	Price  decimal.Decimal
	Qty    decimal.Decimal // Sum of remaining quantity at this price
	Orders int
}

// level is one price level: FIFO queue of resting orders.
type level struct {
	price  decimal.Decimal
	orders []*order.Order
}

type bookSide struct {
	side   order.Side
	levels map[string]*level // price key -> level
}

// Book maintains the two priced queues of open orders for one trading pair.
type Book struct {
	symbol string

	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap
	bids    bookSide
	asks    bookSide

	index map[string]order.Side // order ID -> side, for O(1) removal routing
}

func New(symbol string) *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		symbol:  symbol,
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    bookSide{side: order.Buy, levels: make(map[string]*level)},
		asks:    bookSide{side: order.Sell, levels: make(map[string]*level)},
		index:   make(map[string]order.Side),
	}
}

func (b *Book) Symbol() string { return b.symbol }

// priceKey renders a price at fixed scale so that equal prices with
// different decimal representations land on the same level.
func priceKey(p decimal.Decimal) string {
	return p.StringFixed(8)
}

// Insert places an open order at the back of its price level's FIFO queue.
// Insertion order equals sequence order because the engine inserts under the
// pair lock, so FIFO within a level is the spec'd tie-break.
func (b *Book) Insert(o *order.Order) {
	side := &b.bids
	if o.Side == order.Sell {
		side = &b.asks
	}

	key := priceKey(o.Price)
	lvl, ok := side.levels[key]
	if !ok {
		lvl = &level{price: o.Price}
		side.levels[key] = lvl
		if o.Side == order.Buy {
			heap.Push(b.bidHeap, o.Price)
		} else {
			heap.Push(b.askHeap, o.Price)
		}
	}
	lvl.orders = append(lvl.orders, o)
	b.index[o.ID] = o.Side
}

// BestOpposing returns the best-priced resting order on the side opposite
// the taker: lowest ask for a buy, highest bid for a sell. Nil when the
// opposing side is empty.
func (b *Book) BestOpposing(takerSide order.Side) *order.Order {
	if takerSide == order.Buy {
		return b.bestAsk()
	}
	return b.bestBid()
}

func (b *Book) bestBid() *order.Order {
	for {
		price, ok := b.bidHeap.Peek()
		if !ok {
			return nil
		}
		lvl, exists := b.bids.levels[priceKey(price)]
		if !exists || len(lvl.orders) == 0 {
			// Stale heap entry left by removal; drop and retry.
			heap.Pop(b.bidHeap)
			delete(b.bids.levels, priceKey(price))
			continue
		}
		return lvl.orders[0]
	}
}

func (b *Book) bestAsk() *order.Order {
	for {
		price, ok := b.askHeap.Peek()
		if !ok {
			return nil
		}
		lvl, exists := b.asks.levels[priceKey(price)]
		if !exists || len(lvl.orders) == 0 {
			heap.Pop(b.askHeap)
			delete(b.asks.levels, priceKey(price))
			continue
		}
		return lvl.orders[0]
	}
}

// Remove takes an order out of the book. It is a silent no-op when the
// order is absent, so the cancel / fill-completion race stays idempotent.
func (b *Book) Remove(id string) {
	side, ok := b.index[id]
	if !ok {
		return
	}

	levels := b.bids.levels
	if side == order.Sell {
		levels = b.asks.levels
	}

	for key, lvl := range levels {
		for i, o := range lvl.orders {
			if o.ID != id {
				continue
			}
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			if len(lvl.orders) == 0 {
				delete(levels, key)
				b.removeHeapPrice(side, lvl.price)
			}
			delete(b.index, id)
			return
		}
	}

	// Index said present but no level held it; keep the index consistent.
	delete(b.index, id)
}

// removeHeapPrice drops one price entry from a side's heap (O(N) scan, but
// only runs when a level empties).
func (b *Book) removeHeapPrice(side order.Side, price decimal.Decimal) {
	if side == order.Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i].Equal(price) {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i].Equal(price) {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// Contains reports whether an order currently rests in the book.
func (b *Book) Contains(id string) bool {
	_, ok := b.index[id]
	return ok
}

// BestOpposingExcluding returns the best-priced resting order on the side
// opposite the taker that is not owned by owner, passing over same-owner
// orders so an owner never trades with themselves. Levels made up entirely
// of the owner's orders are skipped; FIFO priority holds among the rest.
func (b *Book) BestOpposingExcluding(takerSide order.Side, owner string) *order.Order {
	levels := b.asks.levels
	better := func(p, q decimal.Decimal) bool { return p.LessThan(q) }
	if takerSide == order.Sell {
		levels = b.bids.levels
		better = func(p, q decimal.Decimal) bool { return p.GreaterThan(q) }
	}

	var best *order.Order
	for _, lvl := range levels {
		if best != nil && !better(lvl.price, best.Price) {
			continue
		}
		for _, o := range lvl.orders {
			if o.Owner != owner {
				best = o
				break
			}
		}
	}
	return best
}

// Depth returns aggregated bid and ask levels for display: bids high to
// low, asks low to high, at most limit levels per side (0 = all).
func (b *Book) Depth(limit int) (bids, asks []Level) {
	return b.sideDepth(&b.bids, limit), b.sideDepth(&b.asks, limit)
}

func (b *Book) sideDepth(side *bookSide, limit int) []Level {
	out := make([]Level, 0, len(side.levels))
	for _, lvl := range side.levels {
		if len(lvl.orders) == 0 {
			continue
		}
		total := decimal.Zero
		for _, o := range lvl.orders {
			total = total.Add(o.Remaining())
		}
		out = append(out, Level{Price: lvl.price, Qty: total, Orders: len(lvl.orders)})
	}

	// Best price first: bids descending, asks ascending.
	if side.side == order.Buy {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of resting orders across both sides.
func (b *Book) Len() int {
	return len(b.index)
}

// SideLen returns the number of resting orders on one side.
func (b *Book) SideLen(side order.Side) int {
	n := 0
	for _, s := range b.index {
		if s == side {
			n++
		}
	}
	return n
}
