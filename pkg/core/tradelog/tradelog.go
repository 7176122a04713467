// Package tradelog keeps the append-only, time-ordered record of executed
// trades. Trade ids are strictly increasing in execution order. Queries
// return trades most-recent-first.
package tradelog

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/openspot/openspot/pkg/core/order"
	"github.com/openspot/openspot/pkg/util"
)

// DefaultQueryLimit caps Recent() results when the caller passes no limit.
const DefaultQueryLimit = 50

// Log is the append-only trade history. Appends happen inside the engine's
// per-pair critical section; the mutex makes cross-pair appends and
// concurrent reads safe.
type Log struct {
	clock util.Clock

	mu     sync.RWMutex
	trades []order.Trade // chronological
	nextID uint64
}

func New(clock util.Clock) *Log {
	return &Log{clock: clock, nextID: 1}
}

// Append records one executed trade and returns it with its assigned id and
// timestamp. Trades are immutable once appended.
func (l *Log) Append(symbol string, price, qty decimal.Decimal, takerSide order.Side, takerOrderID, makerOrderID, buyer, seller string) order.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := order.Trade{
		ID:           l.nextID,
		Symbol:       symbol,
		Price:        price,
		Qty:          qty,
		TakerSide:    takerSide,
		TakerOrderID: takerOrderID,
		MakerOrderID: makerOrderID,
		Buyer:        buyer,
		Seller:       seller,
		Timestamp:    l.clock.Now().UnixMilli(),
	}
	l.nextID++
	l.trades = append(l.trades, t)
	return t
}

// Recent returns executed trades most-recent-first, optionally filtered by
// symbol (empty = all pairs). limit <= 0 applies DefaultQueryLimit.
func (l *Log) Recent(symbol string, limit int) []order.Trade {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]order.Trade, 0, limit)
	for i := len(l.trades) - 1; i >= 0 && len(out) < limit; i-- {
		t := l.trades[i]
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Len returns the total number of trades recorded.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}
