// Package engine implements synchronous match-on-submit order execution.
//
// Each trading pair has its own critical section: order placement and
// cancellation for a pair are serialized, so book lookups and ledger
// settlements never interleave for the same pair, while different pairs
// proceed fully in parallel. Matching is a bounded synchronous computation
// inside placement; there is no deferred matching loop.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/core/book"
	"github.com/openspot/openspot/pkg/core/ledger"
	"github.com/openspot/openspot/pkg/core/market"
	"github.com/openspot/openspot/pkg/core/order"
	"github.com/openspot/openspot/pkg/core/tradelog"
	"github.com/openspot/openspot/pkg/metrics"
	"github.com/openspot/openspot/pkg/util"
)

// Config wires the engine's collaborators.
type Config struct {
	Logger  *zap.SugaredLogger
	Clock   util.Clock
	Ledger  *ledger.Ledger
	Markets *market.Registry
	Metrics *metrics.Metrics

	// AllowSelfTrade permits an owner's orders to match each other. When
	// false (the default policy), same-owner resting orders are passed over
	// during matching and the incoming order keeps matching against other
	// owners at worse prices, resting afterwards if quantity remains.
	AllowSelfTrade bool
}

// Engine consumes newly placed orders, queries the book, executes trades
// against the ledger, updates the order store and appends to the trade log.
type Engine struct {
	log     *zap.SugaredLogger
	clock   util.Clock
	ledger  *ledger.Ledger
	markets *market.Registry
	metrics *metrics.Metrics
	store   *Store
	trades  *tradelog.Log

	allowSelfTrade bool

	pmu   sync.RWMutex
	pairs map[string]*pairBook
}

// pairBook is one market's book plus the mutex that serializes all
// mutations touching it.
type pairBook struct {
	mu   sync.Mutex
	book *book.Book
}

// PlaceResult reports the state of the taker order after matching and the
// trades it executed, in execution order.
type PlaceResult struct {
	Order  order.Order
	Trades []order.Trade
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New("openspot")
	}

	return &Engine{
		log:            logger,
		clock:          clock,
		ledger:         cfg.Ledger,
		markets:        cfg.Markets,
		metrics:        m,
		store:          NewStore(clock),
		trades:         tradelog.New(clock),
		allowSelfTrade: cfg.AllowSelfTrade,
		pairs:          make(map[string]*pairBook),
	}
}

// pair returns the pairBook for a symbol, creating it on first use.
func (e *Engine) pair(symbol string) *pairBook {
	e.pmu.RLock()
	pb, ok := e.pairs[symbol]
	e.pmu.RUnlock()
	if ok {
		return pb
	}

	e.pmu.Lock()
	defer e.pmu.Unlock()
	if pb, ok = e.pairs[symbol]; ok {
		return pb
	}
	pb = &pairBook{book: book.New(symbol)}
	e.pairs[symbol] = pb
	return pb
}

// crosses reports whether a taker at takerPrice can trade against a maker
// at makerPrice: a buy crosses asks priced at or below its limit, a sell
// crosses bids priced at or above its limit.
func crosses(takerSide order.Side, takerPrice, makerPrice decimal.Decimal) bool {
	if takerSide == order.Buy {
		return makerPrice.LessThanOrEqual(takerPrice)
	}
	return makerPrice.GreaterThanOrEqual(takerPrice)
}

// PlaceOrder validates, reserves, matches and (if quantity remains) rests a
// new limit order. The reservation covers the entire order quantity before
// any matching is attempted: quote notional at the limit price for a buy,
// base quantity for a sell. A failed validation or reservation leaves the
// book and ledger exactly as they were.
func (e *Engine) PlaceOrder(owner, symbol string, side order.Side, price, qty decimal.Decimal) (PlaceResult, error) {
	start := time.Now()
	defer func() {
		e.metrics.PlacementLatency.Observe(time.Since(start).Seconds())
	}()

	mkt, err := e.markets.Get(symbol)
	if err != nil {
		e.metrics.OrdersRejected.Inc()
		return PlaceResult{}, fmt.Errorf("%w: unknown market %s", ErrInvalidOrder, symbol)
	}
	if mkt.Status != market.Active {
		e.metrics.OrdersRejected.Inc()
		return PlaceResult{}, fmt.Errorf("%w: market %s is %s", ErrInvalidOrder, symbol, mkt.Status)
	}
	if err := mkt.ValidateOrder(price, qty); err != nil {
		e.metrics.OrdersRejected.Inc()
		return PlaceResult{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if !e.ledger.Exists(owner) {
		e.metrics.OrdersRejected.Inc()
		return PlaceResult{}, fmt.Errorf("%w: unknown owner %s", ErrInvalidOrder, owner)
	}

	// Reserve the full order up front. This is what prevents a double-spend
	// across orders placed back-to-back before either settles.
	reserveAsset := mkt.QuoteAsset
	reserveAmt := price.Mul(qty)
	if side == order.Sell {
		reserveAsset = mkt.BaseAsset
		reserveAmt = qty
	}
	if err := e.ledger.Reserve(owner, reserveAsset, reserveAmt); err != nil {
		e.metrics.OrdersRejected.Inc()
		return PlaceResult{}, err
	}

	pb := e.pair(symbol)
	pb.mu.Lock()
	defer pb.mu.Unlock()

	o := e.store.Create(owner, symbol, side, price, qty)
	e.metrics.OrdersPlaced.Inc()

	executed, err := e.match(pb, mkt, o)
	if err != nil {
		return PlaceResult{}, err
	}

	if o.Remaining().IsPositive() {
		pb.book.Insert(o)
	}
	e.updateDepthGauge(pb, symbol)

	snap := *o
	e.log.Infow("order_placed",
		"order_id", snap.ID, "owner", owner, "symbol", symbol,
		"side", side.String(), "price", price, "qty", qty,
		"filled", snap.Filled, "status", snap.Status.String(),
		"trades", len(executed))

	return PlaceResult{Order: snap, Trades: executed}, nil
}

// match runs the taker against the book until its limit price no longer
// crosses or its quantity is exhausted. Under the default self-trade
// policy the taker's own resting orders are passed over and matching
// continues against other owners at worse prices. Caller holds the pair
// lock.
func (e *Engine) match(pb *pairBook, mkt *market.Market, taker *order.Order) ([]order.Trade, error) {
	var executed []order.Trade

	for taker.Remaining().IsPositive() {
		var maker *order.Order
		if e.allowSelfTrade {
			maker = pb.book.BestOpposing(taker.Side)
		} else {
			maker = pb.book.BestOpposingExcluding(taker.Side, taker.Owner)
		}
		if maker == nil || !crosses(taker.Side, taker.Price, maker.Price) {
			break
		}

		// Price-time priority: execution at the resting order's price, for
		// the smaller of the two remaining quantities.
		execPrice := maker.Price
		execQty := decimal.Min(taker.Remaining(), maker.Remaining())

		buyer, seller := taker.Owner, maker.Owner
		if taker.Side == order.Sell {
			buyer, seller = maker.Owner, taker.Owner
		}

		if err := e.ledger.Settle(buyer, seller, mkt.BaseAsset, mkt.QuoteAsset, execPrice, execQty); err != nil {
			// Invariant violation: the reservations matching this fill are
			// missing. Abort this order's mutation, refund what is still
			// reserved for the taker, and surface the error.
			e.log.Errorw("settlement_failed",
				"symbol", mkt.Symbol, "taker", taker.ID, "maker", maker.ID,
				"price", execPrice, "qty", execQty, "err", err)
			e.abortTaker(mkt, taker)
			return executed, err
		}

		if st, err := e.store.RecordFill(maker.ID, execQty); err != nil {
			e.log.Errorw("maker_fill_failed", "maker", maker.ID, "err", err)
			return executed, err
		} else if st == order.Filled {
			// Removed the instant it becomes Filled.
			pb.book.Remove(maker.ID)
		}
		if _, err := e.store.RecordFill(taker.ID, execQty); err != nil {
			e.log.Errorw("taker_fill_failed", "taker", taker.ID, "err", err)
			return executed, err
		}

		// A buy taker reserved notional at its own limit price but executed
		// at the maker's (never worse) price; refund the difference.
		if taker.Side == order.Buy {
			refund := taker.Price.Sub(execPrice).Mul(execQty)
			if refund.IsPositive() {
				if err := e.ledger.Release(taker.Owner, mkt.QuoteAsset, refund); err != nil {
					e.log.Errorw("refund_failed", "taker", taker.ID, "err", err)
					return executed, err
				}
			}
		}

		t := e.trades.Append(mkt.Symbol, execPrice, execQty, taker.Side,
			taker.ID, maker.ID, buyer, seller)
		executed = append(executed, t)
		e.metrics.TradesExecuted.Inc()

		e.log.Infow("trade_executed",
			"trade_id", t.ID, "symbol", t.Symbol, "price", t.Price,
			"qty", t.Qty, "taker", t.TakerOrderID, "maker", t.MakerOrderID,
			"buyer", t.Buyer, "seller", t.Seller)
	}

	return executed, nil
}

// abortTaker releases whatever is still reserved for the taker after a
// settlement failure and retires the order. Executed fills stand.
func (e *Engine) abortTaker(mkt *market.Market, taker *order.Order) {
	remaining := taker.Remaining()
	if remaining.IsPositive() {
		asset := mkt.QuoteAsset
		amount := taker.Price.Mul(remaining)
		if taker.Side == order.Sell {
			asset = mkt.BaseAsset
			amount = remaining
		}
		if err := e.ledger.Release(taker.Owner, asset, amount); err != nil {
			e.log.Errorw("abort_release_failed", "taker", taker.ID, "err", err)
		}
	}
	if err := e.store.MarkCancelled(taker.ID); err != nil {
		e.log.Errorw("abort_cancel_failed", "taker", taker.ID, "err", err)
	}
}

// CancelOrder cancels an Open order on behalf of its owner, releasing the
// reservation backing the unfilled remainder. Cancelling an order that
// already reached a terminal state returns ErrAlreadyTerminal and has no
// ledger side effects.
func (e *Engine) CancelOrder(id, requester string) (order.Order, error) {
	snap, err := e.store.Get(id)
	if err != nil {
		return order.Order{}, err
	}

	mkt, err := e.markets.Get(snap.Symbol)
	if err != nil {
		return order.Order{}, fmt.Errorf("%w: unknown market %s", ErrInvalidOrder, snap.Symbol)
	}

	pb := e.pair(snap.Symbol)
	pb.mu.Lock()
	defer pb.mu.Unlock()

	// Re-read under the pair lock: the order may have filled or been
	// cancelled between the lookup and lock acquisition.
	o, ok := e.store.live(id)
	if !ok {
		return order.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if o.Owner != requester {
		return order.Order{}, fmt.Errorf("%w: order %s belongs to %s", ErrForbidden, id, o.Owner)
	}
	if o.Status != order.Open {
		return *o, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, o.Status)
	}

	pb.book.Remove(id)

	remaining := o.Remaining()
	if remaining.IsPositive() {
		asset := mkt.QuoteAsset
		amount := o.Price.Mul(remaining)
		if o.Side == order.Sell {
			asset = mkt.BaseAsset
			amount = remaining
		}
		if err := e.ledger.Release(o.Owner, asset, amount); err != nil {
			e.log.Errorw("cancel_release_failed", "order_id", id, "err", err)
			return order.Order{}, err
		}
	}

	if err := e.store.MarkCancelled(id); err != nil {
		return order.Order{}, err
	}
	e.metrics.OrdersCancelled.Inc()
	e.updateDepthGauge(pb, snap.Symbol)

	e.log.Infow("order_cancelled",
		"order_id", id, "owner", requester, "symbol", snap.Symbol,
		"released_qty", remaining)

	return *o, nil
}

// GetOrder returns a copy of an order by id.
func (e *Engine) GetOrder(id string) (order.Order, error) {
	return e.store.Get(id)
}

// OrdersByOwner returns all orders placed by an owner, oldest first.
func (e *Engine) OrdersByOwner(owner string) []order.Order {
	return e.store.ByOwner(owner)
}

// OrdersByMarket returns orders on a pair with the given status.
func (e *Engine) OrdersByMarket(symbol string, status order.Status) []order.Order {
	return e.store.ByMarket(symbol, status)
}

// RecentTrades returns executed trades most-recent-first.
func (e *Engine) RecentTrades(symbol string, limit int) []order.Trade {
	return e.trades.Recent(symbol, limit)
}

// Depth returns the aggregated book for a pair, best prices first.
func (e *Engine) Depth(symbol string, limit int) (bids, asks []book.Level, err error) {
	if _, err := e.markets.Get(symbol); err != nil {
		return nil, nil, err
	}

	pb := e.pair(symbol)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	bids, asks = pb.book.Depth(limit)
	return bids, asks, nil
}

// updateDepthGauge refreshes the open-order gauges for one pair. Caller
// holds the pair lock.
func (e *Engine) updateDepthGauge(pb *pairBook, symbol string) {
	e.metrics.OpenOrders.WithLabelValues(symbol, order.Buy.String()).Set(float64(pb.book.SideLen(order.Buy)))
	e.metrics.OpenOrders.WithLabelValues(symbol, order.Sell.String()).Set(float64(pb.book.SideLen(order.Sell)))
}
