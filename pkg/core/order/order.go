package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side of the book
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide parses "buy" or "sell"
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY":
		return Buy, nil
	case "sell", "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("invalid side: %q", s)
	}
}

// Status represents the lifecycle state of an order
// Open is the only non-terminal state; partially filled orders stay Open
type Status int8

const (
	Open Status = iota
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus parses an order status string
func ParseStatus(s string) (Status, error) {
	switch s {
	case "open":
		return Open, nil
	case "filled":
		return Filled, nil
	case "cancelled":
		return Cancelled, nil
	default:
		return 0, fmt.Errorf("invalid status: %q", s)
	}
}

// Order is a limit order on a trading pair
// The order store owns the authoritative record; the book only references it
type Order struct {
	ID     string // UUID assigned by the store
	Owner  string
	Symbol string // Market symbol (e.g., "BTC-USDT")
	Side   Side

	Price  decimal.Decimal // Limit price, quote asset per unit base
	Qty    decimal.Decimal // Total quantity in base asset
	Filled decimal.Decimal // Quantity filled so far

	Status Status

	// Seq is a process-wide monotonic counter used for deterministic
	// FIFO tie-breaking among orders at the same price
	Seq uint64

	// Timestamps (Unix milliseconds)
	CreatedAt int64
	UpdatedAt int64
}

// Remaining returns the unfilled quantity
func (o *Order) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.Filled)
}

// IsTerminal returns true once the order can no longer change state
func (o *Order) IsTerminal() bool {
	return o.Status == Filled || o.Status == Cancelled
}

// Trade is a completed fill between a taker and a maker order
// Immutable once appended to the trade log
type Trade struct {
	ID     uint64 // Strictly increasing in execution order
	Symbol string

	Price decimal.Decimal // Execution price (always the maker's price)
	Qty   decimal.Decimal

	TakerSide    Side
	TakerOrderID string
	MakerOrderID string
	Buyer        string // Owner of the buy-side order
	Seller       string // Owner of the sell-side order

	Timestamp int64 // Execution time (Unix milliseconds)
}
