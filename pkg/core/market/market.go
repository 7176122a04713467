package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("market not found")
	ErrExists   = errors.New("market already registered")
)

// MaxDecimalPlaces bounds the scale accepted on order prices and
// quantities. The book keys price levels on a fixed-scale rendering, so
// finer values must be rejected at validation.
const MaxDecimalPlaces = 8

// Status defines the trading status of a market
type Status int8

const (
	Active   Status = iota // Trading enabled
	Paused                 // Trading halted (emergency)
	Delisted               // Market closed permanently
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Delisted:
		return "Delisted"
	default:
		return "Unknown"
	}
}

// Market defines one trading pair (e.g., BTC-USDT: base=BTC, quote=USDT).
// Prices are denominated in quote asset per unit base.
type Market struct {
	Symbol     string // "BTC-USDT"
	BaseAsset  string // "BTC"
	QuoteAsset string // "USDT"
	Status     Status

	// Optional constraints; zero value disables the check.
	TickSize    decimal.Decimal // Minimum price increment
	LotSize     decimal.Decimal // Minimum quantity increment
	MinNotional decimal.Decimal // Minimum order value in quote asset
}

// New creates an active market with no tick/lot/notional constraints.
func New(symbol, baseAsset, quoteAsset string) (*Market, error) {
	if symbol == "" || baseAsset == "" || quoteAsset == "" {
		return nil, fmt.Errorf("market requires symbol, base and quote assets")
	}
	if baseAsset == quoteAsset {
		return nil, fmt.Errorf("base and quote assets must differ: %s", baseAsset)
	}
	return &Market{
		Symbol:     symbol,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
		Status:     Active,
	}, nil
}

// ParseSymbol splits "BTC-USDT" into base and quote assets.
func ParseSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid market symbol: %q", symbol)
	}
	return parts[0], parts[1], nil
}

// ValidateOrder checks an order's price and quantity against the market's
// rules. It is a syntactic check only; balance checks live in the ledger.
func (m *Market) ValidateOrder(price, qty decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", price)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", qty)
	}
	if !price.Equal(price.Round(MaxDecimalPlaces)) {
		return fmt.Errorf("price %s exceeds %d decimal places", price, MaxDecimalPlaces)
	}
	if !qty.Equal(qty.Round(MaxDecimalPlaces)) {
		return fmt.Errorf("quantity %s exceeds %d decimal places", qty, MaxDecimalPlaces)
	}
	if m.TickSize.IsPositive() && !price.Mod(m.TickSize).IsZero() {
		return fmt.Errorf("price %s not a multiple of tick size %s", price, m.TickSize)
	}
	if m.LotSize.IsPositive() && !qty.Mod(m.LotSize).IsZero() {
		return fmt.Errorf("quantity %s not a multiple of lot size %s", qty, m.LotSize)
	}
	if m.MinNotional.IsPositive() && price.Mul(qty).LessThan(m.MinNotional) {
		return fmt.Errorf("notional %s below minimum %s", price.Mul(qty), m.MinNotional)
	}
	return nil
}
