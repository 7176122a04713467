package api

import "github.com/shopspring/decimal"

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's static configuration
type MarketInfo struct {
	Symbol      string          `json:"symbol"`     // e.g., "BTC-USDT"
	BaseAsset   string          `json:"baseAsset"`  // e.g., "BTC"
	QuoteAsset  string          `json:"quoteAsset"` // e.g., "USDT"
	Status      string          `json:"status"`     // "Active", "Paused", "Delisted"
	TickSize    decimal.Decimal `json:"tickSize"`
	LotSize     decimal.Decimal `json:"lotSize"`
	MinNotional decimal.Decimal `json:"minNotional"`
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`      // Sorted high to low
	Asks      []PriceLevel `json:"asks"`      // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel is one aggregated book level
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
	Orders int             `json:"orders"`
}

// TradeInfo represents an executed trade
type TradeInfo struct {
	ID        uint64          `json:"id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	TakerSide string          `json:"takerSide"` // "buy" or "sell"
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
}

// BalanceInfo is one asset's balance split
type BalanceInfo struct {
	Asset    string          `json:"asset"`
	Free     decimal.Decimal `json:"free"`
	Reserved decimal.Decimal `json:"reserved"`
	Total    decimal.Decimal `json:"total"`
}

// AccountInfo represents an account and its balances
type AccountInfo struct {
	Owner    string        `json:"owner"`
	Active   bool          `json:"active"`
	Balances []BalanceInfo `json:"balances"`
}

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	ID        string          `json:"id"`
	Owner     string          `json:"owner"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"` // "buy" or "sell"
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    string          `json:"status"`    // "open", "filled", "cancelled"
	CreatedAt int64           `json:"createdAt"` // Unix milliseconds
	UpdatedAt int64           `json:"updatedAt"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:BTC-USDT"]
}

// TradeUpdate is broadcast on channel "trades:<symbol>" when a trade executes
type TradeUpdate struct {
	Type      string          `json:"type"` // "trade"
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	TakerSide string          `json:"takerSide"`
	Timestamp int64           `json:"timestamp"`
}

// ==============================
// REST Request Types
// ==============================

// CreateAccountRequest is the payload for POST /api/v1/accounts
type CreateAccountRequest struct {
	Owner string `json:"owner"`
}

// TransferRequest is the payload for deposit and withdraw endpoints
type TransferRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// SubmitOrderRequest is the payload for POST /api/v1/orders
type SubmitOrderRequest struct {
	Owner  string          `json:"owner"`
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"` // "buy" or "sell"
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
}

// SubmitOrderResponse reports the taker order state after matching
type SubmitOrderResponse struct {
	Order  OrderInfo   `json:"order"`
	Trades []TradeInfo `json:"trades"` // Executed against this order, in order
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	Owner   string `json:"owner"`
	OrderID string `json:"orderId"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
