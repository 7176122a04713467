package tests

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/core/engine"
	"github.com/openspot/openspot/pkg/core/ledger"
	"github.com/openspot/openspot/pkg/core/market"
	"github.com/openspot/openspot/pkg/core/order"
	"github.com/openspot/openspot/pkg/util"
)

// newTestExchange wires a full exchange core: ledger, markets and engine,
// with a manual clock for deterministic timestamps.
func newTestExchange(t *testing.T) (*engine.Engine, *ledger.Ledger) {
	t.Helper()

	clock := util.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := zap.NewNop().Sugar()
	led := ledger.New(logger, clock)

	registry := market.NewRegistry()
	for _, symbol := range []string{"BTC-USDT", "ETH-USDT"} {
		base, quote, err := market.ParseSymbol(symbol)
		if err != nil {
			t.Fatalf("parse symbol %s: %v", symbol, err)
		}
		m, err := market.New(symbol, base, quote)
		if err != nil {
			t.Fatalf("new market %s: %v", symbol, err)
		}
		if err := registry.Register(m); err != nil {
			t.Fatalf("register market %s: %v", symbol, err)
		}
	}

	eng := engine.New(engine.Config{
		Logger:  logger,
		Clock:   clock,
		Ledger:  led,
		Markets: registry,
	})
	return eng, led
}

func fund(t *testing.T, led *ledger.Ledger, owner string, balances map[string]string) {
	t.Helper()
	starting := make(map[string]decimal.Decimal, len(balances))
	for asset, amount := range balances {
		starting[asset] = decimal.RequireFromString(amount)
	}
	if _, err := led.CreateAccount(owner, starting); err != nil {
		t.Fatalf("create account %s: %v", owner, err)
	}
}

func free(t *testing.T, led *ledger.Ledger, owner, asset string) decimal.Decimal {
	t.Helper()
	balances, err := led.Balances(owner)
	if err != nil {
		t.Fatalf("balances %s: %v", owner, err)
	}
	return balances[asset].Free
}

func reserved(t *testing.T, led *ledger.Ledger, owner, asset string) decimal.Decimal {
	t.Helper()
	balances, err := led.Balances(owner)
	if err != nil {
		t.Fatalf("balances %s: %v", owner, err)
	}
	return balances[asset].Reserved
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// TestSimpleMatchScenario walks one full trade: a resting ask is lifted by a
// crossing bid and both sides settle at the resting price.
func TestSimpleMatchScenario(t *testing.T) {
	eng, led := newTestExchange(t)
	fund(t, led, "alice", map[string]string{"USDT": "100000"})
	fund(t, led, "bob", map[string]string{"BTC": "10"})

	sellRes, err := eng.PlaceOrder("bob", "BTC-USDT", order.Sell, dec("50000"), dec("1"))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if len(sellRes.Trades) != 0 {
		t.Fatalf("sell should rest, executed %d trades", len(sellRes.Trades))
	}

	buyRes, err := eng.PlaceOrder("alice", "BTC-USDT", order.Buy, dec("50000"), dec("1"))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if len(buyRes.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(buyRes.Trades))
	}
	if !buyRes.Trades[0].Price.Equal(dec("50000")) {
		t.Errorf("trade price = %s, want 50000", buyRes.Trades[0].Price)
	}
	if buyRes.Order.Status != order.Filled {
		t.Errorf("taker status = %s, want filled", buyRes.Order.Status)
	}

	if got := free(t, led, "alice", "BTC"); !got.Equal(dec("1")) {
		t.Errorf("alice BTC = %s, want 1", got)
	}
	if got := free(t, led, "alice", "USDT"); !got.Equal(dec("50000")) {
		t.Errorf("alice USDT = %s, want 50000", got)
	}
	if got := free(t, led, "bob", "USDT"); !got.Equal(dec("50000")) {
		t.Errorf("bob USDT = %s, want 50000", got)
	}
	if got := free(t, led, "bob", "BTC"); !got.Equal(dec("9")) {
		t.Errorf("bob BTC = %s, want 9", got)
	}
}

// TestPriceImprovementRefundScenario: a bid priced above the best ask
// executes at the ask's price and the taker gets the difference back.
func TestPriceImprovementRefundScenario(t *testing.T) {
	eng, led := newTestExchange(t)
	fund(t, led, "alice", map[string]string{"USDT": "1000"})
	fund(t, led, "bob", map[string]string{"BTC": "1"})

	if _, err := eng.PlaceOrder("bob", "BTC-USDT", order.Sell, dec("90"), dec("1")); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	res, err := eng.PlaceOrder("alice", "BTC-USDT", order.Buy, dec("100"), dec("1"))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if len(res.Trades) != 1 || !res.Trades[0].Price.Equal(dec("90")) {
		t.Fatalf("expected one trade at 90, got %+v", res.Trades)
	}

	// Reserved 100, executed at 90: 910 free afterwards, nothing stuck.
	if got := free(t, led, "alice", "USDT"); !got.Equal(dec("910")) {
		t.Errorf("alice USDT = %s, want 910", got)
	}
	if got := reserved(t, led, "alice", "USDT"); !got.IsZero() {
		t.Errorf("alice USDT reserved = %s, want 0", got)
	}
}

// TestPartialFillThenCancelScenario: a large bid is partially filled by a
// smaller ask, then cancelled; only the unfilled remainder is released.
func TestPartialFillThenCancelScenario(t *testing.T) {
	eng, led := newTestExchange(t)
	fund(t, led, "alice", map[string]string{"USDT": "1000"})
	fund(t, led, "bob", map[string]string{"BTC": "10"})

	buyRes, err := eng.PlaceOrder("alice", "BTC-USDT", order.Buy, dec("100"), dec("5"))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	sellRes, err := eng.PlaceOrder("bob", "BTC-USDT", order.Sell, dec("100"), dec("2"))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if len(sellRes.Trades) != 1 || !sellRes.Trades[0].Qty.Equal(dec("2")) {
		t.Fatalf("expected fill of 2, got %+v", sellRes.Trades)
	}

	cancelled, err := eng.CancelOrder(buyRes.Order.ID, "alice")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != order.Cancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if !cancelled.Filled.Equal(dec("2")) {
		t.Errorf("filled = %s, want 2 (fills survive cancel)", cancelled.Filled)
	}

	// Spent 200 on the fill; 300 reserved for the remainder came back.
	if got := free(t, led, "alice", "USDT"); !got.Equal(dec("800")) {
		t.Errorf("alice USDT = %s, want 800", got)
	}
	if got := reserved(t, led, "alice", "USDT"); !got.IsZero() {
		t.Errorf("alice USDT reserved = %s, want 0", got)
	}
	if got := free(t, led, "alice", "BTC"); !got.Equal(dec("2")) {
		t.Errorf("alice BTC = %s, want 2", got)
	}
}

// TestTimePriorityScenario: two asks at the same price fill in arrival order.
func TestTimePriorityScenario(t *testing.T) {
	eng, led := newTestExchange(t)
	fund(t, led, "alice", map[string]string{"BTC": "1"})
	fund(t, led, "bob", map[string]string{"BTC": "1"})
	fund(t, led, "carol", map[string]string{"USDT": "1000"})

	aliceRes, err := eng.PlaceOrder("alice", "BTC-USDT", order.Sell, dec("100"), dec("1"))
	if err != nil {
		t.Fatalf("alice sell failed: %v", err)
	}
	if _, err := eng.PlaceOrder("bob", "BTC-USDT", order.Sell, dec("100"), dec("1")); err != nil {
		t.Fatalf("bob sell failed: %v", err)
	}

	res, err := eng.PlaceOrder("carol", "BTC-USDT", order.Buy, dec("100"), dec("1"))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	if res.Trades[0].MakerOrderID != aliceRes.Order.ID {
		t.Errorf("maker = %s, want alice's earlier order %s", res.Trades[0].MakerOrderID, aliceRes.Order.ID)
	}
	if res.Trades[0].Seller != "alice" {
		t.Errorf("seller = %s, want alice", res.Trades[0].Seller)
	}
}

// TestDoubleSpendPreventedScenario: funds reserved by an open order cannot
// back a second order.
func TestDoubleSpendPreventedScenario(t *testing.T) {
	eng, led := newTestExchange(t)
	fund(t, led, "alice", map[string]string{"USDT": "100"})

	if _, err := eng.PlaceOrder("alice", "BTC-USDT", order.Buy, dec("100"), dec("1")); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}

	_, err := eng.PlaceOrder("alice", "ETH-USDT", order.Buy, dec("100"), dec("1"))
	if err == nil {
		t.Fatal("second order should fail, funds are reserved")
	}
	if got := reserved(t, led, "alice", "USDT"); !got.Equal(dec("100")) {
		t.Errorf("reserved = %s, want 100", got)
	}
}

// TestTradeHistoryScenario: executed trades are reported most recent first
// with strictly increasing ids.
func TestTradeHistoryScenario(t *testing.T) {
	eng, led := newTestExchange(t)
	fund(t, led, "alice", map[string]string{"BTC": "10"})
	fund(t, led, "bob", map[string]string{"USDT": "100000"})

	prices := []string{"100", "101", "102"}
	for _, p := range prices {
		if _, err := eng.PlaceOrder("alice", "BTC-USDT", order.Sell, dec(p), dec("1")); err != nil {
			t.Fatalf("sell at %s failed: %v", p, err)
		}
		if _, err := eng.PlaceOrder("bob", "BTC-USDT", order.Buy, dec(p), dec("1")); err != nil {
			t.Fatalf("buy at %s failed: %v", p, err)
		}
	}

	trades := eng.RecentTrades("BTC-USDT", 0)
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	if !trades[0].Price.Equal(dec("102")) {
		t.Errorf("newest trade price = %s, want 102", trades[0].Price)
	}
	for i := 0; i < len(trades)-1; i++ {
		if trades[i].ID <= trades[i+1].ID {
			t.Errorf("trade ids not decreasing: %d then %d", trades[i].ID, trades[i+1].ID)
		}
	}
}
