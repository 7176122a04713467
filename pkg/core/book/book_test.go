package book

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openspot/openspot/pkg/core/order"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var seq uint64

func newOrder(owner string, side order.Side, price, qty string) *order.Order {
	seq++
	return &order.Order{
		ID:     fmt.Sprintf("o-%d", seq),
		Owner:  owner,
		Symbol: "BTC-USDT",
		Side:   side,
		Price:  d(price),
		Qty:    d(qty),
		Filled: decimal.Zero,
		Status: order.Open,
		Seq:    seq,
	}
}

func TestBestOpposingPricePriority(t *testing.T) {
	b := New("BTC-USDT")

	b.Insert(newOrder("alice", order.Sell, "101", "1"))
	best := newOrder("bob", order.Sell, "100", "1")
	b.Insert(best)
	b.Insert(newOrder("carol", order.Sell, "102", "1"))

	got := b.BestOpposing(order.Buy)
	require.NotNil(t, got)
	assert.Equal(t, best.ID, got.ID, "lowest ask wins")

	b2 := New("BTC-USDT")
	b2.Insert(newOrder("alice", order.Buy, "99", "1"))
	bestBid := newOrder("bob", order.Buy, "100", "1")
	b2.Insert(bestBid)

	got = b2.BestOpposing(order.Sell)
	require.NotNil(t, got)
	assert.Equal(t, bestBid.ID, got.ID, "highest bid wins")
}

func TestFIFOWithinLevel(t *testing.T) {
	b := New("BTC-USDT")

	first := newOrder("alice", order.Sell, "100", "1")
	second := newOrder("bob", order.Sell, "100", "1")
	b.Insert(first)
	b.Insert(second)

	got := b.BestOpposing(order.Buy)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID, "earlier arrival has priority at equal price")

	b.Remove(first.ID)
	got = b.BestOpposing(order.Buy)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestEquivalentPricesShareLevel(t *testing.T) {
	b := New("BTC-USDT")

	first := newOrder("alice", order.Sell, "100", "1")
	second := newOrder("bob", order.Sell, "100.00", "1")
	b.Insert(first)
	b.Insert(second)

	_, asks := b.Depth(0)
	require.Len(t, asks, 1, "100 and 100.00 are the same level")
	assert.Equal(t, 2, asks[0].Orders)
}

func TestRemoveIsIdempotent(t *testing.T) {
	b := New("BTC-USDT")

	o := newOrder("alice", order.Buy, "100", "1")
	b.Insert(o)
	assert.True(t, b.Contains(o.ID))

	b.Remove(o.ID)
	assert.False(t, b.Contains(o.ID))
	assert.Nil(t, b.BestOpposing(order.Sell))

	// Removing again is a silent no-op.
	b.Remove(o.ID)
	b.Remove("never-existed")
	assert.Equal(t, 0, b.Len())
}

func TestRemoveMiddleOfLevel(t *testing.T) {
	b := New("BTC-USDT")

	first := newOrder("alice", order.Sell, "100", "1")
	middle := newOrder("bob", order.Sell, "100", "1")
	last := newOrder("carol", order.Sell, "100", "1")
	b.Insert(first)
	b.Insert(middle)
	b.Insert(last)

	b.Remove(middle.ID)

	got := b.BestOpposing(order.Buy)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	b.Remove(first.ID)
	got = b.BestOpposing(order.Buy)
	require.NotNil(t, got)
	assert.Equal(t, last.ID, got.ID)
}

func TestHeapRecoversAfterLevelRemoval(t *testing.T) {
	b := New("BTC-USDT")

	low := newOrder("alice", order.Sell, "100", "1")
	high := newOrder("bob", order.Sell, "105", "1")
	b.Insert(low)
	b.Insert(high)

	b.Remove(low.ID)

	got := b.BestOpposing(order.Buy)
	require.NotNil(t, got)
	assert.Equal(t, high.ID, got.ID, "next level becomes best after removal")
}

func TestBestOpposingExcludingSkipsOwner(t *testing.T) {
	b := New("BTC-USDT")

	own := newOrder("alice", order.Sell, "100", "1")
	other := newOrder("bob", order.Sell, "101", "1")
	b.Insert(own)
	b.Insert(other)

	// Best ask overall is alice's, but excluding her it is bob's worse level.
	got := b.BestOpposing(order.Buy)
	require.NotNil(t, got)
	assert.Equal(t, own.ID, got.ID)

	got = b.BestOpposingExcluding(order.Buy, "alice")
	require.NotNil(t, got)
	assert.Equal(t, other.ID, got.ID)

	// Excluding an owner with nothing resting changes nothing.
	got = b.BestOpposingExcluding(order.Buy, "carol")
	require.NotNil(t, got)
	assert.Equal(t, own.ID, got.ID)

	// Only the owner's orders resting: nothing to match.
	assert.Nil(t, b.BestOpposingExcluding(order.Buy, "bob"))
}

func TestBestOpposingExcludingFIFOWithinLevel(t *testing.T) {
	b := New("BTC-USDT")

	own := newOrder("alice", order.Sell, "100", "1")
	second := newOrder("bob", order.Sell, "100", "1")
	third := newOrder("carol", order.Sell, "100", "1")
	b.Insert(own)
	b.Insert(second)
	b.Insert(third)

	// Alice's order heads the queue; the next arrival at the level is chosen.
	got := b.BestOpposingExcluding(order.Buy, "alice")
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestBestOpposingExcludingBidSide(t *testing.T) {
	b := New("BTC-USDT")

	own := newOrder("alice", order.Buy, "100", "1")
	lower := newOrder("bob", order.Buy, "99", "1")
	b.Insert(own)
	b.Insert(lower)

	got := b.BestOpposingExcluding(order.Sell, "alice")
	require.NotNil(t, got)
	assert.Equal(t, lower.ID, got.ID, "next-best bid from another owner")
}

func TestDepthAggregation(t *testing.T) {
	b := New("BTC-USDT")

	b.Insert(newOrder("alice", order.Buy, "99", "2"))
	b.Insert(newOrder("bob", order.Buy, "100", "1"))
	b.Insert(newOrder("carol", order.Buy, "100", "3"))
	b.Insert(newOrder("dave", order.Sell, "101", "5"))
	b.Insert(newOrder("erin", order.Sell, "103", "1"))

	bids, asks := b.Depth(0)

	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(d("100")), "bids sorted high to low")
	assert.True(t, bids[0].Qty.Equal(d("4")))
	assert.Equal(t, 2, bids[0].Orders)
	assert.True(t, bids[1].Price.Equal(d("99")))

	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(d("101")), "asks sorted low to high")
	assert.True(t, asks[1].Price.Equal(d("103")))

	bids, asks = b.Depth(1)
	assert.Len(t, bids, 1)
	assert.Len(t, asks, 1)
}

func TestDepthUsesRemainingQty(t *testing.T) {
	b := New("BTC-USDT")

	o := newOrder("alice", order.Sell, "100", "5")
	o.Filled = d("2")
	b.Insert(o)

	_, asks := b.Depth(0)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Qty.Equal(d("3")))
}

func TestSideLen(t *testing.T) {
	b := New("BTC-USDT")
	b.Insert(newOrder("alice", order.Buy, "99", "1"))
	b.Insert(newOrder("bob", order.Buy, "98", "1"))
	b.Insert(newOrder("carol", order.Sell, "101", "1"))

	assert.Equal(t, 2, b.SideLen(order.Buy))
	assert.Equal(t, 1, b.SideLen(order.Sell))
	assert.Equal(t, 3, b.Len())
}
