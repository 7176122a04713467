package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewMarket(t *testing.T) {
	m, err := New("BTC-USDT", "BTC", "USDT")
	require.NoError(t, err)
	assert.Equal(t, Active, m.Status)
	assert.Equal(t, "BTC", m.BaseAsset)
	assert.Equal(t, "USDT", m.QuoteAsset)

	_, err = New("BTC-BTC", "BTC", "BTC")
	require.Error(t, err)

	_, err = New("", "BTC", "USDT")
	require.Error(t, err)
}

func TestParseSymbol(t *testing.T) {
	base, quote, err := ParseSymbol("ETH-USDT")
	require.NoError(t, err)
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "USDT", quote)

	for _, bad := range []string{"", "ETH", "ETH-", "-USDT", "ETH-USDT-X"} {
		_, _, err := ParseSymbol(bad)
		assert.Error(t, err, "symbol %q", bad)
	}
}

func TestValidateOrder(t *testing.T) {
	m, err := New("BTC-USDT", "BTC", "USDT")
	require.NoError(t, err)

	assert.NoError(t, m.ValidateOrder(d("100.5"), d("0.25")))
	assert.NoError(t, m.ValidateOrder(d("0.00000001"), d("0.00000001")))

	assert.Error(t, m.ValidateOrder(d("0"), d("1")))
	assert.Error(t, m.ValidateOrder(d("-1"), d("1")))
	assert.Error(t, m.ValidateOrder(d("100"), d("0")))
	assert.Error(t, m.ValidateOrder(d("100"), d("-2")))

	// More than 8 decimal places is rejected.
	assert.Error(t, m.ValidateOrder(d("0.000000001"), d("1")))
	assert.Error(t, m.ValidateOrder(d("100"), d("0.000000001")))
}

func TestValidateOrderConstraints(t *testing.T) {
	m, err := New("BTC-USDT", "BTC", "USDT")
	require.NoError(t, err)
	m.TickSize = d("0.5")
	m.LotSize = d("0.1")
	m.MinNotional = d("10")

	assert.NoError(t, m.ValidateOrder(d("100.5"), d("0.2")))

	assert.Error(t, m.ValidateOrder(d("100.3"), d("0.2")), "off-tick price")
	assert.Error(t, m.ValidateOrder(d("100.5"), d("0.25")), "off-lot quantity")
	assert.Error(t, m.ValidateOrder(d("10"), d("0.5")), "below min notional")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	btc, err := New("BTC-USDT", "BTC", "USDT")
	require.NoError(t, err)
	eth, err := New("ETH-USDT", "ETH", "USDT")
	require.NoError(t, err)

	require.NoError(t, r.Register(btc))
	require.NoError(t, r.Register(eth))
	require.ErrorIs(t, r.Register(btc), ErrExists)

	got, err := r.Get("BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", got.BaseAsset)

	_, err = r.Get("DOGE-USDT")
	require.ErrorIs(t, err, ErrNotFound)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "BTC-USDT", list[0].Symbol)
	assert.Equal(t, "ETH-USDT", list[1].Symbol)
}

func TestRegistryStatusTransitions(t *testing.T) {
	r := NewRegistry()
	m, err := New("BTC-USDT", "BTC", "USDT")
	require.NoError(t, err)
	require.NoError(t, r.Register(m))

	require.NoError(t, r.UpdateStatus("BTC-USDT", Paused))
	assert.Empty(t, r.ListActive())

	require.NoError(t, r.UpdateStatus("BTC-USDT", Active))
	assert.Len(t, r.ListActive(), 1)

	require.NoError(t, r.UpdateStatus("BTC-USDT", Delisted))
	// Delisting is permanent.
	require.Error(t, r.UpdateStatus("BTC-USDT", Active))
}
