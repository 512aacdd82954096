package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	c := New()
	c.Load([]SymbolInfo{
		{
			Symbol: "BTCUSDT", PriceTickSize: 0.01,
			LimitStepSize: 0.001, MarketStepSize: 0.001,
			MinQty: 0.001, MaxQty: 1000, MinNotional: 5,
		},
	})
	return c
}

func TestRoundPriceTruncatesDown(t *testing.T) {
	c := testCatalog()
	p, err := c.RoundPrice("BTCUSDT", 65001.239)
	require.NoError(t, err)
	assert.InDelta(t, 65001.23, p, 1e-9)
}

func TestRoundPriceIdempotentAndMonotone(t *testing.T) {
	c := testCatalog()
	p1, _ := c.RoundPrice("BTCUSDT", 65001.239)
	p2, _ := c.RoundPrice("BTCUSDT", p1)
	assert.Equal(t, p1, p2)

	low, _ := c.RoundPrice("BTCUSDT", 100.01)
	high, _ := c.RoundPrice("BTCUSDT", 200.01)
	assert.LessOrEqual(t, low, high)
}

func TestRoundQuantityClampsToMin(t *testing.T) {
	c := testCatalog()
	q, err := c.RoundQuantity("BTCUSDT", 0.0001, false)
	require.NoError(t, err)
	assert.Equal(t, 0.001, q)
}

func TestRoundQuantityClampsToMax(t *testing.T) {
	c := testCatalog()
	q, err := c.RoundQuantity("BTCUSDT", 5000, false)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, q)
}

func TestUnknownSymbol(t *testing.T) {
	c := testCatalog()
	_, err := c.RoundPrice("ETHUSDT", 1)
	assert.Error(t, err)
}
