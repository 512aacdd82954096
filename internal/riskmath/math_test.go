package riskmath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPNLSignTruthTable(t *testing.T) {
	cases := []struct {
		name   string
		side   Side
		entry  float64
		close  float64
		qty    float64
		expect float64
	}{
		{"long up is positive", Long, 100, 110, 1, 10},
		{"long down is negative", Long, 100, 90, 1, -10},
		{"short up is negative", Short, 100, 110, 1, -10},
		{"short down is positive", Short, 100, 90, 1, 10},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := PNL(c.side, c.entry, c.close, c.qty)
			assert.InDelta(t, c.expect, got, 1e-9)
		})
	}
}

func TestMarginUsageRatioSentinel(t *testing.T) {
	assert.Equal(t, LargeRatioSentinel, MarginUsageRatio(0, 10, 5))
	assert.Equal(t, LargeRatioSentinel, MarginUsageRatio(-5, 10, 5))
	assert.InDelta(t, 1.5, MarginUsageRatio(10, 10, 5), 1e-9)
}

func TestComputeAvailableMargin(t *testing.T) {
	res := ComputeAvailableMargin(10000, 0.005, 0.1995, 65.001, 0, 0)
	assert.InDelta(t, 10000.1995, res.Equity, 1e-6)
	assert.InDelta(t, 0.325005, res.MaintenanceMargin, 1e-6)
}

func TestComputeMarginFloorsLeverage(t *testing.T) {
	assert.InDelta(t, 100, ComputeMargin(100, 0), 1e-9)
	assert.InDelta(t, 50, ComputeMargin(100, 2), 1e-9)
}

func TestApproxLiquidationPriceDirection(t *testing.T) {
	longPrice := ApproxLiquidationPrice(Long, 65000, 0.1, 650, 0.005)
	assert.Less(t, longPrice, 65000.0)

	shortPrice := ApproxLiquidationPrice(Short, 65000, 0.1, 650, 0.005)
	assert.Greater(t, shortPrice, 65000.0)
}

func TestTradeSignatureDeterministic(t *testing.T) {
	in := TradeSignatureInput{
		AccountID: "acct1", Action: "open", PositionID: "pos1",
		Symbol: "BTCUSDT", Side: "long", Quantity: 0.001,
		TimestampMs: 1000, Nonce: "fixed-nonce",
	}
	a := TradeSignature(in)
	b := TradeSignature(in)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	in.Nonce = "different"
	c := TradeSignature(in)
	assert.NotEqual(t, a, c)
}
