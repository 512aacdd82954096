package liquidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/positions"
)

func TestEvaluateTier3CloseAll(t *testing.T) {
	b := positions.New(zap.NewNop())
	b.SetAccount(positions.Account{ID: "a1", Balance: 700, Status: positions.AccountActive})
	b.Add(&positions.Position{ID: "p1", AccountID: "a1", Symbol: "BTCUSDT", Side: "long", Quantity: 0.1, EntryPrice: 65000, Notional: 6500})

	prices := func(symbol string) (float64, bool) { return 58000, true }

	eval, ok := Evaluate(b, prices, "a1", 0.005)
	require.True(t, ok)
	assert.Equal(t, "TIER_3_CLOSE_ALL", eval.Tier.Name)

	targets := Targets(eval)
	assert.Len(t, targets, 1)
}

func TestEvaluateNoTierWhenHealthy(t *testing.T) {
	b := positions.New(zap.NewNop())
	b.SetAccount(positions.Account{ID: "a1", Balance: 10000, Status: positions.AccountActive})
	b.Add(&positions.Position{ID: "p1", AccountID: "a1", Symbol: "BTCUSDT", Side: "long", Quantity: 0.1, EntryPrice: 65000, Notional: 6500})

	prices := func(symbol string) (float64, bool) { return 65100, true }

	_, ok := Evaluate(b, prices, "a1", 0.005)
	assert.False(t, ok)
}

func TestTargetsOnlyLargestForPartialTiers(t *testing.T) {
	eval := Evaluation{
		Tier: Tier{Name: "TIER_1_CLOSE_30", CloseFraction: 0.30},
		Largest: &positions.Position{ID: "big"},
		AllPositions: []*positions.Position{
			{ID: "small", Notional: 10},
			{ID: "big", Notional: 1000},
		},
	}
	targets := Targets(eval)
	require.Len(t, targets, 1)
	assert.Equal(t, "big", targets[0].ID)
}

func TestAdjustedThresholdNeverLoosens(t *testing.T) {
	assert.InDelta(t, 0.95, adjustedThreshold(0.95, 0.95), 1e-9)
	assert.Less(t, adjustedThreshold(0.95, 0.80), 0.95)
}
