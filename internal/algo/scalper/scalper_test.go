package scalper

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/algo/chase"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

func fakeChase(logger *zap.Logger, symbol string, side symbolfmt.OrderSide, qty float64) *chase.Chase {
	return chase.New("child", chase.Params{Symbol: symbol, Side: side, Quantity: qty}, logger,
		func(ctx context.Context, px float64) (string, error) { return "order-1", nil },
		func(ctx context.Context, orderID string) error { return nil })
}

func TestOffsetsSingleLayer(t *testing.T) {
	assert.Equal(t, []float64{0.5}, Offsets(0.5, 1))
}

func TestOffsetsGeometricMeanEqualsBase(t *testing.T) {
	offsets := Offsets(1.0, 5)
	product := 1.0
	for _, o := range offsets {
		product *= o
	}
	geoMean := math.Pow(product, 1.0/float64(len(offsets)))
	assert.InDelta(t, 1.0, geoMean, 1e-9)
}

func TestWeightsUniformWhenSkewZero(t *testing.T) {
	w := Weights(0, 4)
	maxW, minW := w[0], w[0]
	for _, v := range w {
		if v > maxW {
			maxW = v
		}
		if v < minW {
			minW = v
		}
	}
	assert.Less(t, maxW-minW, 1e-9)
}

func TestWeightsMonotonicWhenSkewPositive(t *testing.T) {
	w := Weights(50, 5)
	for i := 1; i < len(w); i++ {
		assert.GreaterOrEqual(t, w[i], w[i-1])
	}
}

func TestWeightsSumToOne(t *testing.T) {
	w := Weights(-30, 6)
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestFillSpreadAdmitsNoPriorFill(t *testing.T) {
	assert.True(t, FillSpreadAdmits(0, 100, 1, 0, time.Second))
}

func TestFillSpreadDecaysOverTime(t *testing.T) {
	admit := FillSpreadAdmits(100, 100.3, 1, 20*time.Second, 10*time.Second)
	assert.True(t, admit)
	reject := FillSpreadAdmits(100, 100.3, 1, 0, 10*time.Second)
	assert.False(t, reject)
}

func TestBurstAdmits(t *testing.T) {
	now := time.Now()
	times := []time.Time{now.Add(-10 * time.Second), now.Add(-20 * time.Second)}
	assert.True(t, BurstAdmits(times, now, 3))
	assert.False(t, BurstAdmits(times, now, 1))
}

func TestRefillDelayCapsAtFour(t *testing.T) {
	assert.Equal(t, RefillDelay(100, 4), RefillDelay(100, 10))
}

func TestPlaceFailureBackoffCapsAt300(t *testing.T) {
	assert.Equal(t, 300*time.Second, PlaceFailureBackoff(20))
	assert.Equal(t, 2*time.Second, PlaceFailureBackoff(1))
}

func TestPriceBandAdmits(t *testing.T) {
	assert.True(t, PriceBandAdmits(true, 100, 0, 0))
	assert.False(t, PriceBandAdmits(true, 101, 100, 0))
	assert.True(t, PriceBandAdmits(false, 100, 0, 101))
	assert.False(t, PriceBandAdmits(false, 99, 0, 101))
}

func scalperParams() Params {
	return Params{
		Symbol: "BTCUSDT", StartSide: symbolfmt.PositionLong, ChildCount: 3, Skew: 0,
		LongOffsetPct: 0.1, ShortOffsetPct: 0.1, LongSizeUSD: 150, ShortSizeUSD: 150,
		MinRefillDelayMs: 100,
	}
}

// Scenario: start_side=long, child_count=3, long_size_usd=150, skew=0,
// mid=100 — each opening layer gets an equal 50 USD share, which at a
// mid of 100 is a quantity of 0.5.
func TestPlaceSlotComputesQuantityFromUSDNotionalAtPrice(t *testing.T) {
	logger := zap.NewNop()
	var placedQty []float64
	placeChase := func(ctx context.Context, slot *Slot, price float64) (*chase.Chase, error) {
		placedQty = append(placedQty, slot.Qty)
		return fakeChase(logger, "BTCUSDT", slot.Side, slot.Qty), nil
	}
	cancelChase := func(ctx context.Context, c *chase.Chase) error { return nil }
	marketClose := func(ctx context.Context, side symbolfmt.OrderSide, qty float64) error { return nil }

	sc := New("s1", scalperParams(), logger, placeChase, cancelChase, marketClose)
	sc.Start(context.Background(), 100)

	if assert.Len(t, placedQty, 3) {
		for _, qty := range placedQty {
			assert.InDelta(t, 0.5, qty, 1e-9)
		}
	}
}

func TestPlaceSlotSkipsBelowMinNotional(t *testing.T) {
	logger := zap.NewNop()
	placed := 0
	placeChase := func(ctx context.Context, slot *Slot, price float64) (*chase.Chase, error) {
		placed++
		return fakeChase(logger, "BTCUSDT", slot.Side, slot.Qty), nil
	}
	cancelChase := func(ctx context.Context, c *chase.Chase) error { return nil }
	marketClose := func(ctx context.Context, side symbolfmt.OrderSide, qty float64) error { return nil }

	params := scalperParams()
	params.LongSizeUSD = 10 // 10/3 per layer, below the 5 USD floor
	sc := New("s1", params, logger, placeChase, cancelChase, marketClose)
	sc.Start(context.Background(), 100)

	assert.Equal(t, 0, placed)
}

// Scenario 4: the first opening-leg fill arms the reduce-only closing
// leg exactly once; a second fill must not arm it again.
func TestOnFillArmsClosingLegOnceAndPausesTheFilledSlot(t *testing.T) {
	logger := zap.NewNop()
	reduceOnlyPlacements := 0
	placeChase := func(ctx context.Context, slot *Slot, price float64) (*chase.Chase, error) {
		if slot.ReduceOnly {
			reduceOnlyPlacements++
		}
		return fakeChase(logger, "BTCUSDT", slot.Side, slot.Qty), nil
	}
	cancelChase := func(ctx context.Context, c *chase.Chase) error { return nil }
	marketClose := func(ctx context.Context, side symbolfmt.OrderSide, qty float64) error { return nil }

	sc := New("s1", scalperParams(), logger, placeChase, cancelChase, marketClose)
	sc.Start(context.Background(), 100)

	opening := sc.slots[0]
	sc.OnFill(context.Background(), opening, 100, time.Now())
	sc.OnFill(context.Background(), sc.slots[1], 100, time.Now())

	assert.Equal(t, 3, reduceOnlyPlacements)
	assert.False(t, opening.Active)
	assert.True(t, opening.Paused)
	assert.Equal(t, PauseRefillDelay, opening.PauseReason)
	assert.True(t, opening.RetryAt.After(time.Now()))
}
