package twap

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/symbolfmt"
)

func TestLotScheduleEqualSplit(t *testing.T) {
	lots := LotSchedule(100, 4, false, rand.New(rand.NewSource(1)))
	assert.Equal(t, []float64{25, 25, 25, 25}, lots)
}

func TestLotScheduleIrregularSumsToTotal(t *testing.T) {
	lots := LotSchedule(100, 5, true, rand.New(rand.NewSource(42)))
	sum := 0.0
	for _, l := range lots {
		sum += l
	}
	assert.InDelta(t, 100, sum, 1e-6)
}

func TestPriceLimitViolated(t *testing.T) {
	assert.True(t, PriceLimitViolated(symbolfmt.OrderBuy, 101, 100))
	assert.False(t, PriceLimitViolated(symbolfmt.OrderBuy, 99, 100))
	assert.True(t, PriceLimitViolated(symbolfmt.OrderSell, 99, 100))
	assert.False(t, PriceLimitViolated(symbolfmt.OrderSell, 101, 100))
	assert.False(t, PriceLimitViolated(symbolfmt.OrderBuy, 150, 0))
}

func TestRunCompletesAllLots(t *testing.T) {
	var mu sync.Mutex
	var placedQtys []float64
	placeMarket := func(ctx context.Context, qty float64) error {
		mu.Lock()
		placedQtys = append(placedQtys, qty)
		mu.Unlock()
		return nil
	}
	tw := New("t1", Params{
		Symbol: "BTCUSDT", Side: symbolfmt.OrderBuy, TotalQuantity: 10,
		NumLots: 3, IntervalSeconds: 0, JitterPct: 0,
	}, zap.NewNop(), 7, placeMarket, nil)

	tw.Run(context.Background())

	filledLots, filledQty, status := tw.Progress()
	assert.Equal(t, 3, filledLots)
	assert.InDelta(t, 10, filledQty, 1e-6)
	assert.Equal(t, StatusCompleted, status)
	assert.Len(t, placedQtys, 3)
}

func TestCancelStopsRun(t *testing.T) {
	placeMarket := func(ctx context.Context, qty float64) error { return nil }
	tw := New("t2", Params{
		Symbol: "BTCUSDT", Side: symbolfmt.OrderBuy, TotalQuantity: 10,
		NumLots: 5, IntervalSeconds: 60, JitterPct: 0,
	}, zap.NewNop(), 7, placeMarket, nil)

	done := make(chan struct{})
	go func() {
		tw.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	tw.Cancel()
	<-done

	_, _, status := tw.Progress()
	assert.Equal(t, StatusCancelled, status)
}
