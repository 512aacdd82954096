package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/algo/chase"
	"github.com/pms-engine/execcore/internal/algo/trailstop"
	"github.com/pms-engine/execcore/internal/catalog"
	"github.com/pms-engine/execcore/internal/gateway"
	"github.com/pms-engine/execcore/internal/marketdata"
	"github.com/pms-engine/execcore/internal/ordermanager"
	"github.com/pms-engine/execcore/internal/orderbook"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

type fakeSupervisorExchange struct {
	mu     sync.Mutex
	placed []gateway.PlaceRequest
}

func (f *fakeSupervisorExchange) PlaceOrder(ctx context.Context, req gateway.PlaceRequest) (gateway.PlaceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	return gateway.PlaceResponse{ExchangeOrderID: "ex-" + req.ClientOrderID}, nil
}

func (f *fakeSupervisorExchange) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	return nil
}

func (f *fakeSupervisorExchange) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func newTestSupervisor(ex *fakeSupervisorExchange) (*AlgoSupervisor, *marketdata.FanOut) {
	logger := zap.NewNop()
	registry := orderbook.NewRegistry(logger)
	om := ordermanager.New(logger, registry, ex, catalog.New(), nil, nil, nil, "eng_")
	md := marketdata.New(logger, nil)
	return NewAlgoSupervisor(logger, om, md, "eng_"), md
}

func seedTuple(md *marketdata.FanOut, symbol string, bid, ask float64) {
	md.OnSnapshot(marketdata.Snapshot{
		Symbol: symbol,
		Bids:   []marketdata.PriceLevel{{Price: bid, Size: 1}},
		Asks:   []marketdata.PriceLevel{{Price: ask, Size: 1}},
	}, time.Now())
}

func TestStartChasePlacesInitialOrder(t *testing.T) {
	ex := &fakeSupervisorExchange{}
	sup, md := newTestSupervisor(ex)
	seedTuple(md, "BTCUSDT", 99, 101)

	id, err := sup.StartChase(context.Background(), "acct1", chase.Params{
		Symbol: "BTCUSDT", Side: symbolfmt.OrderBuy, Quantity: 1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, ex.count())
}

func TestStartChaseWithNoMarketDataErrors(t *testing.T) {
	ex := &fakeSupervisorExchange{}
	sup, _ := newTestSupervisor(ex)

	_, err := sup.StartChase(context.Background(), "acct1", chase.Params{Symbol: "ETHUSDT", Side: symbolfmt.OrderBuy, Quantity: 1})
	assert.Error(t, err)
}

func TestCancelChaseUnknownIDErrors(t *testing.T) {
	ex := &fakeSupervisorExchange{}
	sup, _ := newTestSupervisor(ex)

	err := sup.CancelChase(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestCancelChaseCancelsUnderlyingOrder(t *testing.T) {
	ex := &fakeSupervisorExchange{}
	sup, md := newTestSupervisor(ex)
	seedTuple(md, "BTCUSDT", 99, 101)

	id, err := sup.StartChase(context.Background(), "acct1", chase.Params{Symbol: "BTCUSDT", Side: symbolfmt.OrderBuy, Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, sup.CancelChase(context.Background(), id))
}

func TestStartTrailStopDisarmedAfterCancelDoesNotPlaceCloseOrder(t *testing.T) {
	ex := &fakeSupervisorExchange{}
	sup, md := newTestSupervisor(ex)
	seedTuple(md, "BTCUSDT", 100, 100)

	id, err := sup.StartTrailStop(context.Background(), "acct1", trailstop.Params{
		Symbol: "BTCUSDT", Side: symbolfmt.PositionLong, TrailPct: 1, ActivatePx: 0,
	}, 1.0)
	require.NoError(t, err)

	// Set the watermark at 101 while the trail stop is still armed.
	seedTuple(md, "BTCUSDT", 101, 101)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, sup.CancelTrailStop(id))

	// Feed a tick that would trigger the trail (price retraces well past 1%)
	// after cancellation; the disarmed callback must not place a close.
	seedTuple(md, "BTCUSDT", 90, 90)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, ex.count())
}

func TestCancelTrailStopUnknownIDErrors(t *testing.T) {
	ex := &fakeSupervisorExchange{}
	sup, _ := newTestSupervisor(ex)

	err := sup.CancelTrailStop("does-not-exist")
	assert.Error(t, err)
}
