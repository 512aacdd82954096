package paper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/gateway"
	"github.com/pms-engine/execcore/internal/marketdata"
	"github.com/pms-engine/execcore/internal/ordermanager"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

type fakeSink struct {
	mu     sync.Mutex
	events []ordermanager.FeedEvent
}

func (f *fakeSink) OnOrderUpdate(ctx context.Context, ev ordermanager.FeedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeSink) snapshot() []ordermanager.FeedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ordermanager.FeedEvent(nil), f.events...)
}

func seedTuple(md *marketdata.FanOut, symbol string, bid, ask float64) {
	md.OnSnapshot(marketdata.Snapshot{
		Symbol: symbol,
		Bids:   []marketdata.PriceLevel{{Price: bid, Size: 1}},
		Asks:   []marketdata.PriceLevel{{Price: ask, Size: 1}},
	}, time.Now())
}

func TestPlaceMarketOrderFillsImmediately(t *testing.T) {
	md := marketdata.New(zap.NewNop(), nil)
	seedTuple(md, "BTCUSDT", 99, 101)

	m := New(zap.NewNop(), md)
	sink := &fakeSink{}
	m.SetSink(sink)

	_, err := m.PlaceOrder(context.Background(), gateway.PlaceRequest{
		ClientOrderID: "co1", Symbol: "BTCUSDT", Side: symbolfmt.OrderBuy, Type: "market", Quantity: 1,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	events := sink.snapshot()
	assert.Equal(t, ordermanager.FeedNew, events[0].Status)
	assert.Equal(t, ordermanager.FeedFilled, events[1].Status)
	assert.Equal(t, 101.0, events[1].FillPrice)
}

func TestPlaceLimitOrderRestsUntilPriceCrosses(t *testing.T) {
	md := marketdata.New(zap.NewNop(), nil)
	seedTuple(md, "BTCUSDT", 99, 101)

	m := New(zap.NewNop(), md)
	sink := &fakeSink{}
	m.SetSink(sink)

	_, err := m.PlaceOrder(context.Background(), gateway.PlaceRequest{
		ClientOrderID: "co2", Symbol: "BTCUSDT", Side: symbolfmt.OrderBuy, Type: "limit", Quantity: 1, Price: 95,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(sink.snapshot()) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, len(sink.snapshot()))
	assert.Equal(t, 1, m.PendingCount())

	seedTuple(md, "BTCUSDT", 90, 94)

	assert.Eventually(t, func() bool {
		return len(sink.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)
	events := sink.snapshot()
	assert.Equal(t, ordermanager.FeedFilled, events[2].Status)
	assert.Equal(t, 95.0, events[2].FillPrice)
	assert.Equal(t, 0, m.PendingCount())
}

func TestCancelOrderRemovesPendingAndEmitsCancelled(t *testing.T) {
	md := marketdata.New(zap.NewNop(), nil)
	seedTuple(md, "ETHUSDT", 1000, 1001)

	m := New(zap.NewNop(), md)
	sink := &fakeSink{}
	m.SetSink(sink)

	resp, err := m.PlaceOrder(context.Background(), gateway.PlaceRequest{
		ClientOrderID: "co3", Symbol: "ETHUSDT", Side: symbolfmt.OrderSell, Type: "limit", Quantity: 1, Price: 2000,
	})
	require.NoError(t, err)
	require.Equal(t, 1, m.PendingCount())

	require.NoError(t, m.CancelOrder(context.Background(), resp.ExchangeOrderID, "ETHUSDT"))
	assert.Equal(t, 0, m.PendingCount())

	assert.Eventually(t, func() bool {
		events := sink.snapshot()
		return len(events) > 0 && events[len(events)-1].Status == ordermanager.FeedCanceled
	}, time.Second, 5*time.Millisecond)
}

func TestCancelUnknownOrderIsNoop(t *testing.T) {
	md := marketdata.New(zap.NewNop(), nil)
	m := New(zap.NewNop(), md)
	m.SetSink(&fakeSink{})

	assert.NoError(t, m.CancelOrder(context.Background(), "does-not-exist", "BTCUSDT"))
}

func TestStopMarketBuyTriggersOnAskCross(t *testing.T) {
	md := marketdata.New(zap.NewNop(), nil)
	seedTuple(md, "BTCUSDT", 99, 100)

	m := New(zap.NewNop(), md)
	sink := &fakeSink{}
	m.SetSink(sink)

	_, err := m.PlaceOrder(context.Background(), gateway.PlaceRequest{
		ClientOrderID: "co4", Symbol: "BTCUSDT", Side: symbolfmt.OrderBuy, Type: "stop_market", Quantity: 1, StopPrice: 105,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.PendingCount())

	seedTuple(md, "BTCUSDT", 104, 106)

	assert.Eventually(t, func() bool { return m.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		events := sink.snapshot()
		return len(events) >= 2 && events[len(events)-1].FillPrice == 106
	}, time.Second, 5*time.Millisecond)
}
