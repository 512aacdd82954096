package ordermanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/catalog"
	"github.com/pms-engine/execcore/internal/gateway"
	"github.com/pms-engine/execcore/internal/orderbook"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

type fakeExchange struct {
	placed    []gateway.PlaceRequest
	cancelled []string
	placeErr  error
	nextID    int
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req gateway.PlaceRequest) (gateway.PlaceResponse, error) {
	if f.placeErr != nil {
		return gateway.PlaceResponse{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	f.nextID++
	return gateway.PlaceResponse{ExchangeOrderID: "ex-1"}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	f.cancelled = append(f.cancelled, exchangeOrderID)
	return nil
}

type fakeMirror struct {
	open map[string]bool
}

func newFakeMirror() *fakeMirror { return &fakeMirror{open: make(map[string]bool)} }

func (f *fakeMirror) SetOpen(accountID, clientOrderID string, o *orderbook.Order) {
	f.open[clientOrderID] = true
}
func (f *fakeMirror) RemoveOpen(accountID, clientOrderID string) {
	delete(f.open, clientOrderID)
}

type fakeRisk struct {
	calls int
}

func (f *fakeRisk) OnFill(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty, price, leverage float64) {
	f.calls++
}

type fakeEmitter struct {
	events []Event
}

func (f *fakeEmitter) Emit(e Event) { f.events = append(f.events, e) }

func newTestManager(ex *fakeExchange) (*Manager, *fakeMirror, *fakeRisk, *fakeEmitter) {
	registry := orderbook.NewRegistry(zap.NewNop())
	mirror := newFakeMirror()
	risk := &fakeRisk{}
	emitter := &fakeEmitter{}
	m := New(zap.NewNop(), registry, ex, catalog.New(), mirror, risk, emitter, "eng_")
	return m, mirror, risk, emitter
}

func TestPlaceMarketRegistersAndPlaces(t *testing.T) {
	ex := &fakeExchange{}
	m, _, _, _ := newTestManager(ex)

	o, err := m.PlaceMarket(context.Background(), "acct1", "BTC-USD", symbolfmt.OrderBuy, 1.0, 5, orderbook.OriginManual, "", false, nil, nil)
	require.NoError(t, err)
	assert.Len(t, ex.placed, 1)
	assert.Equal(t, orderbook.StatusPlacing, o.Status)

	got, ok := m.registry.LookupByClientID(o.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, "ex-1", got.ExchangeOrderID)
}

func TestPlaceFailureMarksOrderFailed(t *testing.T) {
	ex := &fakeExchange{placeErr: errors.New("boom")}
	m, _, _, emitter := newTestManager(ex)

	o, err := m.PlaceMarket(context.Background(), "acct1", "BTC-USD", symbolfmt.OrderBuy, 1.0, 5, orderbook.OriginManual, "", false, nil, nil)
	require.Error(t, err)

	got, ok := m.registry.LookupByClientID(o.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, orderbook.StatusFailed, got.Status)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, EventOrderFailed, emitter.events[0].Kind)
}

func TestOnOrderUpdateNewSetsActiveAndMirrors(t *testing.T) {
	ex := &fakeExchange{}
	m, mirror, _, emitter := newTestManager(ex)

	o, err := m.PlaceLimit(context.Background(), "acct1", "BTC-USD", symbolfmt.OrderBuy, 1.0, 100, 5, orderbook.OriginManual, "", false, nil, nil, nil)
	require.NoError(t, err)

	m.OnOrderUpdate(context.Background(), FeedEvent{ClientOrderID: o.ClientOrderID, ExchangeOrderID: "ex-1", Status: FeedNew})

	got, _ := m.registry.LookupByClientID(o.ClientOrderID)
	assert.Equal(t, orderbook.StatusActive, got.Status)
	assert.True(t, mirror.open[o.ClientOrderID])
	require.Len(t, emitter.events, 1)
	assert.Equal(t, EventOrderPlaced, emitter.events[0].Kind)
}

func TestOnOrderUpdateFilledNotifiesRiskAndUnmirrors(t *testing.T) {
	ex := &fakeExchange{}
	m, mirror, risk, _ := newTestManager(ex)

	var filledCalled bool
	o, err := m.PlaceMarket(context.Background(), "acct1", "BTC-USD", symbolfmt.OrderBuy, 1.0, 5, orderbook.OriginManual, "", false,
		func(o *orderbook.Order, fillPrice, fillQty float64) { filledCalled = true }, nil)
	require.NoError(t, err)

	m.OnOrderUpdate(context.Background(), FeedEvent{ClientOrderID: o.ClientOrderID, Status: FeedNew})
	m.OnOrderUpdate(context.Background(), FeedEvent{ClientOrderID: o.ClientOrderID, Status: FeedFilled, FillPrice: 100, FillQty: 1.0})

	got, _ := m.registry.LookupByClientID(o.ClientOrderID)
	assert.Equal(t, orderbook.StatusFilled, got.Status)
	assert.Equal(t, 1, risk.calls)
	assert.True(t, filledCalled)
	assert.False(t, mirror.open[o.ClientOrderID])
}

func TestOnOrderUpdateDuplicateFilledIsIdempotent(t *testing.T) {
	ex := &fakeExchange{}
	m, _, risk, _ := newTestManager(ex)

	o, err := m.PlaceMarket(context.Background(), "acct1", "BTC-USD", symbolfmt.OrderBuy, 1.0, 5, orderbook.OriginManual, "", false, nil, nil)
	require.NoError(t, err)

	m.OnOrderUpdate(context.Background(), FeedEvent{ClientOrderID: o.ClientOrderID, Status: FeedNew})
	m.OnOrderUpdate(context.Background(), FeedEvent{ClientOrderID: o.ClientOrderID, Status: FeedFilled, FillPrice: 100, FillQty: 1.0})
	m.OnOrderUpdate(context.Background(), FeedEvent{ClientOrderID: o.ClientOrderID, Status: FeedFilled, FillPrice: 100, FillQty: 1.0})

	assert.Equal(t, 1, risk.calls)
}

func TestOnOrderUpdateIgnoresForeignClientOrderIDs(t *testing.T) {
	ex := &fakeExchange{}
	m, _, _, emitter := newTestManager(ex)

	m.OnOrderUpdate(context.Background(), FeedEvent{ClientOrderID: "someoneelse_abc", Status: FeedNew})
	assert.Empty(t, emitter.events)
}

func TestCancelIsIdempotentOnTerminalOrder(t *testing.T) {
	ex := &fakeExchange{}
	m, _, _, _ := newTestManager(ex)

	o, err := m.PlaceMarket(context.Background(), "acct1", "BTC-USD", symbolfmt.OrderBuy, 1.0, 5, orderbook.OriginManual, "", false, nil, nil)
	require.NoError(t, err)
	m.OnOrderUpdate(context.Background(), FeedEvent{ClientOrderID: o.ClientOrderID, Status: FeedNew})
	m.OnOrderUpdate(context.Background(), FeedEvent{ClientOrderID: o.ClientOrderID, Status: FeedFilled, FillPrice: 100, FillQty: 1.0})

	ok, err := m.Cancel(context.Background(), o.ClientOrderID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, ex.cancelled)
}

func TestPlaceBatchLimitsChunksAtFive(t *testing.T) {
	ex := &fakeExchange{}
	m, _, _, _ := newTestManager(ex)

	levels := make([]struct{ Price, Quantity float64 }, 12)
	for i := range levels {
		levels[i] = struct{ Price, Quantity float64 }{Price: 100 + float64(i), Quantity: 1}
	}

	orders, err := m.PlaceBatchLimits(context.Background(), "acct1", "BTC-USD", symbolfmt.OrderBuy, levels, 5, orderbook.OriginScalper, "algo-1")
	require.NoError(t, err)
	assert.Len(t, orders, 12)
	assert.Len(t, ex.placed, 12)
}

func TestPlaceBatchPerItemFailureDoesNotFailBatch(t *testing.T) {
	ex := &fakeExchange{placeErr: errors.New("rejected")}
	m, _, _, emitter := newTestManager(ex)

	levels := []struct{ Price, Quantity float64 }{{Price: 100, Quantity: 1}, {Price: 101, Quantity: 1}}
	orders, err := m.PlaceBatchLimits(context.Background(), "acct1", "BTC-USD", symbolfmt.OrderBuy, levels, 5, orderbook.OriginScalper, "algo-1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	for _, o := range orders {
		got, _ := m.registry.LookupByClientID(o.ClientOrderID)
		assert.Equal(t, orderbook.StatusFailed, got.Status)
	}
	assert.Len(t, emitter.events, 2)
}
