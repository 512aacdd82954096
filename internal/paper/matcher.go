// Package paper is an in-memory order-matching exchange used in place of
// a real venue for paper trading and local development: it implements
// gateway.Exchange so the rest of the system drives it exactly like a live
// exchange, with no special-casing at any call site.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/gateway"
	"github.com/pms-engine/execcore/internal/marketdata"
	"github.com/pms-engine/execcore/internal/ordermanager"
	"github.com/pms-engine/execcore/internal/orderbook"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// fillLatency simulates the network round trip between a fill's NEW and
// FILLED events, matching the observable two-event sequence a real feed
// produces.
const fillLatency = 10 * time.Millisecond

// Sink receives simulated exchange order-update events. ordermanager.Manager
// satisfies this directly.
type Sink interface {
	OnOrderUpdate(ctx context.Context, ev ordermanager.FeedEvent)
}

type pendingOrder struct {
	clientOrderID   string
	exchangeOrderID string
	symbol          string
	side            symbolfmt.OrderSide
	orderType       orderbook.Type
	quantity        float64
	price           float64
	stopPrice       float64
}

// Matcher is the matching engine: pending orders keyed by client order id,
// checked against every market-data tick for the order's symbol.
type Matcher struct {
	logger *zap.Logger
	md     *marketdata.FanOut
	sink   Sink

	mu        sync.Mutex
	pending   map[string]*pendingOrder
	nextID    int64
	fillCount uint64
}

// New constructs a matcher with no sink wired yet; call SetSink before
// traffic flows; an unset sink just logs a warning and drops the event.
func New(logger *zap.Logger, md *marketdata.FanOut) *Matcher {
	return &Matcher{
		logger:  logger,
		md:      md,
		pending: make(map[string]*pendingOrder),
		nextID:  100000000,
	}
}

// SetSink wires the order-update consumer, normally the live order manager.
func (m *Matcher) SetSink(sink Sink) {
	m.sink = sink
}

// PendingCount reports how many orders are still resting, for diagnostics.
func (m *Matcher) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// PlaceOrder registers a paper order, checks it against the last known
// tick for an immediate match, and otherwise leaves it resting until a
// subsequent tick satisfies its fill condition.
func (m *Matcher) PlaceOrder(ctx context.Context, req gateway.PlaceRequest) (gateway.PlaceResponse, error) {
	m.mu.Lock()
	m.nextID++
	exchangeID := fmt.Sprintf("%d", m.nextID)
	o := &pendingOrder{
		clientOrderID:   req.ClientOrderID,
		exchangeOrderID: exchangeID,
		symbol:          req.Symbol,
		side:            req.Side,
		orderType:       orderbook.Type(req.Type),
		quantity:        req.Quantity,
		price:           req.Price,
		stopPrice:       req.StopPrice,
	}

	var fillPrice float64
	var matched bool
	if tuple, ok := m.md.Latest(req.Symbol); ok {
		fillPrice, matched = checkFill(o, tuple.Bid, tuple.Ask)
	}
	if !matched {
		m.pending[req.ClientOrderID] = o
	}
	m.mu.Unlock()

	m.md.Subscribe(req.Symbol, func(t marketdata.Tuple) { m.onTick(ctx, t) })

	if matched {
		go m.fill(ctx, o, fillPrice)
	} else {
		go m.emitStatus(ctx, o, ordermanager.FeedNew, 0, 0, "")
	}
	return gateway.PlaceResponse{ExchangeOrderID: exchangeID}, nil
}

// CancelOrder removes a resting order and emits a CANCELED event. Cancelling
// an unknown or already-filled order is a no-op, matching a real exchange's
// "already gone" response.
func (m *Matcher) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	m.mu.Lock()
	var target *pendingOrder
	for coid, o := range m.pending {
		if o.exchangeOrderID == exchangeOrderID || coid == exchangeOrderID {
			target = o
			delete(m.pending, coid)
			break
		}
	}
	m.mu.Unlock()

	if target == nil {
		return nil
	}
	m.emitStatus(ctx, target, ordermanager.FeedCanceled, 0, 0, "cancelled")
	return nil
}

func (m *Matcher) onTick(ctx context.Context, t marketdata.Tuple) {
	type match struct {
		order *pendingOrder
		price float64
	}

	m.mu.Lock()
	var matches []match
	for coid, o := range m.pending {
		if o.symbol != t.Symbol {
			continue
		}
		if price, matched := checkFill(o, t.Bid, t.Ask); matched {
			matches = append(matches, match{order: o, price: price})
			delete(m.pending, coid)
		}
	}
	m.mu.Unlock()

	for _, mt := range matches {
		m.fill(ctx, mt.order, mt.price)
	}
}

// checkFill applies the per-type fill rule against current bid/ask,
// returning the fill price when the order's trigger condition is met.
func checkFill(o *pendingOrder, bid, ask float64) (float64, bool) {
	switch o.orderType {
	case orderbook.TypeMarket:
		if o.side == symbolfmt.OrderBuy {
			return ask, true
		}
		return bid, true

	case orderbook.TypeLimit:
		if o.side == symbolfmt.OrderBuy && ask <= o.price {
			return o.price, true
		}
		if o.side == symbolfmt.OrderSell && bid >= o.price {
			return o.price, true
		}

	case orderbook.TypeStopMarket:
		if o.side == symbolfmt.OrderBuy && ask >= o.stopPrice {
			return ask, true
		}
		if o.side == symbolfmt.OrderSell && bid <= o.stopPrice {
			return bid, true
		}

	case orderbook.TypeTakeProfitMarket:
		if o.side == symbolfmt.OrderBuy && ask <= o.stopPrice {
			return ask, true
		}
		if o.side == symbolfmt.OrderSell && bid >= o.stopPrice {
			return bid, true
		}
	}
	return 0, false
}

// fill emits the NEW-then-FILLED event pair a real feed would produce, with
// a small delay between them to simulate network latency.
func (m *Matcher) fill(ctx context.Context, o *pendingOrder, fillPrice float64) {
	m.emitStatus(ctx, o, ordermanager.FeedNew, 0, 0, "")
	time.Sleep(fillLatency)

	m.mu.Lock()
	m.fillCount++
	m.mu.Unlock()

	m.emitStatus(ctx, o, ordermanager.FeedFilled, fillPrice, o.quantity, "")
}

func (m *Matcher) emitStatus(ctx context.Context, o *pendingOrder, status ordermanager.FeedStatus, fillPrice, fillQty float64, reason string) {
	if m.sink == nil {
		m.logger.Warn("paper matcher has no sink wired, dropping event",
			zap.String("client_order_id", o.clientOrderID), zap.String("status", string(status)))
		return
	}
	m.sink.OnOrderUpdate(ctx, ordermanager.FeedEvent{
		ClientOrderID:   o.clientOrderID,
		ExchangeOrderID: o.exchangeOrderID,
		Status:          status,
		FillPrice:       fillPrice,
		FillQty:         fillQty,
		Reason:          reason,
	})
}
