package ordermanager

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/catalog"
	"github.com/pms-engine/execcore/internal/gateway"
	"github.com/pms-engine/execcore/internal/orderbook"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

const maxBatchSize = 5

// OpenOrdersMirror maintains the per-account open-orders hash: written on
// NEW, removed on terminal transitions, reconciled periodically.
type OpenOrdersMirror interface {
	SetOpen(accountID, clientOrderID string, order *orderbook.Order)
	RemoveOpen(accountID, clientOrderID string)
}

// FillNotifier is the risk engine's fill-handling entry point.
type FillNotifier interface {
	OnFill(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty, price, leverage float64)
}

// BatchPlacer is the optional exchange batch-order capability; when absent
// or when it errors, placement falls back to sequential per-order calls.
type BatchPlacer interface {
	PlaceBatch(ctx context.Context, reqs []gateway.PlaceRequest) ([]gateway.PlaceResponse, []error)
}

// Manager is the single place orders are placed, cancelled, or replaced.
type Manager struct {
	logger *zap.Logger

	registry *orderbook.Registry
	gw       gateway.Exchange
	batch    BatchPlacer
	cat      *catalog.Catalog
	mirror   OpenOrdersMirror
	risk     FillNotifier
	emitter  Emitter

	clientPrefix string
	seq          uint64
}

// New constructs an order manager wired to the registry and gateway.
func New(logger *zap.Logger, registry *orderbook.Registry, gw gateway.Exchange, cat *catalog.Catalog,
	mirror OpenOrdersMirror, risk FillNotifier, emitter Emitter, clientPrefix string) *Manager {
	var batch BatchPlacer
	if bp, ok := gw.(BatchPlacer); ok {
		batch = bp
	}
	return &Manager{
		logger: logger, registry: registry, gw: gw, batch: batch, cat: cat,
		mirror: mirror, risk: risk, emitter: emitter, clientPrefix: clientPrefix,
	}
}

func (m *Manager) nextSeq() uint64 {
	return atomic.AddUint64(&m.seq, 1)
}

// PlaceMarket places a market order.
func (m *Manager) PlaceMarket(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty, leverage float64,
	origin orderbook.Origin, parentID string, reduceOnly bool,
	onFill func(*orderbook.Order, float64, float64), onCancel func(*orderbook.Order, string)) (*orderbook.Order, error) {
	return m.place(ctx, accountID, symbol, side, orderbook.TypeMarket, qty, 0, 0, leverage, origin, parentID, reduceOnly, onFill, onCancel, nil)
}

// PlaceLimit places a limit order.
func (m *Manager) PlaceLimit(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty, price, leverage float64,
	origin orderbook.Origin, parentID string, reduceOnly bool,
	onFill func(*orderbook.Order, float64, float64), onCancel func(*orderbook.Order, string), onPartial func(*orderbook.Order)) (*orderbook.Order, error) {
	return m.place(ctx, accountID, symbol, side, orderbook.TypeLimit, qty, price, 0, leverage, origin, parentID, reduceOnly, onFill, onCancel, onPartial)
}

func (m *Manager) place(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, typ orderbook.Type,
	qty, price, stopPrice, leverage float64, origin orderbook.Origin, parentID string, reduceOnly bool,
	onFill func(*orderbook.Order, float64, float64), onCancel func(*orderbook.Order, string), onPartial func(*orderbook.Order)) (*orderbook.Order, error) {

	clientID, err := orderbook.NewClientOrderID(m.clientPrefix, accountID, typ)
	if err != nil {
		return nil, err
	}

	if m.cat != nil {
		if rq, err := m.cat.RoundQuantity(symbol, qty, typ == orderbook.TypeMarket); err == nil {
			qty = rq
		}
		if price != 0 {
			if rp, err := m.cat.RoundPrice(symbol, price); err == nil {
				price = rp
			}
		}
	}

	now := time.Now()
	o := &orderbook.Order{
		ClientOrderID: clientID, AccountID: accountID, Symbol: symbol, Side: side, Type: typ,
		Quantity: qty, LimitPrice: price, StopPrice: stopPrice, ReduceOnly: reduceOnly,
		Leverage: leverage, Origin: origin, ParentID: parentID,
		Status: orderbook.StatusIdle, CreatedAt: now, UpdatedAt: now,
		OnFill: onFill, OnCancel: onCancel, OnPartial: onPartial,
	}
	m.registry.Register(o)
	m.registry.Transition(clientID, orderbook.StatusPlacing)

	resp, err := m.gw.PlaceOrder(ctx, gateway.PlaceRequest{
		ClientOrderID: clientID, Symbol: symbol, Side: side, Type: string(typ),
		Quantity: qty, Price: price, StopPrice: stopPrice, ReduceOnly: reduceOnly,
	})
	if err != nil {
		m.registry.Transition(clientID, orderbook.StatusFailed)
		m.emit(EventOrderFailed, clientID, accountID, err.Error())
		return o, err
	}
	m.registry.UpdateExchangeID(clientID, resp.ExchangeOrderID)
	return o, nil
}

// PlaceBatchLimits places a batch of limit orders, chunked to the
// exchange's batch limit; any per-item failure marks only that order
// failed, it never fails the whole batch.
func (m *Manager) PlaceBatchLimits(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide,
	levels []struct{ Price, Quantity float64 }, leverage float64, origin orderbook.Origin, parentID string) ([]*orderbook.Order, error) {

	var out []*orderbook.Order
	for start := 0; start < len(levels); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(levels) {
			end = len(levels)
		}
		chunk := levels[start:end]
		out = append(out, m.placeBatchChunk(ctx, accountID, symbol, side, chunk, leverage, origin, parentID)...)
	}
	return out, nil
}

func (m *Manager) placeBatchChunk(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide,
	chunk []struct{ Price, Quantity float64 }, leverage float64, origin orderbook.Origin, parentID string) []*orderbook.Order {

	orders := make([]*orderbook.Order, len(chunk))
	reqs := make([]gateway.PlaceRequest, len(chunk))
	now := time.Now()

	for i, lvl := range chunk {
		qty, price := lvl.Quantity, lvl.Price
		if m.cat != nil {
			if rq, err := m.cat.RoundQuantity(symbol, qty, false); err == nil {
				qty = rq
			}
			if rp, err := m.cat.RoundPrice(symbol, price); err == nil {
				price = rp
			}
		}
		clientID, _ := orderbook.NewClientOrderID(m.clientPrefix, accountID, orderbook.TypeLimit)
		o := &orderbook.Order{
			ClientOrderID: clientID, AccountID: accountID, Symbol: symbol, Side: side, Type: orderbook.TypeLimit,
			Quantity: qty, LimitPrice: price, Leverage: leverage, Origin: origin, ParentID: parentID,
			Status: orderbook.StatusIdle, CreatedAt: now, UpdatedAt: now,
		}
		m.registry.Register(o)
		m.registry.Transition(clientID, orderbook.StatusPlacing)
		orders[i] = o
		reqs[i] = gateway.PlaceRequest{ClientOrderID: clientID, Symbol: symbol, Side: side, Type: string(orderbook.TypeLimit), Quantity: qty, Price: price}
	}

	if m.batch != nil {
		resps, errs := m.batch.PlaceBatch(ctx, reqs)
		if len(resps) == len(orders) && len(errs) == len(orders) {
			for i, o := range orders {
				if errs[i] != nil {
					m.registry.Transition(o.ClientOrderID, orderbook.StatusFailed)
					m.emit(EventOrderFailed, o.ClientOrderID, o.AccountID, errs[i].Error())
					continue
				}
				m.registry.UpdateExchangeID(o.ClientOrderID, resps[i].ExchangeOrderID)
			}
			return orders
		}
	}

	// Fallback: sequential placement.
	for i, o := range orders {
		resp, err := m.gw.PlaceOrder(ctx, reqs[i])
		if err != nil {
			m.registry.Transition(o.ClientOrderID, orderbook.StatusFailed)
			m.emit(EventOrderFailed, o.ClientOrderID, o.AccountID, err.Error())
			continue
		}
		m.registry.UpdateExchangeID(o.ClientOrderID, resp.ExchangeOrderID)
	}
	return orders
}

// Cancel cancels an order by client id. Idempotent: cancelling an
// already-terminal order returns false without error.
func (m *Manager) Cancel(ctx context.Context, clientID string) (bool, error) {
	o, ok := m.registry.LookupByClientID(clientID)
	if !ok {
		return false, fmt.Errorf("unknown client order id %s", clientID)
	}
	if orderbook.IsTerminal(o.Status) {
		return false, nil
	}

	target := o.ExchangeOrderID
	if target == "" {
		target = clientID
	}
	if err := m.gw.CancelOrder(ctx, target, o.Symbol); err != nil {
		return false, err
	}
	return true, nil
}

// CancelAllForSymbol cancels every open order on a symbol.
func (m *Manager) CancelAllForSymbol(ctx context.Context, symbol string) {
	for _, clientID := range m.registry.BySymbol(symbol) {
		m.Cancel(ctx, clientID)
	}
}

// CancelAllForAccount cancels every open order for an account.
func (m *Manager) CancelAllForAccount(ctx context.Context, accountID string) {
	for _, clientID := range m.registry.ByAccount(accountID) {
		m.Cancel(ctx, clientID)
	}
}

// Replace cancels the existing order then places a fresh one at the new
// price/quantity. If the cancel fails, no replacement is placed. If the
// exchange feed transitions the old order to filled while the cancel is
// in flight, the replacement is aborted — fills take precedence.
func (m *Manager) Replace(ctx context.Context, clientID string, newPrice float64, newQty *float64) (*orderbook.Order, error) {
	o, ok := m.registry.LookupByClientID(clientID)
	if !ok {
		return nil, fmt.Errorf("unknown client order id %s", clientID)
	}

	ok, err := m.Cancel(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cancel did not take effect, aborting replace")
	}

	// Re-check post-cancel: a feed-driven fill wins over the replace.
	if current, stillKnown := m.registry.LookupByClientID(clientID); stillKnown && current.Status == orderbook.StatusFilled {
		return nil, fmt.Errorf("order filled during replace, aborted")
	}

	qty := o.Quantity
	if newQty != nil {
		qty = *newQty
	}
	return m.PlaceLimit(ctx, o.AccountID, o.Symbol, o.Side, qty, newPrice, o.Leverage, o.Origin, o.ParentID, o.ReduceOnly, o.OnFill, o.OnCancel, o.OnPartial)
}

// OnOrderUpdate is the feed handler: demuxes an exchange order-update
// event into the registry's state machine, applies fills, and notifies
// the risk engine.
func (m *Manager) OnOrderUpdate(ctx context.Context, ev FeedEvent) {
	if !orderbook.HasEnginePrefix(ev.ClientOrderID, m.clientPrefix) {
		return
	}

	o, ok := m.registry.LookupByClientID(ev.ClientOrderID)
	if !ok {
		return
	}
	if ev.ExchangeOrderID != "" && o.ExchangeOrderID == "" {
		m.registry.UpdateExchangeID(ev.ClientOrderID, ev.ExchangeOrderID)
	}

	switch ev.Status {
	case FeedNew:
		if m.registry.Transition(ev.ClientOrderID, orderbook.StatusActive) {
			if m.mirror != nil {
				m.mirror.SetOpen(o.AccountID, ev.ClientOrderID, o)
			}
			if o.Type == orderbook.TypeLimit {
				m.emit(EventOrderPlaced, ev.ClientOrderID, o.AccountID, "")
			} else {
				m.emit(EventOrderActive, ev.ClientOrderID, o.AccountID, "")
			}
		}

	case FeedPartiallyFilled:
		m.registry.ApplyFill(ev.ClientOrderID, ev.FillPrice, ev.FillQty)
		if o.OnPartial != nil {
			o.OnPartial(o)
		}
		m.emit(EventOrderPartial, ev.ClientOrderID, o.AccountID, "")

	case FeedFilled:
		if !m.registry.Transition(ev.ClientOrderID, orderbook.StatusFilled) {
			// Duplicate terminal delivery: idempotent, do not double-process.
			return
		}
		m.registry.ApplyFill(ev.ClientOrderID, ev.FillPrice, ev.FillQty)
		if m.risk != nil {
			m.risk.OnFill(ctx, o.AccountID, o.Symbol, o.Side, ev.FillQty, ev.FillPrice, o.Leverage)
		}
		if o.OnFill != nil {
			o.OnFill(o, ev.FillPrice, ev.FillQty)
		}
		if m.mirror != nil {
			m.mirror.RemoveOpen(o.AccountID, ev.ClientOrderID)
		}
		m.emit(EventOrderFilled, ev.ClientOrderID, o.AccountID, "")

	case FeedCanceled, FeedExpired, FeedRejected:
		target := statusFor(ev.Status)
		if m.registry.Transition(ev.ClientOrderID, target) {
			if o.OnCancel != nil {
				o.OnCancel(o, ev.Reason)
			}
			if m.mirror != nil {
				m.mirror.RemoveOpen(o.AccountID, ev.ClientOrderID)
			}
			m.emit(EventOrderCancelled, ev.ClientOrderID, o.AccountID, ev.Reason)
		}
	}
}

func statusFor(fs FeedStatus) orderbook.Status {
	switch fs {
	case FeedCanceled:
		return orderbook.StatusCancelled
	case FeedExpired:
		return orderbook.StatusExpired
	default:
		return orderbook.StatusFailed
	}
}

func (m *Manager) emit(kind EventKind, clientID, accountID, reason string) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(Event{Kind: kind, Sequence: m.nextSeq(), ClientOrderID: clientID, AccountID: accountID, Reason: reason})
}

// RecoverColdStart reconciles durable-storage pending orders against
// exchange open orders: registers what appears in both and returns the
// client ids of pending-in-storage-but-not-on-exchange orders in
// cancelled. It does not change those orders in storage or in the
// registry.
func (m *Manager) RecoverColdStart(ctx context.Context, storagePending []*orderbook.Order, exchangeOpenClientIDs map[string]bool) (registered []string, cancelled []string) {
	for _, o := range storagePending {
		if exchangeOpenClientIDs[o.ClientOrderID] {
			m.registry.Register(o)
			m.registry.Transition(o.ClientOrderID, orderbook.StatusPlacing)
			m.registry.Transition(o.ClientOrderID, orderbook.StatusActive)
			registered = append(registered, o.ClientOrderID)
			continue
		}
		cancelled = append(cancelled, o.ClientOrderID)
	}
	return registered, cancelled
}
