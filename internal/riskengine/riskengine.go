package riskengine

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/liquidation"
	"github.com/pms-engine/execcore/internal/positions"
	"github.com/pms-engine/execcore/internal/riskmath"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// TradeRowWriter persists an append-only trade/balance-log row; the
// journal of record for reconciliation and audit.
type TradeRowWriter interface {
	WriteTradeRow(ctx context.Context, row TradeRow) error
}

// TradeRow is one persisted trade/balance-log entry.
type TradeRow struct {
	Signature  string
	AccountID  string
	PositionID string
	Symbol     string
	Side       symbolfmt.PositionSide
	Action     string // OPEN | ADD | REDUCE | CLOSE
	Quantity   float64
	Price      float64
	RealizedPNL float64
	Timestamp  time.Time
}

// Closer issues reduce-only market closes, used by liquidation execution.
type Closer interface {
	ReduceOnlyClose(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty float64, origin string) error
}

// PriceLookup resolves a symbol's current mark price.
type PriceLookup func(symbol string) (mid float64, ok bool)

const riskSnapshotThrottle = time.Second

// Engine wires position book, validator rules, and liquidation evaluation.
type Engine struct {
	logger     *zap.Logger
	book       *positions.Book
	maintRate  float64
	prices     PriceLookup
	closer     Closer
	trades     TradeRowWriter
	emitter    Emitter

	mu                sync.Mutex
	lastSnapshotEmit  map[string]time.Time
}

// New constructs a risk engine over an existing position book.
func New(logger *zap.Logger, book *positions.Book, maintRate float64, prices PriceLookup, closer Closer, trades TradeRowWriter, emitter Emitter) *Engine {
	return &Engine{
		logger: logger, book: book, maintRate: maintRate, prices: prices,
		closer: closer, trades: trades, emitter: emitter,
		lastSnapshotEmit: make(map[string]time.Time),
	}
}

// OnFill classifies a fill against find_position and applies the
// open/add/partial-close/full-close/flip transition.
func (e *Engine) OnFill(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty, price, leverage float64) {
	positionSide := symbolfmt.ToPositionSide(side)
	opposite := symbolfmt.OppositePositionSide(positionSide)

	if existing, ok := e.book.FindPosition(accountID, symbol, opposite); ok {
		e.applyAgainstOpposite(ctx, accountID, symbol, side, positionSide, qty, price, leverage, existing)
		return
	}

	if existing, ok := e.book.FindPosition(accountID, symbol, positionSide); ok {
		e.addToSameSide(ctx, accountID, existing, qty, price, leverage)
		return
	}

	e.openPosition(ctx, accountID, symbol, positionSide, qty, price, leverage)
}

func (e *Engine) openPosition(ctx context.Context, accountID, symbol string, side symbolfmt.PositionSide, qty, price, leverage float64) {
	notional := qty * price
	margin := riskmath.ComputeMargin(notional, leverage)
	liqPrice := riskmath.ApproxLiquidationPrice(riskmath.Side(side), price, qty, margin, e.maintRate)

	p := &positions.Position{
		ID: ksuid.New().String(), AccountID: accountID, Symbol: symbol, Side: side,
		EntryPrice: price, Quantity: qty, Notional: notional, Leverage: leverage,
		InitialMargin: margin, LiquidationPrice: liqPrice, MarkPrice: price,
	}
	e.book.Add(p)
	e.writeTradeRow(ctx, p, "OPEN", qty, price, 0)
	e.emit(EventPositionUpdated, accountID, symbol, p.ID, false)
	e.emit(EventMarginUpdate, accountID, symbol, p.ID, false)
}

func (e *Engine) addToSameSide(ctx context.Context, accountID string, p *positions.Position, qty, price, leverage float64) {
	totalQty := p.Quantity + qty
	weightedEntry := (p.EntryPrice*p.Quantity + price*qty) / totalQty
	notional := totalQty * weightedEntry
	margin := riskmath.ComputeMargin(notional, leverage)
	liqPrice := riskmath.ApproxLiquidationPrice(riskmath.Side(p.Side), weightedEntry, totalQty, margin, e.maintRate)

	e.book.UpdatePosition(accountID, p.ID, positions.PositionPatch{
		EntryPrice: &weightedEntry, Quantity: &totalQty, Notional: &notional,
		InitialMargin: &margin, LiquidationPrice: &liqPrice,
	})
	e.writeTradeRow(ctx, p, "ADD", qty, price, 0)
	e.emit(EventPositionUpdated, accountID, p.Symbol, p.ID, false)
	e.emit(EventMarginUpdate, accountID, p.Symbol, p.ID, false)
}

func (e *Engine) applyAgainstOpposite(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, newSide symbolfmt.PositionSide, qty, price, leverage float64, existing *positions.Position) {
	realized := riskmath.PNL(riskmath.Side(existing.Side), existing.EntryPrice, price, minFloat(qty, existing.Quantity))

	if qty < existing.Quantity {
		remaining := existing.Quantity - qty
		notional := remaining * existing.EntryPrice
		e.book.UpdatePosition(accountID, existing.ID, positions.PositionPatch{Quantity: &remaining, Notional: &notional})
		e.book.UpdateBalance(accountID, e.currentBalance(accountID)+realized)
		e.writeTradeRow(ctx, existing, "REDUCE", qty, price, realized)
		e.emit(EventPositionReduced, accountID, symbol, existing.ID, false)
		e.emit(EventMarginUpdate, accountID, symbol, existing.ID, false)
		return
	}

	e.book.UpdateBalance(accountID, e.currentBalance(accountID)+realized)
	e.book.Remove(accountID, existing.ID)
	e.writeTradeRow(ctx, existing, "CLOSE", existing.Quantity, price, realized)
	e.emit(EventPositionClosed, accountID, symbol, existing.ID, false)
	e.emit(EventMarginUpdate, accountID, symbol, existing.ID, false)

	excess := qty - existing.Quantity
	if excess > 0 {
		e.openPosition(ctx, accountID, symbol, newSide, excess, price, leverage)
	}
}

func (e *Engine) currentBalance(accountID string) float64 {
	account, ok := e.book.Account(accountID)
	if !ok {
		return 0
	}
	return account.Balance
}

func (e *Engine) writeTradeRow(ctx context.Context, p *positions.Position, action string, qty, price, realizedPNL float64) {
	if e.trades == nil {
		return
	}
	sig := riskmath.TradeSignature(riskmath.TradeSignatureInput{
		AccountID: p.AccountID, Action: action, PositionID: p.ID, Symbol: p.Symbol,
		Side: string(p.Side), Quantity: qty, TimestampMs: time.Now().UnixMilli(), Nonce: ksuid.New().String(),
	})
	e.trades.WriteTradeRow(ctx, TradeRow{
		Signature: sig, AccountID: p.AccountID, PositionID: p.ID, Symbol: p.Symbol,
		Side: p.Side, Action: action, Quantity: qty, Price: price, RealizedPNL: realizedPNL, Timestamp: time.Now(),
	})
}

func (e *Engine) emit(kind EventKind, accountID, symbol, positionID string, stale bool) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(Event{Kind: kind, AccountID: accountID, Symbol: symbol, PositionID: positionID, StaleCleanup: stale})
}

// OnTick updates mark price and unrealized PnL for every position on
// symbol, evaluates liquidation for every affected account, and schedules
// a reduce-only close when a tier matches. Risk snapshots are throttled to
// at most once per second per account.
func (e *Engine) OnTick(ctx context.Context, symbol string, mark float64, now time.Time) {
	accountIDs := e.book.GetAccountsForSymbol(symbol)
	for _, accountID := range accountIDs {
		for _, p := range e.book.Positions(accountID) {
			if p.Symbol != symbol {
				continue
			}
			pnl := riskmath.PNL(riskmath.Side(p.Side), p.EntryPrice, mark, p.Quantity)
			e.book.UpdatePosition(accountID, p.ID, positions.PositionPatch{MarkPrice: &mark, UnrealizedPNL: &pnl})
		}

		eval, matched := liquidation.Evaluate(e.book, func(s string) (float64, bool) { return e.prices(s) }, accountID, e.maintRate)
		if matched {
			e.scheduleLiquidation(ctx, accountID, eval)
		}

		e.maybeEmitSnapshot(accountID, now)
	}
}

func (e *Engine) scheduleLiquidation(ctx context.Context, accountID string, eval liquidation.Evaluation) {
	if e.closer == nil {
		return
	}
	for _, p := range liquidation.Targets(eval) {
		closeQty := p.Quantity * eval.Tier.CloseFraction
		side := symbolfmt.Opposite(symbolfmt.ToOrderSide(string(p.Side)))
		e.closer.ReduceOnlyClose(ctx, accountID, p.Symbol, side, closeQty, "liquidation")
	}
}

func (e *Engine) maybeEmitSnapshot(accountID string, now time.Time) {
	e.mu.Lock()
	last := e.lastSnapshotEmit[accountID]
	if now.Sub(last) < riskSnapshotThrottle {
		e.mu.Unlock()
		return
	}
	e.lastSnapshotEmit[accountID] = now
	e.mu.Unlock()

	e.emit(EventMarginUpdate, accountID, "", "", false)
}

// ForceCloseStalePosition removes a virtual position without a fill when
// the exchange reports it already gone, and marks the emitted event as a
// stale-cleanup so consumers don't treat it as a normal close.
func (e *Engine) ForceCloseStalePosition(accountID, symbol string, side symbolfmt.PositionSide) {
	p, ok := e.book.FindPosition(accountID, symbol, side)
	if !ok {
		return
	}
	e.book.Remove(accountID, p.ID)
	e.emit(EventPositionClosed, accountID, symbol, p.ID, true)
}

// AccountSnapshot is the pure projection used by event emitters.
type AccountSnapshot struct {
	Balance         float64
	Equity          float64
	MarginUsed      float64
	AvailableMargin float64
	Positions       []PositionSnapshot
}

// PositionSnapshot is one position's projection within an account snapshot.
type PositionSnapshot struct {
	Symbol        string
	Side          symbolfmt.PositionSide
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPNL float64
	PNLPercent    float64
}

// Snapshot computes the pure account snapshot for accountID.
func (e *Engine) Snapshot(accountID string) AccountSnapshot {
	account, _ := e.book.Account(accountID)
	pos := e.book.Positions(accountID)

	var totalUPNL, totalNotional, usedMargin float64
	snaps := make([]PositionSnapshot, 0, len(pos))
	for _, p := range pos {
		totalUPNL += p.UnrealizedPNL
		totalNotional += p.Notional
		usedMargin += p.InitialMargin

		pnlPct := 0.0
		if p.InitialMargin > 0 {
			pnlPct = p.UnrealizedPNL / p.InitialMargin * 100
		}
		snaps = append(snaps, PositionSnapshot{
			Symbol: p.Symbol, Side: p.Side, Quantity: p.Quantity, EntryPrice: p.EntryPrice,
			MarkPrice: p.MarkPrice, UnrealizedPNL: p.UnrealizedPNL, PNLPercent: pnlPct,
		})
	}

	avail := riskmath.ComputeAvailableMargin(account.Balance, e.maintRate, totalUPNL, totalNotional, 0, 0)
	return AccountSnapshot{
		Balance: account.Balance, Equity: avail.Equity, MarginUsed: usedMargin,
		AvailableMargin: avail.AvailableMargin, Positions: snaps,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
