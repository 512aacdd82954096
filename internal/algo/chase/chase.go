// Package chase implements the BBO-chasing single resting limit order.
package chase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// StalkMode is the chase repricing policy.
type StalkMode string

const (
	StalkNone     StalkMode = "none"
	StalkMaintain StalkMode = "maintain"
	StalkTrail    StalkMode = "trail"
)

// Status is the chase's lifecycle status.
type Status string

const (
	StatusActive    Status = "active"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Params are the chase's immutable configuration.
type Params struct {
	Symbol          string
	Side            symbolfmt.OrderSide
	Quantity        float64
	Leverage        float64
	StalkMode       StalkMode
	StalkOffsetPct  float64
	MaxDistancePct  float64
	ReduceOnly      bool
}

// Price computes the chase's target limit price from the current BBO. For
// buy: bid*(1-offset/100) — 0 joins the bid, positive offset is passive
// below. For sell: ask*(1+offset/100) — 0 joins the ask, positive offset is
// passive above. This is a pure function with no dependency on chase state.
func Price(side symbolfmt.OrderSide, bid, ask, offsetPct float64) float64 {
	if side == symbolfmt.OrderBuy {
		return bid * (1 - offsetPct/100)
	}
	return ask * (1 + offsetPct/100)
}

// ShouldReprice applies the pure stalk-mode truth table: given the
// direction the market just moved, should the chase reprice?
func ShouldReprice(mode StalkMode, side symbolfmt.OrderSide, movedUp bool) bool {
	switch mode {
	case StalkNone:
		return false
	case StalkMaintain:
		return true
	case StalkTrail:
		if side == symbolfmt.OrderBuy {
			// Buyer ratchets only downward: reprice only when the market
			// moves down (price improves for the buyer).
			return !movedUp
		}
		// Seller ratchets only upward.
		return movedUp
	default:
		return false
	}
}

// Chase is one running chase instance.
type Chase struct {
	ID     string
	Params Params
	logger *zap.Logger

	mu             sync.Mutex
	status         Status
	initialPrice   float64
	currentPrice   float64
	currentOrderID string
	repriceCount   int
	lastRepriceAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	placeFn  func(ctx context.Context, price float64) (orderID string, err error)
	cancelFn func(ctx context.Context, orderID string) error

	onFilled    func()
	onCancelled func(reason string)
}

// Guards (spec §4.11).
const repriceThrottle = 500 * time.Millisecond

// New constructs a chase with the given place/cancel order callbacks.
func New(id string, params Params, logger *zap.Logger,
	placeFn func(ctx context.Context, price float64) (string, error),
	cancelFn func(ctx context.Context, orderID string) error,
) *Chase {
	ctx, cancel := context.WithCancel(context.Background())
	return &Chase{
		ID: id, Params: params, logger: logger,
		status: StatusActive, ctx: ctx, cancel: cancel,
		placeFn: placeFn, cancelFn: cancelFn,
	}
}

// Start places the initial order at the current BBO-derived price.
func (c *Chase) Start(ctx context.Context, bid, ask float64) error {
	price := Price(c.Params.Side, bid, ask, c.Params.StalkOffsetPct)
	orderID, err := c.placeFn(ctx, price)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.initialPrice = price
	c.currentPrice = price
	c.currentOrderID = orderID
	c.mu.Unlock()
	return nil
}

// OnTick applies the throttle guard, the max-distance auto-cancel guard,
// and the reprice decision, in that order, exactly as specified.
func (c *Chase) OnTick(ctx context.Context, bid, ask, mid float64) {
	c.mu.Lock()
	if c.status != StatusActive {
		c.mu.Unlock()
		return
	}

	// Guard 1: throttle.
	if time.Since(c.lastRepriceAt) < repriceThrottle && !c.lastRepriceAt.IsZero() {
		c.mu.Unlock()
		return
	}

	// Guard 2: max-distance auto-cancel.
	if c.Params.MaxDistancePct > 0 && c.initialPrice != 0 {
		distPct := absPct(mid-c.initialPrice, c.initialPrice)
		if distPct > c.Params.MaxDistancePct {
			orderID := c.currentOrderID
			c.status = StatusCancelled
			c.mu.Unlock()
			c.cancelFn(ctx, orderID)
			if c.onCancelled != nil {
				c.onCancelled("max_distance")
			}
			return
		}
	}

	newPrice := Price(c.Params.Side, bid, ask, c.Params.StalkOffsetPct)
	movedUp := mid > c.lastMidOrInitial()
	if !ShouldReprice(c.Params.StalkMode, c.Params.Side, movedUp) || newPrice == c.currentPrice {
		c.mu.Unlock()
		return
	}

	oldOrderID := c.currentOrderID
	c.mu.Unlock()

	if err := c.cancelFn(ctx, oldOrderID); err != nil {
		return
	}
	orderID, err := c.placeFn(ctx, newPrice)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.currentPrice = newPrice
	c.currentOrderID = orderID
	c.repriceCount++
	c.lastRepriceAt = time.Now()
	c.mu.Unlock()
}

func (c *Chase) lastMidOrInitial() float64 {
	if c.currentPrice != 0 {
		return c.currentPrice
	}
	return c.initialPrice
}

func absPct(delta, base float64) float64 {
	if base == 0 {
		return 0
	}
	pct := delta / base * 100
	if pct < 0 {
		pct = -pct
	}
	return pct
}

// OnFill marks the chase filled.
func (c *Chase) OnFill() {
	c.mu.Lock()
	c.status = StatusFilled
	c.mu.Unlock()
	if c.onFilled != nil {
		c.onFilled()
	}
}

// OnExternalCancel re-arms the chase at the current BBO, unless the chase
// has already been cancelled/filled by this engine's own action.
func (c *Chase) OnExternalCancel(ctx context.Context, bid, ask float64) {
	c.mu.Lock()
	if c.status != StatusActive {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Start(ctx, bid, ask)
}

// Cancel stops the chase cooperatively: no new child order may be placed
// after this returns.
func (c *Chase) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusActive {
		c.mu.Unlock()
		return nil
	}
	orderID := c.currentOrderID
	c.status = StatusCancelled
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return c.cancelFn(ctx, orderID)
}

// RepriceCount returns the number of successful reprices so far.
func (c *Chase) RepriceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repriceCount
}

// CurrentStatus returns the chase's status.
func (c *Chase) CurrentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
