package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/algo/chase"
	"github.com/pms-engine/execcore/internal/algo/scalper"
	"github.com/pms-engine/execcore/internal/algo/trailstop"
	"github.com/pms-engine/execcore/internal/algo/twap"
	"github.com/pms-engine/execcore/internal/marketdata"
	"github.com/pms-engine/execcore/internal/ordermanager"
	"github.com/pms-engine/execcore/internal/orderbook"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// MarketCloser places a reduce-only market order to flatten a remaining
// quantity, used by algorithms on cancel-with-close and trail-stop trigger.
type MarketCloser interface {
	PlaceMarket(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty, leverage float64,
		origin orderbook.Origin, parentID string, reduceOnly bool,
		onFill func(*orderbook.Order, float64, float64), onCancel func(*orderbook.Order, string)) (*orderbook.Order, error)
}

type trailStopInstance struct {
	ts        *trailstop.TrailStop
	accountID string
	quantity  float64
	disarm    func()
}

// AlgoSupervisor owns every running chase/scalper/twap/trail-stop instance,
// keyed by the id handed back to the command caller.
type AlgoSupervisor struct {
	logger *zap.Logger
	om     *ordermanager.Manager
	md     *marketdata.FanOut
	prefix string

	mu         sync.Mutex
	chases     map[string]*chase.Chase
	scalpers   map[string]*scalper.Scalper
	twaps      map[string]*twap.TWAP
	trailStops map[string]*trailStopInstance
}

// NewAlgoSupervisor constructs an empty supervisor.
func NewAlgoSupervisor(logger *zap.Logger, om *ordermanager.Manager, md *marketdata.FanOut, prefix string) *AlgoSupervisor {
	return &AlgoSupervisor{
		logger: logger, om: om, md: md, prefix: prefix,
		chases:     make(map[string]*chase.Chase),
		scalpers:   make(map[string]*scalper.Scalper),
		twaps:      make(map[string]*twap.TWAP),
		trailStops: make(map[string]*trailStopInstance),
	}
}

func (s *AlgoSupervisor) parentID(kind string) string {
	return fmt.Sprintf("%s%s_%s", s.prefix, kind, ksuid.New().String())
}

// StartChase launches a chase algorithm and returns its id.
func (s *AlgoSupervisor) StartChase(ctx context.Context, accountID string, params chase.Params) (string, error) {
	tuple, ok := s.md.Latest(params.Symbol)
	if !ok {
		return "", fmt.Errorf("no market data for %s", params.Symbol)
	}

	id := s.parentID("chase")
	var c *chase.Chase

	placeFn := func(ctx context.Context, price float64) (string, error) {
		o, err := s.om.PlaceLimit(ctx, accountID, params.Symbol, params.Side, params.Quantity, price, params.Leverage,
			orderbook.OriginChase, id, params.ReduceOnly,
			func(o *orderbook.Order, fillPrice, fillQty float64) { c.OnFill() },
			nil, nil)
		if err != nil {
			return "", err
		}
		return o.ClientOrderID, nil
	}
	cancelFn := func(ctx context.Context, orderID string) error {
		_, err := s.om.Cancel(ctx, orderID)
		return err
	}

	c = chase.New(id, params, s.logger, placeFn, cancelFn)
	if err := c.Start(ctx, tuple.Bid, tuple.Ask); err != nil {
		return "", err
	}
	s.md.Subscribe(params.Symbol, func(t marketdata.Tuple) { c.OnTick(ctx, t.Bid, t.Ask, t.Mid) })

	s.mu.Lock()
	s.chases[id] = c
	s.mu.Unlock()
	return id, nil
}

// CancelChase stops a running chase by id.
func (s *AlgoSupervisor) CancelChase(ctx context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.chases[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown chase id %s", id)
	}
	return c.Cancel(ctx)
}

// StartScalper launches a scalper and returns its id.
func (s *AlgoSupervisor) StartScalper(ctx context.Context, accountID string, params scalper.Params) (string, error) {
	tuple, ok := s.md.Latest(params.Symbol)
	if !ok {
		return "", fmt.Errorf("no market data for %s", params.Symbol)
	}

	id := s.parentID("scalper")
	var sc *scalper.Scalper

	placeChase := func(ctx context.Context, slot *scalper.Slot, price float64) (*chase.Chase, error) {
		var c *chase.Chase
		placeFn := func(ctx context.Context, px float64) (string, error) {
			o, err := s.om.PlaceLimit(ctx, accountID, params.Symbol, slot.Side, slot.Qty, px, 0,
				orderbook.OriginScalper, id, slot.ReduceOnly,
				func(o *orderbook.Order, fillPrice, fillQty float64) {
					c.OnFill()
					sc.OnFill(ctx, slot, fillPrice, time.Now())
				}, nil, nil)
			if err != nil {
				return "", err
			}
			return o.ClientOrderID, nil
		}
		cancelFn := func(ctx context.Context, orderID string) error {
			_, err := s.om.Cancel(ctx, orderID)
			return err
		}
		c = chase.New(ksuid.New().String(), chase.Params{
			Symbol: params.Symbol, Side: slot.Side, Quantity: slot.Qty,
			StalkMode: chase.StalkNone, ReduceOnly: slot.ReduceOnly,
		}, s.logger, placeFn, cancelFn)
		if err := c.Start(ctx, price, price); err != nil {
			return nil, err
		}
		return c, nil
	}
	cancelChase := func(ctx context.Context, c *chase.Chase) error { return c.Cancel(ctx) }
	marketClose := func(ctx context.Context, side symbolfmt.OrderSide, qty float64) error {
		_, err := s.om.PlaceMarket(ctx, accountID, params.Symbol, side, qty, 0, orderbook.OriginScalper, id, true, nil, nil)
		return err
	}

	sc = scalper.New(id, params, s.logger, placeChase, cancelChase, marketClose)
	sc.Start(ctx, tuple.Mid)
	s.md.Subscribe(params.Symbol, func(t marketdata.Tuple) { sc.MaybeRestart(ctx, t.Mid, time.Now()) })

	s.mu.Lock()
	s.scalpers[id] = sc
	s.mu.Unlock()
	return id, nil
}

// CancelScalper stops a running scalper by id.
func (s *AlgoSupervisor) CancelScalper(ctx context.Context, id string, closePositions bool, remainingQty float64, remainingSide symbolfmt.OrderSide) error {
	s.mu.Lock()
	sc, ok := s.scalpers[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown scalper id %s", id)
	}
	sc.Stop(ctx, closePositions, remainingQty, remainingSide)
	return nil
}

// StartTWAP launches a TWAP and returns its id.
func (s *AlgoSupervisor) StartTWAP(ctx context.Context, accountID string, params twap.Params, seed int64) (string, error) {
	id := s.parentID("twap")

	placeMarket := func(ctx context.Context, qty float64) error {
		_, err := s.om.PlaceMarket(ctx, accountID, params.Symbol, params.Side, qty, params.Leverage,
			orderbook.OriginTWAP, id, false, nil, nil)
		return err
	}
	tickMid := func() float64 {
		t, _ := s.md.Latest(params.Symbol)
		return t.Mid
	}

	t := twap.New(id, params, s.logger, seed, placeMarket, tickMid)
	go t.Run(ctx)

	s.mu.Lock()
	s.twaps[id] = t
	s.mu.Unlock()
	return id, nil
}

// CancelTWAP stops a running TWAP by id.
func (s *AlgoSupervisor) CancelTWAP(id string) error {
	s.mu.Lock()
	t, ok := s.twaps[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown twap id %s", id)
	}
	t.Cancel()
	return nil
}

// StartTrailStop launches a trail stop and returns its id.
func (s *AlgoSupervisor) StartTrailStop(ctx context.Context, accountID string, params trailstop.Params, quantity float64) (string, error) {
	id := s.parentID("trail_stop")
	ts := trailstop.New(params)

	closeSide := symbolfmt.OrderSell
	if params.Side == symbolfmt.PositionShort {
		closeSide = symbolfmt.OrderBuy
	}

	var disarmed bool
	var mu sync.Mutex
	cb := func(t marketdata.Tuple) {
		mu.Lock()
		if disarmed {
			mu.Unlock()
			return
		}
		mu.Unlock()

		triggered, _ := ts.OnTick(t.Mid)
		if !triggered {
			return
		}
		mu.Lock()
		disarmed = true
		mu.Unlock()
		s.om.PlaceMarket(ctx, accountID, params.Symbol, closeSide, quantity, 0, orderbook.OriginTrailStop, id, true, nil, nil)
	}
	s.md.Subscribe(params.Symbol, cb)

	s.mu.Lock()
	s.trailStops[id] = &trailStopInstance{
		ts: ts, accountID: accountID, quantity: quantity,
		disarm: func() { mu.Lock(); disarmed = true; mu.Unlock() },
	}
	s.mu.Unlock()
	return id, nil
}

// CancelTrailStop disarms a trail stop's subscription callback and drops
// the supervisor's reference. Market data has no unsubscribe primitive, so
// the callback itself checks the disarmed flag on every tick.
func (s *AlgoSupervisor) CancelTrailStop(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.trailStops[id]
	if !ok {
		return fmt.Errorf("unknown trail stop id %s", id)
	}
	inst.disarm()
	delete(s.trailStops, id)
	return nil
}
