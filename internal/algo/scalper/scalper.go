package scalper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/algo/chase"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

const minNotionalUSD = 5

// Params are the scalper's immutable configuration.
type Params struct {
	Symbol            string
	StartSide         symbolfmt.PositionSide
	ChildCount        int
	Skew              float64
	LongOffsetPct     float64
	ShortOffsetPct    float64
	LongSizeUSD       float64
	ShortSizeUSD      float64
	LongMaxPrice      float64
	ShortMinPrice     float64
	NeutralMode       bool
	MinFillSpreadPct  float64
	FillDecayHalfLife time.Duration
	MaxFillsPerMinute int
	MinRefillDelayMs  float64
}

// Slot is one layer on one leg side (spec §4.12 slot state).
type Slot struct {
	LayerIndex int
	Side       symbolfmt.OrderSide
	SizeUSD    float64
	Weight     float64
	Qty        float64
	OffsetPct  float64
	ReduceOnly bool

	chase       *chase.Chase
	Active      bool
	Paused      bool
	PauseReason PauseReason
	RetryAt     time.Time
	RetryCount  int
	FillCount   int
	lastFillAt  time.Time
	lastFillPx  float64
}

// Status is the scalper's lifecycle status.
type Status string

const (
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
)

// Scalper runs a two-legged chase grid on one symbol.
type Scalper struct {
	ID     string
	Params Params
	logger *zap.Logger

	mu                sync.Mutex
	status            Status
	slots             []*Slot
	closingArmed      bool
	fillCount         int
	lastKnownPrice    float64
	fillTimesBySide   map[symbolfmt.OrderSide][]time.Time
	refillCountBySide map[symbolfmt.OrderSide]int

	placeChase  func(ctx context.Context, slot *Slot, price float64) (*chase.Chase, error)
	cancelChase func(ctx context.Context, c *chase.Chase) error
	marketClose func(ctx context.Context, side symbolfmt.OrderSide, qty float64) error

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a scalper and its opening-leg slots.
func New(id string, params Params, logger *zap.Logger,
	placeChase func(ctx context.Context, slot *Slot, price float64) (*chase.Chase, error),
	cancelChase func(ctx context.Context, c *chase.Chase) error,
	marketClose func(ctx context.Context, side symbolfmt.OrderSide, qty float64) error,
) *Scalper {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scalper{
		ID: id, Params: params, logger: logger,
		status:            StatusActive,
		fillTimesBySide:   make(map[symbolfmt.OrderSide][]time.Time),
		refillCountBySide: make(map[symbolfmt.OrderSide]int),
		placeChase:        placeChase, cancelChase: cancelChase, marketClose: marketClose,
		ctx: ctx, cancel: cancel,
	}
	s.buildSlots()
	return s
}

func openingSide(startSide symbolfmt.PositionSide) symbolfmt.OrderSide {
	if startSide == symbolfmt.PositionLong {
		return symbolfmt.OrderBuy
	}
	return symbolfmt.OrderSell
}

func (s *Scalper) buildSlots() {
	p := s.Params
	opening := openingSide(p.StartSide)
	closing := symbolfmt.Opposite(opening)

	longOffsets := Offsets(p.LongOffsetPct, p.ChildCount)
	longWeights := Weights(p.Skew, p.ChildCount)
	shortOffsets := Offsets(p.ShortOffsetPct, p.ChildCount)
	shortWeights := Weights(p.Skew, p.ChildCount)

	addLeg := func(side symbolfmt.OrderSide, reduceOnly bool, offsets, weights []float64, sizeUSD float64) {
		for i := 0; i < p.ChildCount; i++ {
			s.slots = append(s.slots, &Slot{
				LayerIndex: i, Side: side, OffsetPct: offsets[i], ReduceOnly: reduceOnly,
				SizeUSD: sizeUSD, Weight: weights[i],
			})
		}
	}

	if opening == symbolfmt.OrderBuy {
		addLeg(symbolfmt.OrderBuy, false, longOffsets, longWeights, p.LongSizeUSD)
	} else {
		addLeg(symbolfmt.OrderSell, false, shortOffsets, shortWeights, p.ShortSizeUSD)
	}

	if p.NeutralMode {
		if closing == symbolfmt.OrderBuy {
			addLeg(symbolfmt.OrderBuy, false, longOffsets, longWeights, p.LongSizeUSD)
		} else {
			addLeg(symbolfmt.OrderSell, false, shortOffsets, shortWeights, p.ShortSizeUSD)
		}
	}
}

// Start places the child chases for every non-skipped opening slot.
func (s *Scalper) Start(ctx context.Context, currentPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		s.placeSlotLocked(ctx, slot, currentPrice)
	}
}

func (s *Scalper) placeSlotLocked(ctx context.Context, slot *Slot, currentPrice float64) {
	if slot.SizeUSD*slot.Weight < minNotionalUSD {
		return
	}
	slot.Qty = LayerQuantity(slot.SizeUSD, slot.Weight, currentPrice)
	c, err := s.placeChase(ctx, slot, currentPrice)
	if err != nil {
		slot.RetryCount++
		slot.Paused = true
		slot.RetryAt = time.Now().Add(PlaceFailureBackoff(slot.RetryCount))
		return
	}
	slot.chase = c
	slot.Active = true
	slot.Paused = false
}

// OnFill handles a child fill: bookkeeping, closing-leg arming, restart
// scheduling via the guard chain.
func (s *Scalper) OnFill(ctx context.Context, slot *Slot, fillPrice float64, now time.Time) {
	s.mu.Lock()
	slot.FillCount++
	s.fillCount++
	slot.lastFillAt = now
	slot.lastFillPx = fillPrice
	s.lastKnownPrice = fillPrice
	s.fillTimesBySide[slot.Side] = append(s.fillTimesBySide[slot.Side], now)

	slot.Active = false
	slot.chase = nil
	s.refillCountBySide[slot.Side]++
	slot.RetryAt = now.Add(RefillDelay(s.Params.MinRefillDelayMs, s.refillCountBySide[slot.Side]))
	slot.Paused = true
	slot.PauseReason = PauseRefillDelay

	armClosing := !s.Params.NeutralMode && !s.closingArmed && !slot.ReduceOnly
	if armClosing {
		s.closingArmed = true
	}
	s.mu.Unlock()

	if armClosing {
		s.armClosingLeg(ctx, fillPrice)
	}
}

func (s *Scalper) armClosingLeg(ctx context.Context, currentPrice float64) {
	p := s.Params
	opening := openingSide(p.StartSide)
	closing := symbolfmt.Opposite(opening)

	var offsets, weights []float64
	var sizeUSD float64
	if closing == symbolfmt.OrderBuy {
		offsets, weights, sizeUSD = Offsets(p.LongOffsetPct, p.ChildCount), Weights(p.Skew, p.ChildCount), p.LongSizeUSD
	} else {
		offsets, weights, sizeUSD = Offsets(p.ShortOffsetPct, p.ChildCount), Weights(p.Skew, p.ChildCount), p.ShortSizeUSD
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < p.ChildCount; i++ {
		slot := &Slot{LayerIndex: i, Side: closing, OffsetPct: offsets[i], ReduceOnly: true, SizeUSD: sizeUSD, Weight: weights[i]}
		s.slots = append(s.slots, slot)
		s.placeSlotLocked(ctx, slot, currentPrice)
	}
}

// CanRestart evaluates the four guards in order for slot, given current
// market mid. Returns (admit, reason-if-not).
func (s *Scalper) CanRestart(slot *Slot, mid float64, now time.Time) (bool, PauseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot.lastFillAt != (time.Time{}) {
		elapsed := now.Sub(slot.lastFillAt)
		if !FillSpreadAdmits(slot.lastFillPx, mid, s.Params.MinFillSpreadPct, elapsed, s.Params.FillDecayHalfLife) {
			return false, PauseFillSpread
		}
	}
	if !BurstAdmits(s.fillTimesBySide[slot.Side], now, s.Params.MaxFillsPerMinute) {
		return false, PauseBurstLimit
	}
	if now.Before(slot.RetryAt) {
		return false, PauseRefillDelay
	}
	isBuy := slot.Side == symbolfmt.OrderBuy
	if !PriceBandAdmits(isBuy, mid, s.Params.LongMaxPrice, s.Params.ShortMinPrice) {
		return false, PausePriceFilter
	}
	return true, PauseNone
}

// Stop cancels all active child chases and optionally flattens remaining
// positions, per the stopping sequence in spec order.
func (s *Scalper) Stop(ctx context.Context, closePositions bool, remainingQty float64, remainingSide symbolfmt.OrderSide) {
	s.mu.Lock()
	s.status = StatusStopped
	slots := append([]*Slot(nil), s.slots...)
	s.mu.Unlock()

	s.cancel()

	for _, slot := range slots {
		if slot.chase != nil {
			s.cancelChase(ctx, slot.chase)
		}
	}

	// Second sweep for chases spawned by in-flight restarts.
	s.mu.Lock()
	slots2 := append([]*Slot(nil), s.slots...)
	s.mu.Unlock()
	for _, slot := range slots2 {
		if slot.chase != nil {
			s.cancelChase(ctx, slot.chase)
		}
	}

	if closePositions && remainingQty > 0 && s.marketClose != nil {
		s.marketClose(ctx, remainingSide, remainingQty)
	}
}

// MaybeRestart re-evaluates every paused, inactive slot against the
// restart guard chain and re-places the ones that are admitted.
func (s *Scalper) MaybeRestart(ctx context.Context, mid float64, now time.Time) {
	s.mu.Lock()
	candidates := make([]*Slot, 0)
	for _, slot := range s.slots {
		if slot.Paused && !slot.Active {
			candidates = append(candidates, slot)
		}
	}
	s.mu.Unlock()

	for _, slot := range candidates {
		admit, reason := s.CanRestart(slot, mid, now)
		if !admit {
			s.mu.Lock()
			slot.PauseReason = reason
			s.mu.Unlock()
			continue
		}
		s.mu.Lock()
		s.placeSlotLocked(ctx, slot, mid)
		s.mu.Unlock()
	}
}

// CurrentStatus returns the scalper's status.
func (s *Scalper) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
