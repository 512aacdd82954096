// Package twap implements the time-weighted order slicer.
package twap

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// Params are the TWAP's immutable configuration.
type Params struct {
	Symbol          string
	Side            symbolfmt.OrderSide
	TotalQuantity   float64
	NumLots         int
	IntervalSeconds float64
	JitterPct       float64
	Irregular       bool
	PriceLimit      float64
	Leverage        float64
}

// Status is the TWAP's lifecycle status.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// TWAP slices a total quantity into num_lots market clips over time.
type TWAP struct {
	ID     string
	Params Params
	logger *zap.Logger

	mu            sync.Mutex
	status        Status
	lotSchedule   []float64
	filledLots    int
	filledQty     float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	placeMarket func(ctx context.Context, qty float64) error
	tickMid     func() float64

	rng *rand.Rand
}

// LotSchedule computes the per-lot quantity plan. Irregular draws weights
// from a uniform source and normalizes; otherwise the split is equal.
func LotSchedule(total float64, numLots int, irregular bool, rng *rand.Rand) []float64 {
	if numLots <= 0 {
		return nil
	}
	if !irregular {
		lots := make([]float64, numLots)
		per := total / float64(numLots)
		for i := range lots {
			lots[i] = per
		}
		return lots
	}

	u := distuv.Uniform{Min: 0, Max: 1, Src: rng}
	weights := make([]float64, numLots)
	sum := 0.0
	for i := range weights {
		weights[i] = u.Rand()
		sum += weights[i]
	}
	lots := make([]float64, numLots)
	for i := range lots {
		lots[i] = total * weights[i] / sum
	}
	return lots
}

// SleepInterval computes the jittered sleep duration for the next lot.
func SleepInterval(intervalSeconds, jitterPct float64, rng *rand.Rand) time.Duration {
	u := distuv.Uniform{Min: -1, Max: 1, Src: rng}
	secs := intervalSeconds * (1 + u.Rand()*jitterPct/100)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs * float64(time.Second))
}

// PriceLimitViolated reports whether mid violates the side's price_limit.
func PriceLimitViolated(side symbolfmt.OrderSide, mid, limit float64) bool {
	if limit == 0 {
		return false
	}
	if side == symbolfmt.OrderBuy {
		return mid > limit
	}
	return mid < limit
}

// New constructs a TWAP and its lot schedule.
func New(id string, params Params, logger *zap.Logger, seed int64,
	placeMarket func(ctx context.Context, qty float64) error,
	tickMid func() float64,
) *TWAP {
	ctx, cancel := context.WithCancel(context.Background())
	rng := rand.New(rand.NewSource(seed))
	t := &TWAP{
		ID: id, Params: params, logger: logger,
		status: StatusActive, ctx: ctx, cancel: cancel,
		placeMarket: placeMarket, tickMid: tickMid, rng: rng,
	}
	jitterPct := params.JitterPct
	if jitterPct == 0 {
		jitterPct = 30
	}
	t.Params.JitterPct = jitterPct
	t.lotSchedule = LotSchedule(params.TotalQuantity, params.NumLots, params.Irregular, rng)
	return t
}

// Run drives the lot loop to completion or cancellation. Intended to run
// in its own goroutine; returns when done.
func (t *TWAP) Run(ctx context.Context) {
	for i, lotQty := range t.lotSchedule {
		t.mu.Lock()
		active := t.status == StatusActive
		t.mu.Unlock()
		if !active {
			return
		}

		if i > 0 {
			sleepFor := SleepInterval(t.Params.IntervalSeconds, t.Params.JitterPct, t.rng)
			select {
			case <-time.After(sleepFor):
			case <-ctx.Done():
				t.markCancelled()
				return
			case <-t.ctx.Done():
				t.markCancelled()
				return
			}
		}

		t.mu.Lock()
		if t.status != StatusActive {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		if t.tickMid != nil {
			mid := t.tickMid()
			if PriceLimitViolated(t.Params.Side, mid, t.Params.PriceLimit) {
				continue
			}
		}

		if err := t.placeMarket(ctx, lotQty); err != nil {
			continue
		}

		t.mu.Lock()
		t.filledLots++
		t.filledQty += lotQty
		t.mu.Unlock()
	}

	t.mu.Lock()
	if t.status == StatusActive {
		t.status = StatusCompleted
	}
	t.mu.Unlock()
}

func (t *TWAP) markCancelled() {
	t.mu.Lock()
	if t.status == StatusActive {
		t.status = StatusCancelled
	}
	t.mu.Unlock()
}

// Cancel stops the TWAP's sleeping loop; no further lots fire.
func (t *TWAP) Cancel() {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return
	}
	t.status = StatusCancelled
	t.mu.Unlock()
	t.cancel()
}

// Progress returns (filledLots, filledQty, status).
func (t *TWAP) Progress() (int, float64, Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filledLots, t.filledQty, t.status
}
