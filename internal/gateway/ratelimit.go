package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateGate enforces a sliding-window cap on egress to the exchange,
// halving the effective budget ("throttle mode") after two consecutive
// retryable errors, and restoring full budget after a successful call.
type RateGate struct {
	mu         sync.Mutex
	limiter    *limiter.Limiter
	baseRate   int64
	throttled  int32
	consecutiveErrors int32
}

// NewRateGate builds a sliding-window limiter for requestsPerSecond.
func NewRateGate(requestsPerSecond int) *RateGate {
	store := memory.NewStore()
	rate := limiter.Rate{Period: time.Second, Limit: int64(requestsPerSecond)}
	return &RateGate{
		limiter:  limiter.New(store, rate),
		baseRate: int64(requestsPerSecond),
	}
}

func (g *RateGate) effectiveLimit() int64 {
	if atomic.LoadInt32(&g.throttled) == 1 {
		half := g.baseRate / 2
		if half < 1 {
			half = 1
		}
		return half
	}
	return g.baseRate
}

// Wait blocks until a request slot is available under the current
// (possibly halved) budget.
func (g *RateGate) Wait(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit := g.effectiveLimit()
	for {
		ctxRes, err := g.limiter.Get(ctx, key)
		if err != nil {
			return err
		}
		used := int64(ctxRes.Limit) - int64(ctxRes.Remaining)
		if !ctxRes.Reached && used <= limit {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ObserveResult feeds a call's outcome into the throttle-mode state
// machine: a second consecutive retryable error halves the budget; any
// success restores full budget.
func (g *RateGate) ObserveResult(transientErr bool) {
	if transientErr {
		n := atomic.AddInt32(&g.consecutiveErrors, 1)
		if n >= 2 {
			atomic.StoreInt32(&g.throttled, 1)
		}
		return
	}
	atomic.StoreInt32(&g.consecutiveErrors, 0)
	atomic.StoreInt32(&g.throttled, 0)
}

// Throttled reports whether the gate is currently in throttle mode.
func (g *RateGate) Throttled() bool {
	return atomic.LoadInt32(&g.throttled) == 1
}
