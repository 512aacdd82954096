// Package gateway is the async, rate-limited, retrying facade over the
// exchange's order REST APIs. The WebSocket feed, listen-key management,
// and the actual REST transport are external collaborators referenced only
// by the RawClient contract below; this package owns only the retry,
// rate-limit, circuit-breaking, and error-classification policy around it.
package gateway

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// PlaceRequest is the normalized order placement request the gateway
// accepts; symbols and sides have already been converted to exchange-native
// form by the caller's boundary (order manager) or by this package's own
// normalization helpers.
type PlaceRequest struct {
	ClientOrderID string
	Symbol        string
	Side          symbolfmt.OrderSide
	Type          string
	Quantity      float64
	Price         float64
	StopPrice     float64
	ReduceOnly    bool
}

// PlaceResponse carries the exchange-assigned id seeded by a REST ack.
// Final state is never read from this response — only from the feed.
type PlaceResponse struct {
	ExchangeOrderID string
}

// RawClient is the legacy synchronous exchange client boundary: the actual
// HTTP/signing work that must be offloaded to a thread pool so the core
// loop never blocks on network I/O. A paper-mode implementation of Exchange
// never calls through to this at all.
type RawClient interface {
	Place(ctx context.Context, req PlaceRequest) (PlaceResponse, error)
	Cancel(ctx context.Context, exchangeOrderID, symbol string) error
	ServerTime(ctx context.Context) (time.Time, error)
}

// Exchange is the facade the order manager depends on. The real REST
// gateway and the in-memory paper matcher are both first-class
// implementations of this interface — the paper-mode drop-in.
type Exchange interface {
	PlaceOrder(ctx context.Context, req PlaceRequest) (PlaceResponse, error)
	CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error
}

// Gateway implements Exchange over a RawClient, adding rate limiting,
// exponential backoff retries on transient errors, and circuit breaking.
// Its rate-limiter/throttle state is process-wide but owned by this single
// object — there is no hidden singleton, it's composed at startup.
type Gateway struct {
	logger   *zap.Logger
	raw      RawClient
	gate     *RateGate
	breakers *BreakerFactory

	retryBase  time.Duration
	maxRetries int

	mu          sync.Mutex
	clockOffset time.Duration
}

// NewGateway wires a RawClient with the retry/rate-limit/breaker policy.
func NewGateway(logger *zap.Logger, raw RawClient, ratePerSec int, retryBase time.Duration, maxRetries int) *Gateway {
	return &Gateway{
		logger:     logger,
		raw:        raw,
		gate:       NewRateGate(ratePerSec),
		breakers:   NewBreakerFactory(logger),
		retryBase:  retryBase,
		maxRetries: maxRetries,
	}
}

// SyncClock computes the clock offset against the exchange server once at
// startup; callers add ClockOffset() to their local timestamps so signed
// requests carry a server-accurate timestamp regardless of local drift.
func (g *Gateway) SyncClock(ctx context.Context) error {
	serverTime, err := g.raw.ServerTime(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.clockOffset = serverTime.Sub(time.Now())
	g.mu.Unlock()
	return nil
}

// ClockOffset returns the last-measured offset from local wall time.
func (g *Gateway) ClockOffset() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clockOffset
}

// PlaceOrder places an order with retries on transient failures.
// Fatal errors fail immediately; cancel-ignorable codes don't apply here
// (this is a placement, not a cancel) so they're treated as fatal too.
func (g *Gateway) PlaceOrder(ctx context.Context, req PlaceRequest) (PlaceResponse, error) {
	cb := g.breakers.Get("place")
	var resp PlaceResponse

	_, err := cb.Execute(func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt <= g.maxRetries; attempt++ {
			if err := g.gate.Wait(ctx, "place"); err != nil {
				return nil, err
			}
			r, err := g.raw.Place(ctx, req)
			if err == nil {
				g.gate.ObserveResult(false)
				resp = r
				return nil, nil
			}

			te, ok := err.(*TransportError)
			if !ok || !te.Transient() {
				g.gate.ObserveResult(false)
				return nil, err
			}
			g.gate.ObserveResult(true)
			lastErr = err
			if attempt < g.maxRetries {
				g.sleepBackoff(ctx, attempt)
			}
		}
		return nil, lastErr
	})

	return resp, err
}

// CancelOrder cancels an order; a cancel-ignorable error is coerced to a
// synthetic success, per the error-handling contract.
func (g *Gateway) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	cb := g.breakers.Get("cancel")

	_, err := cb.Execute(func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt <= g.maxRetries; attempt++ {
			if err := g.gate.Wait(ctx, "cancel"); err != nil {
				return nil, err
			}
			err := g.raw.Cancel(ctx, exchangeOrderID, symbol)
			if err == nil {
				g.gate.ObserveResult(false)
				return nil, nil
			}

			te, ok := err.(*TransportError)
			if ok && te.Kind == KindCancelIgnorable {
				g.gate.ObserveResult(false)
				return nil, nil
			}
			if !ok || !te.Transient() {
				g.gate.ObserveResult(false)
				return nil, err
			}
			g.gate.ObserveResult(true)
			lastErr = err
			if attempt < g.maxRetries {
				g.sleepBackoff(ctx, attempt)
			}
		}
		return nil, lastErr
	})

	return err
}

func (g *Gateway) sleepBackoff(ctx context.Context, attempt int) {
	delay := time.Duration(float64(g.retryBase) * math.Pow(2, float64(attempt)))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
