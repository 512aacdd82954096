// Package marketdata keeps the latest L1 tuple per symbol and fans it out
// to subscribers without ever blocking the producer.
package marketdata

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot is one symbol's input: sorted bids/asks, best of which this
// package reads.
type Snapshot struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// PriceLevel is one side of an order book level.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Tuple is the cached L1 state for one symbol.
type Tuple struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Mid       float64
	Timestamp time.Time
}

// Publisher sends the throttled external tuple to the event bus.
type Publisher interface {
	PublishTick(tuple Tuple)
}

const publishThrottle = 500 * time.Millisecond

// FanOut owns the per-symbol L1 cache and subscriber dispatch.
type FanOut struct {
	logger    *zap.Logger
	publisher Publisher

	mu          sync.RWMutex
	cache       map[string]Tuple
	subscribers map[string][]func(Tuple)
	lastPublish map[string]time.Time
}

// New constructs an empty fan-out.
func New(logger *zap.Logger, publisher Publisher) *FanOut {
	return &FanOut{
		logger:      logger,
		publisher:   publisher,
		cache:       make(map[string]Tuple),
		subscribers: make(map[string][]func(Tuple)),
		lastPublish: make(map[string]time.Time),
	}
}

// Subscribe registers a callback invoked on every change to symbol's L1.
func (f *FanOut) Subscribe(symbol string, cb func(Tuple)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[symbol] = append(f.subscribers[symbol], cb)
}

// Latest returns the cached tuple for symbol, if any.
func (f *FanOut) Latest(symbol string) (Tuple, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.cache[symbol]
	return t, ok
}

// OnSnapshot applies an order book snapshot. If best bid or ask is
// missing, the update is dropped. If bid/ask are unchanged, it's a no-op.
// Otherwise the cache is replaced and subscribers are dispatched
// fire-and-forget; external publication is throttled per symbol.
func (f *FanOut) OnSnapshot(snap Snapshot, now time.Time) {
	bestBid, okBid := bestOf(snap.Bids, true)
	bestAsk, okAsk := bestOf(snap.Asks, false)
	if !okBid || !okAsk {
		return
	}

	f.mu.Lock()
	prev, existed := f.cache[snap.Symbol]
	if existed && prev.Bid == bestBid && prev.Ask == bestAsk {
		f.mu.Unlock()
		return
	}

	tuple := Tuple{
		Symbol:    snap.Symbol,
		Bid:       bestBid,
		Ask:       bestAsk,
		Mid:       (bestBid + bestAsk) / 2,
		Timestamp: now,
	}
	f.cache[snap.Symbol] = tuple
	subs := append([]func(Tuple){}, f.subscribers[snap.Symbol]...)

	shouldPublish := false
	if f.publisher != nil {
		last := f.lastPublish[snap.Symbol]
		if now.Sub(last) >= publishThrottle {
			f.lastPublish[snap.Symbol] = now
			shouldPublish = true
		}
	}
	f.mu.Unlock()

	for _, cb := range subs {
		go cb(tuple)
	}
	if shouldPublish {
		go f.publisher.PublishTick(tuple)
	}
}

func bestOf(levels []PriceLevel, isBid bool) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	best := levels[0].Price
	for _, l := range levels[1:] {
		if isBid && l.Price > best {
			best = l.Price
		} else if !isBid && l.Price < best {
			best = l.Price
		}
	}
	return best, true
}
