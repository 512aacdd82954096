package gateway

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerFactory hands out one named circuit breaker per exchange
// operation (place, cancel, ...), so a sustained fault in one operation
// doesn't trip calls to another.
type BreakerFactory struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerFactory constructs an empty factory.
func NewBreakerFactory(logger *zap.Logger) *BreakerFactory {
	return &BreakerFactory{logger: logger, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func defaultBreakerSettings(name string, logger *zap.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("gateway circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
}

// Get returns (creating if needed) the breaker for the named operation.
func (f *BreakerFactory) Get(name string) *gobreaker.CircuitBreaker {
	f.mu.RLock()
	cb, ok := f.breakers[name]
	f.mu.RUnlock()
	if ok {
		return cb
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok = f.breakers[name]; ok {
		return cb
	}
	cb = gobreaker.NewCircuitBreaker(defaultBreakerSettings(name, f.logger))
	f.breakers[name] = cb
	return cb
}
