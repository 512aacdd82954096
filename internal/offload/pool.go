// Package offload runs blocking legacy-client work (REST calls, disk
// journal writes) off the core event loop goroutines on a bounded pool.
package offload

import (
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Pool wraps an ants.Pool with the panic-safety and logging the rest of
// this codebase's worker pools use.
type Pool struct {
	logger *zap.Logger
	pool   *ants.Pool
}

// DefaultOptions mirrors this codebase's standard pool tuning.
func DefaultOptions(logger *zap.Logger) ants.Options {
	return ants.Options{
		ExpiryDuration:   10 * time.Minute,
		PreAlloc:         true,
		MaxBlockingTasks: 1000,
		Nonblocking:      false,
		PanicHandler: func(i interface{}) {
			logger.Error("offload task panicked", zap.Any("recovered", i))
		},
	}
}

// New constructs a bounded pool of size capacity.
func New(logger *zap.Logger, capacity int) (*Pool, error) {
	opts := DefaultOptions(logger)
	p, err := ants.NewPool(capacity, ants.WithOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Pool{logger: logger, pool: p}, nil
}

// Submit queues task for execution on a pooled goroutine. Returns
// ants.ErrPoolOverload (via the underlying error) if the pool is at
// capacity and blocking is disabled.
func (p *Pool) Submit(task func()) error {
	return p.pool.Submit(task)
}

// Running returns the number of currently running goroutines.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release closes the pool; it does not wait for in-flight tasks to finish.
func (p *Pool) Release() {
	p.pool.Release()
}
