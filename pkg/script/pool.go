package script

import (
	"context"
	"sync"
	"time"
)

// RunnerPool keeps a bounded set of warm runners. VMs are expensive to
// create, so the pool grows on demand up to max and shrinks back to min on a
// periodic sweep.
type RunnerPool struct {
	pool          chan Runner
	runnerFactory RunnerFactory
	activeCount   int
	activeMu      sync.Mutex
	maxPoolSize   int
	minPoolSize   int
}

func NewRunnerPool(ctx context.Context, runnerFactory RunnerFactory, maxPoolSize int, minPoolSize int) *RunnerPool {
	if maxPoolSize < minPoolSize {
		panic("runner pool max size is smaller than min size")
	}

	rp := RunnerPool{
		pool:          make(chan Runner, maxPoolSize),
		runnerFactory: runnerFactory,
		maxPoolSize:   maxPoolSize,
		minPoolSize:   minPoolSize,
	}

	for i := 0; i < minPoolSize; i++ {
		rp.activeMu.Lock()
		rp.pool <- rp.runnerFactory.NewRunner()
		rp.activeCount++
		rp.activeMu.Unlock()
	}

	go rp.sweep(ctx)
	return &rp
}

// sweep discards idle runners above the minimum every 10 minutes.
func (rp *RunnerPool) sweep(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for len(rp.pool) > rp.minPoolSize {
				rp.activeMu.Lock()
				select {
				case <-rp.pool:
					rp.activeCount--
				default:
				}
				rp.activeMu.Unlock()
			}
		case <-ctx.Done():
			return
		}
	}
}

// Get returns a pooled runner, creating a new one while below max, and
// blocks when the pool is exhausted.
func (rp *RunnerPool) Get() Runner {
	var runner Runner
	select {
	case runner = <-rp.pool:
	default:
		rp.activeMu.Lock()
		if rp.activeCount < rp.maxPoolSize {
			runner = rp.runnerFactory.NewRunner()
			rp.activeCount++
		}
		rp.activeMu.Unlock()
		if runner == nil {
			runner = <-rp.pool
		}
	}
	return runner
}

// Put returns a runner to the pool, dropping it when the pool is full.
func (rp *RunnerPool) Put(runner Runner) {
	select {
	case rp.pool <- runner:
	default:
		rp.activeMu.Lock()
		rp.activeCount--
		rp.activeMu.Unlock()
	}
}
