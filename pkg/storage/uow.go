package storage

import (
	"context"
	"errors"
)

// WorkUnit is one queued store mutation bound to the acting process
// instance.
type WorkUnit func(ctx context.Context) error

// UnitOfWork batches store mutations emitted during one logical operation.
// The engine never writes to the store synchronously; every mutation is
// intercepted and flushed by the caller-owned boundary.
type UnitOfWork interface {
	Intercept(unit WorkUnit)
	// Flush runs the queued units in order and clears the queue. Errors
	// are joined, later units still run.
	Flush(ctx context.Context) error
	// Discard drops the queued units without running them.
	Discard()
}

type unitOfWork struct {
	units []WorkUnit
}

// NewUnitOfWork returns an in-memory unit of work. Commit/rollback
// semantics beyond Flush/Discard belong to the embedding transaction layer.
func NewUnitOfWork() UnitOfWork {
	return &unitOfWork{units: make([]WorkUnit, 0, 4)}
}

func (u *unitOfWork) Intercept(unit WorkUnit) {
	u.units = append(u.units, unit)
}

func (u *unitOfWork) Flush(ctx context.Context) error {
	var joined error
	for _, unit := range u.units {
		if err := unit(ctx); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	u.units = u.units[:0]
	return joined
}

func (u *unitOfWork) Discard() {
	u.units = u.units[:0]
}
