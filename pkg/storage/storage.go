package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that miss.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by Create when the key is already tracked.
var ErrDuplicate = errors.New("duplicate instance")

// ReadMode selects whether a lookup result may be mutated by the caller.
type ReadMode int

const (
	ReadOnly ReadMode = iota
	Mutable
)

// Instance is the store's view of a process instance. The engine's process
// instance type implements it; the store never inspects execution state
// beyond these accessors.
type Instance interface {
	// ID is the internal instance id.
	ID() string
	// CorrelationKey is the external business key, empty when unset.
	// Instances carrying one are keyed by it in the store.
	CorrelationKey() string
	// Active reports whether the instance is in an active lifecycle state
	// (including the retriable error state). Create and Update only act
	// on active instances.
	Active() bool
	// Tags returns the current tag values.
	Tags() []string
}

// Store is the live repository of process instances. Create must be an
// atomic insert-if-absent; Update and Remove are plain upsert/delete guarded
// by the per-instance lock upstream.
type Store interface {
	Create(ctx context.Context, id string, instance Instance) error
	Update(ctx context.Context, id string, instance Instance) error
	Remove(ctx context.Context, id string, instance Instance) error
	FindByID(ctx context.Context, id string, mode ReadMode) (Instance, error)
	FindByIDOrTag(ctx context.Context, mode ReadMode, values ...string) []Instance
	Values(ctx context.Context, mode ReadMode) []Instance
	Exists(ctx context.Context, id string) bool
}
