package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushRunsUnitsInOrder(t *testing.T) {
	uow := NewUnitOfWork()
	var order []int
	uow.Intercept(func(ctx context.Context) error { order = append(order, 1); return nil })
	uow.Intercept(func(ctx context.Context) error { order = append(order, 2); return nil })

	require.NoError(t, uow.Flush(context.Background()))
	assert.Equal(t, []int{1, 2}, order)

	// the queue is drained, a second flush is a no-op
	require.NoError(t, uow.Flush(context.Background()))
	assert.Equal(t, []int{1, 2}, order)
}

func TestFlushJoinsErrorsButRunsAllUnits(t *testing.T) {
	uow := NewUnitOfWork()
	first := errors.New("first failed")
	var ran bool
	uow.Intercept(func(ctx context.Context) error { return first })
	uow.Intercept(func(ctx context.Context) error { ran = true; return nil })

	err := uow.Flush(context.Background())
	require.ErrorIs(t, err, first)
	assert.True(t, ran, "units after a failing one must still run")
}

func TestDiscardDropsQueuedUnits(t *testing.T) {
	uow := NewUnitOfWork()
	var ran bool
	uow.Intercept(func(ctx context.Context) error { ran = true; return nil })

	uow.Discard()
	require.NoError(t, uow.Flush(context.Background()))
	assert.False(t, ran)
}
