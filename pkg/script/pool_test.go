package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct{ id int }

func (stubRunner) Runner() {}

type stubFactory struct{ created int }

func (f *stubFactory) NewRunner() Runner {
	f.created++
	return stubRunner{id: f.created}
}

func TestPoolPrewarmsMinRunners(t *testing.T) {
	factory := &stubFactory{}
	NewRunnerPool(context.Background(), factory, 4, 2)
	assert.Equal(t, 2, factory.created)
}

func TestPoolGrowsToMaxThenBlocks(t *testing.T) {
	factory := &stubFactory{}
	pool := NewRunnerPool(context.Background(), factory, 2, 1)

	first := pool.Get()
	second := pool.Get()
	require.Equal(t, 2, factory.created)

	released := make(chan Runner)
	go func() {
		released <- pool.Get()
	}()

	select {
	case <-released:
		t.Fatal("Get must block while the pool is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Put(first)
	select {
	case runner := <-released:
		assert.Equal(t, first, runner)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake up after Put")
	}
	pool.Put(second)
}

func TestPoolPanicsOnInvalidSizes(t *testing.T) {
	assert.Panics(t, func() {
		NewRunnerPool(context.Background(), &stubFactory{}, 1, 2)
	})
}
