package inmemory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrun-io/flowrun/pkg/storage"
)

type fakeInstance struct {
	id     string
	key    string
	active bool
	tags   []string
}

func (f *fakeInstance) ID() string             { return f.id }
func (f *fakeInstance) CorrelationKey() string { return f.key }
func (f *fakeInstance) Active() bool           { return f.active }
func (f *fakeInstance) Tags() []string         { return f.tags }

func TestCreateIsInsertIfAbsent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first := &fakeInstance{id: "i-1", key: "order-1", active: true}
	require.NoError(t, store.Create(ctx, "order-1", first))

	second := &fakeInstance{id: "i-2", key: "order-1", active: true}
	err := store.Create(ctx, "order-1", second)
	require.ErrorIs(t, err, storage.ErrDuplicate)

	found, err := store.FindByID(ctx, "order-1", storage.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, "i-1", found.ID())
}

func TestCreateSkipsInactiveInstances(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	done := &fakeInstance{id: "i-1", active: false}
	require.NoError(t, store.Create(ctx, "i-1", done))
	assert.Equal(t, 0, store.Size())
}

func TestFindByIDFallsBackToInternalID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	keyed := &fakeInstance{id: "i-1", key: "order-1", active: true}
	require.NoError(t, store.Create(ctx, "order-1", keyed))

	byKey, err := store.FindByID(ctx, "order-1", storage.ReadOnly)
	require.NoError(t, err)
	byID, err := store.FindByID(ctx, "i-1", storage.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, byKey, byID)

	_, err = store.FindByID(ctx, "ghost", storage.ReadOnly)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindByIDOrTag(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	a := &fakeInstance{id: "i-1", key: "order-1", active: true, tags: []string{"orders", "acme"}}
	b := &fakeInstance{id: "i-2", active: true, tags: []string{"orders"}}
	require.NoError(t, store.Create(ctx, "order-1", a))
	require.NoError(t, store.Create(ctx, "i-2", b))

	assert.Len(t, store.FindByIDOrTag(ctx, storage.ReadOnly, "orders"), 2)
	assert.Len(t, store.FindByIDOrTag(ctx, storage.ReadOnly, "acme"), 1)
	assert.Len(t, store.FindByIDOrTag(ctx, storage.ReadOnly, "i-2"), 1)
	assert.Empty(t, store.FindByIDOrTag(ctx, storage.ReadOnly, "ghost"))
}

func TestRemoveReleasesKey(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	a := &fakeInstance{id: "i-1", key: "order-1", active: true}
	require.NoError(t, store.Create(ctx, "order-1", a))
	require.NoError(t, store.Remove(ctx, "order-1", a))
	assert.False(t, store.Exists(ctx, "order-1"))

	b := &fakeInstance{id: "i-2", key: "order-1", active: true}
	require.NoError(t, store.Create(ctx, "order-1", b))
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	const racers = 32
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			instance := &fakeInstance{id: "i", key: "order-1", active: true}
			errs[i] = store.Create(ctx, "order-1", instance)
		}(i)
	}
	wg.Wait()

	var winners int
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, storage.ErrDuplicate)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, store.Size())
}
