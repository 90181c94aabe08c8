// Package inmemory keeps the live process instances in a key-unique
// concurrent map. It is the default store for embedded engines and tests;
// durable adapters implement the same interface elsewhere.
package inmemory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/flowrun-io/flowrun/pkg/storage"
)

// Store tracks active process instances keyed by correlation key when one
// is present, by instance id otherwise. Create is an atomic
// insert-if-absent; racing creators observe storage.ErrDuplicate.
type Store struct {
	mu        sync.RWMutex
	instances map[string]storage.Instance
}

var _ storage.Store = &Store{}

func NewStore() *Store {
	return &Store{instances: make(map[string]storage.Instance)}
}

func (mem *Store) Size() int {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return len(mem.instances)
}

func (mem *Store) Create(ctx context.Context, id string, instance storage.Instance) error {
	if !instance.Active() {
		return nil
	}
	key := resolveKey(id, instance)
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if _, exists := mem.instances[key]; exists {
		return fmt.Errorf("instance with key %s already exists: %w", key, storage.ErrDuplicate)
	}
	mem.instances[key] = instance
	return nil
}

func (mem *Store) Update(ctx context.Context, id string, instance storage.Instance) error {
	if !instance.Active() {
		return nil
	}
	key := resolveKey(id, instance)
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if _, exists := mem.instances[key]; exists {
		mem.instances[key] = instance
	}
	return nil
}

func (mem *Store) Remove(ctx context.Context, id string, instance storage.Instance) error {
	key := resolveKey(id, instance)
	mem.mu.Lock()
	defer mem.mu.Unlock()
	delete(mem.instances, key)
	return nil
}

func (mem *Store) FindByID(ctx context.Context, id string, mode storage.ReadMode) (storage.Instance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	if instance, ok := mem.instances[id]; ok {
		return instance, nil
	}
	// the caller may hold the internal id of an instance keyed by its
	// correlation key
	for _, instance := range mem.instances {
		if instance.ID() == id {
			return instance, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (mem *Store) FindByIDOrTag(ctx context.Context, mode storage.ReadMode, values ...string) []storage.Instance {
	// matching happens on a snapshot; Tags() takes the instance lock and
	// must not be called under the store lock
	mem.mu.RLock()
	keys := make([]string, 0, len(mem.instances))
	snapshot := make([]storage.Instance, 0, len(mem.instances))
	for key, instance := range mem.instances {
		keys = append(keys, key)
		snapshot = append(snapshot, instance)
	}
	mem.mu.RUnlock()

	collected := make([]storage.Instance, 0)
	for _, value := range values {
		for i, instance := range snapshot {
			if keys[i] == value || instance.ID() == value || slices.Contains(instance.Tags(), value) {
				collected = append(collected, instance)
			}
		}
	}
	return collected
}

func (mem *Store) Values(ctx context.Context, mode storage.ReadMode) []storage.Instance {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]storage.Instance, 0, len(mem.instances))
	for _, instance := range mem.instances {
		res = append(res, instance)
	}
	return res
}

func (mem *Store) Exists(ctx context.Context, id string) bool {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	_, ok := mem.instances[id]
	return ok
}

func resolveKey(id string, instance storage.Instance) string {
	if ck := instance.CorrelationKey(); ck != "" {
		return ck
	}
	return id
}
