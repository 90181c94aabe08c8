package workflow

import (
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalIDGeneratorSharedNode(t *testing.T) {
	const callers = 16
	var wg sync.WaitGroup
	nodes := make([]*snowflake.Node, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nodes[i] = globalIDGenerator()
		}(i)
	}
	wg.Wait()

	for _, node := range nodes {
		require.Same(t, nodes[0], node)
	}

	seen := make(map[int64]struct{})
	for i := 0; i < 100; i++ {
		key := globalIDGenerator().Generate().Int64()
		_, dup := seen[key]
		assert.False(t, dup, "generated keys must be unique")
		seen[key] = struct{}{}
	}
}
