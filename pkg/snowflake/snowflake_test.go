package snowflake

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode_RejectsOutOfRange(t *testing.T) {
	_, err := NewNode(-1)
	assert.ErrorIs(t, err, ErrInvalidNode)

	_, err = NewNode(maxNodeID + 1)
	assert.ErrorIs(t, err, ErrInvalidNode)
}

func TestGenerate_UniqueAndIncreasing(t *testing.T) {
	node, err := NewNode(3)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[ID]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last ID
			for j := 0; j < perWorker; j++ {
				id := node.Generate()
				assert.Greater(t, id, last)
				last = id
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestGenerate_ClockBackwards(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	clock := epoch + 10_000
	node.now = func() int64 { return clock }

	first := node.Generate()
	clock -= 5
	second := node.Generate()

	assert.Greater(t, second, first)
	assert.Equal(t, first.Time(), second.Time())
}
