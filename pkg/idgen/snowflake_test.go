package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnowflakeRejectsInvalidWorker(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.Error(t, err)

	_, err = NewSnowflake(maxWorkerID + 1)
	assert.Error(t, err)
}

func TestGenerateIsUniqueUnderConcurrency(t *testing.T) {
	sf, err := NewSnowflake(7)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	ids := make(chan int64, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- sf.Generate()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, workers*perWorker)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestGenerateTransactionID(t *testing.T) {
	a := GenerateTransactionID()
	b := GenerateTransactionID()

	assert.True(t, strings.HasPrefix(a, "TXN"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToUpper(a), a)
}

func TestGenerateEventKey(t *testing.T) {
	key := GenerateEventKey("evt")
	assert.True(t, strings.HasPrefix(key, "evt-"))
}
