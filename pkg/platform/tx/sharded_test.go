package tx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_SerializesSameKey(t *testing.T) {
	var m ShardedMutex
	counter := 0
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("provider-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, counter)
}

func TestHashString_Stable(t *testing.T) {
	assert.Equal(t, hashString("abc"), hashString("abc"))
	assert.NotEqual(t, hashString("abc"), hashString("abd"))
}
