package tx

import "sync"

// numShards spreads keys across independent locks so unrelated keys rarely
// contend.
const numShards = 128

// ShardedMutex serializes work per key without a global lock.
type ShardedMutex struct {
	shards [numShards]sync.Mutex
}

// Lock acquires the shard owning key and returns its unlock func.
func (m *ShardedMutex) Lock(key string) func() {
	mu := &m.shards[hashString(key)%numShards]
	mu.Lock()
	return mu.Unlock
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
