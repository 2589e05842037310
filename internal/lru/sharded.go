package lru

// Sharded distributes entries across independently locked LRU shards to
// reduce lock contention. Capacity is divided evenly, so recency is tracked
// per shard rather than globally.
type Sharded[K comparable, V any] struct {
	shards []*LRU[K, V]
	hash   func(K) uint64
}

// NewSharded creates n shards of cfg.Capacity/n each. hash selects the shard
// for a key and must be deterministic.
func NewSharded[K comparable, V any](n int, cfg Config[K, V], hash func(K) uint64) *Sharded[K, V] {
	if n < 1 {
		n = 1
	}
	shardCfg := cfg
	shardCfg.Capacity = cfg.Capacity / int64(n)
	if shardCfg.Capacity < 1 {
		shardCfg.Capacity = 1
	}

	s := &Sharded[K, V]{
		shards: make([]*LRU[K, V], n),
		hash:   hash,
	}
	for i := range n {
		s.shards[i] = New(shardCfg)
	}
	return s
}

func (s *Sharded[K, V]) shard(key K) *LRU[K, V] {
	if len(s.shards) == 1 {
		return s.shards[0]
	}
	return s.shards[s.hash(key)%uint64(len(s.shards))]
}

// Get returns a cached value.
func (s *Sharded[K, V]) Get(key K) (V, bool) {
	return s.shard(key).Get(key)
}

// Set caches a value.
func (s *Sharded[K, V]) Set(key K, value V) bool {
	return s.shard(key).Set(key, value)
}

// Remove deletes a value.
func (s *Sharded[K, V]) Remove(key K) bool {
	return s.shard(key).Remove(key)
}

// RunPendingTasks sweeps expired entries in every shard.
func (s *Sharded[K, V]) RunPendingTasks() {
	for _, sh := range s.shards {
		sh.RunPendingTasks()
	}
}

// Len returns the number of entries across all shards.
func (s *Sharded[K, V]) Len() int {
	var n int
	for _, sh := range s.shards {
		n += sh.Len()
	}
	return n
}

// Size returns the total weight across all shards.
func (s *Sharded[K, V]) Size() int64 {
	var total int64
	for _, sh := range s.shards {
		total += sh.Size()
	}
	return total
}

// Stats returns aggregated statistics.
func (s *Sharded[K, V]) Stats() (hits, misses, evictions int64) {
	for _, sh := range s.shards {
		h, m, e := sh.Stats()
		hits += h
		misses += m
		evictions += e
	}
	return hits, misses, evictions
}

// ShardStats provides per-shard statistics for debugging.
type ShardStats struct {
	ShardID int
	Entries int
	Size    int64
}

// ShardStats returns per-shard statistics.
func (s *Sharded[K, V]) ShardStats() []ShardStats {
	stats := make([]ShardStats, len(s.shards))
	for i, sh := range s.shards {
		stats[i] = ShardStats{ShardID: i, Entries: sh.Len(), Size: sh.Size()}
	}
	return stats
}
