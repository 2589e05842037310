// Package lru provides the weighted, capacity-bounded, time-to-idle store
// that backs the in-memory page cache.
//
// Recency is a doubly linked list ordered by last access. Capacity eviction
// happens inline on Set; idle expiry is opportunistic: reads treat an expired
// entry as a miss, writes sweep expired entries from the cold end, and
// RunPendingTasks sweeps on demand.
//
// Sharded splits the key space across independently locked LRUs selected
// by a caller supplied hash.
package lru
