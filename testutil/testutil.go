package testutil

import (
	"encoding/binary"
	"math/rand"
	"sync"

	"github.com/hupe1980/pagecache/blobstore"
)

// SequentialObject returns n big-endian uint64 values 0, 1, ..., n-1.
// Any byte range of it can be verified without keeping a copy around.
func SequentialObject(n int) []byte {
	data := make([]byte, n*8)
	for i := range n {
		binary.BigEndian.PutUint64(data[i*8:], uint64(i))
	}
	return data
}

// ValueAt decodes the i-th uint64 of a SequentialObject.
func ValueAt(data []byte, i int) uint64 {
	return binary.BigEndian.Uint64(data[i*8:])
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Bytes returns n pseudo-random bytes.
func (r *RNG) Bytes(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	r.rand.Read(b)
	return b
}

// Range returns a random range [start, end) with 0 <= start <= end <= size.
func (r *RNG) Range(size int64) blobstore.Range {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.rand.Int63n(size + 1)
	b := r.rand.Int63n(size + 1)
	if a > b {
		a, b = b, a
	}
	return blobstore.Range{Start: a, End: b}
}
