package cache

import (
	"sync"
	"sync/atomic"
)

// locationTable interns location strings to dense ids.
//
// Ids are handed out by a monotonic counter and never reused. Removing a
// location drops only the mapping; the next intern allocates a fresh id.
type locationTable struct {
	mu   sync.RWMutex
	ids  map[string]LocationID
	next atomic.Uint64
}

func newLocationTable() *locationTable {
	return &locationTable{ids: make(map[string]LocationID)}
}

// lookup returns the id of location without allocating one.
func (t *locationTable) lookup(location string) (LocationID, bool) {
	t.mu.RLock()
	id, ok := t.ids[location]
	t.mu.RUnlock()
	return id, ok
}

// intern returns the id of location, allocating it on first use.
func (t *locationTable) intern(location string) LocationID {
	if id, ok := t.lookup(location); ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Another goroutine may have won the race between the locks.
	if id, ok := t.ids[location]; ok {
		return id
	}
	id := LocationID(t.next.Add(1))
	t.ids[location] = id
	return id
}

// remove drops the mapping for location.
func (t *locationTable) remove(location string) {
	t.mu.Lock()
	delete(t.ids, location)
	t.mu.Unlock()
}

func (t *locationTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}
