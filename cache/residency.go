package cache

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// residency tracks which page ids of each location are resident.
//
// The index is advisory: it is updated after the page store admits or
// evicts an entry, so a concurrent reader may briefly observe a page that is
// already gone or not yet listed.
type residency struct {
	mu    sync.Mutex
	pages map[LocationID]*roaring64.Bitmap
}

func newResidency() *residency {
	return &residency{pages: make(map[LocationID]*roaring64.Bitmap)}
}

func (r *residency) add(key PageKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, ok := r.pages[key.Location]
	if !ok {
		bm = roaring64.New()
		r.pages[key.Location] = bm
	}
	bm.Add(key.Page)
}

func (r *residency) remove(key PageKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, ok := r.pages[key.Location]
	if !ok {
		return
	}
	bm.Remove(key.Page)
	if bm.IsEmpty() {
		delete(r.pages, key.Location)
	}
}

// snapshot returns the resident page ids of id in ascending order.
func (r *residency) snapshot(id LocationID) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, ok := r.pages[id]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// locations returns the number of locations with at least one resident page.
func (r *residency) locations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}
