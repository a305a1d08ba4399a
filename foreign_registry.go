package gcheap

import (
	"sync"
	"sync/atomic"

	"github.com/dolthub/maphash"
)

// foreignEntry boxes one FOREIGN_PTR cell's release callback behind an
// atomic.Value, the same "box the payload, swap the box" idiom as the
// teacher's BoxedEntry (map.go) — clear Swaps a no-op into the box, so
// the first caller gets the real callback and every later caller gets
// the no-op; the callback is never read torn.
type foreignEntry struct {
	release atomic.Value // func()
}

func (e *foreignEntry) clear() (func(), bool) {
	v := e.release.Swap(func() {})
	if v == nil {
		return nil, false
	}
	fn, ok := v.(func())
	return fn, ok
}

// ForeignRegistry tracks every live FOREIGN_PTR cell's release
// callback, keyed by the stable id stamped into the cell at creation
// (Cell.ForeignPtr().RegistryID). It's the out-of-line home for a
// callback a raw cell can't carry directly (spec §3: "a function
// pointer has no portable representation" — see cell.go's ForeignPtr
// doc comment).
//
// Grounded on the teacher's BoxedMap (map.go): a plain Go map of boxed
// entries, guarded here by a sharded sync.RWMutex rather than the
// teacher's Roundabout-based LockRing/ShareRing, since this structure
// sees far lower contention than crow's general-purpose concurrent map
// (entries are only touched at FOREIGN_PTR creation and at decref-ring
// drain time, never on the write-barrier hot path) — a plain RWMutex
// is the idiomatic choice the rest of the pack reaches for at this
// contention level. Keys are hashed with the pack's maphash library
// purely to pick a shard, consistent with how the wider example corpus
// uses it for sharded key-space partitioning.
type ForeignRegistry struct {
	shards  [foreignShardCount]foreignShard
	hasher  maphash.Hasher[uint64]
	nextID  atomic.Uint64
}

const foreignShardCount = 16

type foreignShard struct {
	mu      sync.RWMutex
	entries map[uint64]*foreignEntry
}

func NewForeignRegistry() *ForeignRegistry {
	r := &ForeignRegistry{hasher: maphash.NewHasher[uint64]()}
	for i := range r.shards {
		r.shards[i].entries = make(map[uint64]*foreignEntry, 8)
	}
	return r
}

func (r *ForeignRegistry) shardFor(id uint64) *foreignShard {
	h := r.hasher.Hash(id)
	return &r.shards[h%uint64(foreignShardCount)]
}

// Register allocates a fresh registry id and stores its release
// callback, returning the id to be stamped into the cell's
// ForeignPtr.RegistryID.
func (r *ForeignRegistry) Register(release func()) uint64 {
	id := r.nextID.Add(1)
	e := &foreignEntry{}
	e.release.Store(release)
	s := r.shardFor(id)
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
	return id
}

// Release invokes and clears id's callback exactly once, called by the
// decref worker as it drains dead FOREIGN_PTR targets off the DecrefRing
// (spec §4.7). A second call (e.g. a duplicate ring entry) is a no-op.
func (r *ForeignRegistry) Release(id uint64) {
	s := r.shardFor(id)
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if fn, won := e.clear(); won {
		fn()
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Count is a diagnostic for Stats().
func (r *ForeignRegistry) Count() int {
	n := 0
	for i := range r.shards {
		r.shards[i].mu.RLock()
		n += len(r.shards[i].entries)
		r.shards[i].mu.RUnlock()
	}
	return n
}
