package gcheap

import "sync/atomic"

// RootSlots is implemented by an owner-side root structure (spec §3
// "Root structure", §6 register_roots). Per spec §9's own redesign
// note ("replace [raw offsets] with a per-owner scan callback that
// yields slot references, plus a side bitmap indexed by slot ordinal"),
// slots are addressed by ordinal position rather than by raw byte
// offset into the owner's storage — this preserves SATB semantics
// without leaking field layout across the package boundary, while
// still matching the mutator-facing contract's register_roots shape.
type RootSlots interface {
	// SlotCount is the fixed number of root slots this structure
	// exposes. Must not change for the structure's lifetime (spec:
	// "assumes offsets are fixed for the lifetime of the structure").
	SlotCount() int
	// SlotAt returns a pointer to slot i, valid for as long as the
	// owner holds a reference to the structure.
	SlotAt(i int) *Value
}

// RootHandle is one registered root structure: the GC-visible half of
// spec §3's "Root structure" record (self pointer, finalizer, refcount,
// per-slot SATB bitmap, last-traced cycle).
type RootHandle struct {
	owner      RootSlots
	finalizer  func(*RootHandle)
	refcount   atomic.Int64
	satb       *markBitmap // one bit per slot ordinal; "scanned" polarity
	lastCycle  atomic.Uint64
	registered atomic.Bool
	finalized  atomic.Bool
	next       atomic.Pointer[RootHandle]
}

func (h *RootHandle) nextPtr() *atomic.Pointer[RootHandle] { return &h.next }

// SlotCount is a small convenience mirror of the owner's.
func (h *RootHandle) SlotCount() int { return h.owner.SlotCount() }

// rootRegistry is the global roots list: a lock-free stack for
// registration (spec §4.2 "Roots list is a lock-free stack for push")
// plus bulk filtering under stop-the-world for refcount-zero eviction.
type rootRegistry struct {
	list  lstack[RootHandle, *RootHandle]
	count atomic.Int64
}

func newRootRegistry() *rootRegistry { return &rootRegistry{} }

// RegisterRoots initializes every listed slot to VOID, builds the per-slot
// SATB bitmap in the current scan polarity, and pushes the handle onto
// the global roots list (spec §4.4).
func (gc *GC) RegisterRoots(owner RootSlots, finalizer func(*RootHandle)) *RootHandle {
	n := owner.SlotCount()
	for i := 0; i < n; i++ {
		*owner.SlotAt(i) = Void
	}
	h := &RootHandle{owner: owner, finalizer: finalizer, satb: newMarkBitmap(n)}
	h.refcount.Store(1)
	h.registered.Store(true)
	// A freshly registered root starts every slot "already captured" for
	// the current polarity, mirroring Cell.resetScanBits: there is no
	// prior value for the write barrier to need snapshotting.
	if gc.scanPolarity() {
		for w := range h.satb.words {
			h.satb.words[w].Store(^uint64(0))
		}
	}
	gc.roots.list.push(h)
	gc.roots.count.Add(1)
	return h
}

// Incref/Decref manage a root handle's reference count. When it
// drops to zero, per spec §3 "Lifecycle": "the GC thread (under
// stop-the-world) extracts them from the global list and invokes their
// finalizer." We don't literally splice the lock-free list outside of
// stop-the-world (that's exactly the hazard the lock-free-push,
// filter-under-STW design avoids); instead we mark the handle dead and
// let the next cycle's root-list filter pass do the extraction and
// finalizer call, which is observably equivalent and matches "appears
// exactly once in the roots list" (spec §8 invariant 6) until that
// pass runs.
func (h *RootHandle) Incref() { h.refcount.Add(1) }

func (h *RootHandle) Decref() {
	if h.refcount.Add(-1) == 0 {
		h.registered.Store(false)
	}
}

func (h *RootHandle) Live() bool { return h.registered.Load() }

// filterDeadRoots is run once per cycle under stop-the-world (see
// marker.go's runCycle): it walks the roots list, returns every handle
// whose refcount dropped to zero (once per handle) so the caller can
// invoke its finalizer, if any, and drops the registry's live count so
// Stats() and the §4.6 heuristic ("root count grew by > 1024 since last
// cycle") stay accurate. The list itself keeps the dead node physically
// linked (lstack has no O(1) removal) but Live() being false means no
// future cycle traces or re-finalizes it.
func (rr *rootRegistry) filterDeadRoots() (finalized []*RootHandle) {
	for n := rr.list.head.Load(); n != nil; n = n.next.Load() {
		if !n.Live() && n.finalized.CompareAndSwap(false, true) {
			finalized = append(finalized, n)
			rr.count.Add(-1)
		}
	}
	return finalized
}
