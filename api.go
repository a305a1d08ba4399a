package gcheap

// This file is the thin mutator-facing surface spec §6 describes:
// enter/exit a busy section, register roots, go through the write
// barrier on every mutable slot write, trigger a collection, and
// manage a root handle's refcount. Everything here forwards straight
// to the subsystem that actually does the work; it exists as one
// place documenting the contract a language runtime embedding this
// package is expected to hold to.

// EnterBusy/ExitBusy/Safepoint/Done are exported directly on *Mutator
// (mutator.go) — re-declared here in doc form only:
//
//	m.EnterBusy()           // before touching any cell
//	... mutate cells, call RootsSlotWrite/CellSlotWrite for every write ...
//	m.Safepoint()           // at loop back-edges and call boundaries
//	m.ExitBusy()            // before blocking or returning control
//	m.Done()                // when the OS thread is retiring for good

// RegisterRoots, RootsSlotWrite, and CellSlotWrite are defined in
// roots.go and barrier.go; AllocCell is defined in alloc.go. Incref/
// Decref live on *RootHandle (roots.go).

// EnqueueDecref posts v directly for release on the next drain, without
// waiting for a cycle to establish it is actually dead. This is the
// mutator-driven counterpart to the GC-driven path below: a language
// runtime that already refcounts a FOREIGN_PTR to zero itself (rather
// than relying on the tracer) can hand it straight to the decref
// worker. Mark-cycle-discovered deaths never go through this call —
// see resolvePendingFinalizers in marker.go, which pushes onto the
// same ring only after checking the post-mark bitmap bit.
func (gc *GC) EnqueueDecref(v Value) {
	gc.ring.Push(v)
}

// NewTombstoneID hands out a fresh stable id for a TOMBSTONE cell,
// drawn from the GC's own tombstone counter (spec §3 "stable id"). That
// counter is separate from the foreign registry's id counter, so a
// tombstone id and a FOREIGN_PTR RegistryID can hold the same number.
func (gc *GC) NewTombstoneID() uint64 {
	return gc.tombstoneID.Add(1)
}

// RegisterForeign registers release with the foreign-pointer registry
// and returns the id a FOREIGN_PTR cell stamps into its RegistryID
// field. Exposed for callers that build the cell by hand (e.g. tests);
// NewForeignPtr below is the normal entry point, since it also tracks
// the cell as a pending finalizer so a collection cycle can ever find
// it dead in the first place.
func (gc *GC) RegisterForeign(release func()) uint64 {
	return gc.fgn.Register(release)
}

// NewForeignPtr allocates a FOREIGN_PTR cell wrapping release and
// appends it to m's thread-local finalizer list (spec §4.3 "thread-
// local list of recently registered finalizers"). The cell's release
// callback never runs until a collection cycle observes the cell
// unmarked at its post-mark bitmap swap (spec §8 invariant 5) and
// enqueues it for the dedicated decref worker (spec §4.7).
func (gc *GC) NewForeignPtr(m *Mutator, release func()) *Cell {
	c := gc.AllocCell(m)
	c.SetType(TypeForeignPtr)
	c.ForeignPtr().RegistryID = gc.fgn.Register(release)
	v := FromPointer(c)
	m.finalizers = append(m.finalizers, finalizerTask{kind: finalizerForeignPtr, value: v})
	return c
}

// NewRegister allocates a REGISTER cell and tracks it the same way:
// once a cycle finds the register itself unreachable, its tombstone
// weak slot is cleared in place (spec §4.6 step 10), rather than left
// for a language runtime to notice on its own.
func (gc *GC) NewRegister(m *Mutator) *Cell {
	c := gc.AllocCell(m)
	c.SetType(TypeRegister)
	v := FromPointer(c)
	m.finalizers = append(m.finalizers, finalizerTask{kind: finalizerRegister, value: v})
	return c
}
