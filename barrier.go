package gcheap

// RootsSlotWrite is the SATB write barrier for a root structure's
// slot (spec §4.4). Outside an active marking phase it's a plain
// store; while marking is active, the slot's prior value is captured
// onto the snapshot stack the first time this slot is written this
// cycle, and if that prior value was itself an unmarked pointer, its
// owning page gets a mark bit set so the tracer picks it up.
func (gc *GC) RootsSlotWrite(h *RootHandle, slot int, newVal Value) {
	ptr := h.owner.SlotAt(slot)
	if !gc.marking.Load() {
		*ptr = newVal
		return
	}
	prior := *ptr
	if h.satb.tryCapture(slot, gc.scanPolarity()) {
		gc.captureStaleField(prior)
	}
	*ptr = newVal
}

// CellSlotWrite is the write barrier's cell-field counterpart, used
// whenever mutable cell state changes a child pointer (REGISTER's
// assoc_lhs/tombstone go through their own atomic accessors in cell.go
// instead, since those aren't SATB-tracked child slots).
func (gc *GC) CellSlotWrite(c *Cell, slot int, newVal Value) {
	ptr := c.SlotPtr(slot)
	if !gc.marking.Load() {
		*ptr = newVal
		return
	}
	prior := *ptr
	if c.TryCaptureScanBit(slot, gc.scanPolarity()) {
		gc.captureStaleField(prior)
	}
	*ptr = newVal
}

// captureStaleField pushes a snapshot entry for prior if it's a
// pointer the tracer hasn't reached yet. Winning the page's mark bit
// here (rather than just always pushing) keeps the snapshot stack from
// growing unboundedly when the same cell is overwritten repeatedly in
// one cycle — only the first capture per cell per cycle enqueues it.
func (gc *GC) captureStaleField(prior Value) {
	if !prior.IsPointer() {
		return
	}
	p, ok := gc.ownerOf(prior)
	if !ok {
		return
	}
	if p.Marking().set(p.SlotOf(prior.Pointer())) {
		gc.pushSnapshot(prior)
	}
}
