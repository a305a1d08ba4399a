package gcheap

import "math/bits"

// AllocCell hands the calling mutator a fresh cell. Spec §4.3's lazy
// sweep-on-alloc allocator: there is no separate sweep phase walking
// dead cells — a page's "marked" bitmap (last cycle's live set, or all
// zero for a never-traced page) is read lazily, one word at a time, as
// mutators ask for cells, and a cleared bit is simply a free cell.
func (gc *GC) AllocCell(m *Mutator) *Cell {
	for {
		if m.page == nil {
			gc.acquirePageForMutator(m)
		}
		if c, ok := gc.allocFromPage(m); ok {
			return c
		}
		gc.releaseOwnedPage(m)
	}
}

// allocFromPage scans m's current page's free-bit cursor forward,
// claiming the first free slot it finds.
func (gc *GC) allocFromPage(m *Mutator) (*Cell, bool) {
	bm := m.page.Marked()
	words := bm.wordCount()
	for m.markWord < words {
		if m.freeBits == 0 {
			m.freeBits = ^bm.load(m.markWord)
			if m.freeBits == 0 {
				m.markWord++
				continue
			}
		}
		bit := bits.TrailingZeros64(m.freeBits)
		mask := uint64(1) << uint(bit)
		m.freeBits &^= mask
		slot := m.markWord*64 + bit
		if slot >= CellsPerPage {
			m.markWord = words
			m.freeBits = 0
			continue
		}
		if !bm.set(slot) {
			// A concurrent claim beat us to this bit. Pages are privately
			// owned by one mutator at a time so this only happens if the
			// page was just reclaimed out from under a stale cursor;
			// re-read the word and keep going rather than trusting the
			// cached freeBits snapshot.
			m.freeBits = ^bm.load(m.markWord) &^ (mask - 1) &^ mask
			continue
		}
		c := m.page.CellAt(slot)
		// spec invariant 5: a cell allocated while marking is active is
		// considered live for the *whole* current cycle, regardless of
		// whether the tracer ever independently reaches it — claim its
		// marking bit immediately so it survives the end-of-cycle swap.
		if gc.marking.Load() {
			m.page.Marking().set(slot)
		}
		c.resetScanBits(gc.scanPolarity())
		m.freedThisPage++
		return c, true
	}
	return nil, false
}

// acquirePageForMutator pulls a page from the pool's avail list
// (pages with free runs to sweep), falling back to a fresh claim from
// the heap pool, per spec §4.2's avail/await circulation. Pages on
// await only come back through the per-cycle recycle pass.
func (gc *GC) acquirePageForMutator(m *Mutator) {
	if p, ok := gc.pages.popAvail(); ok {
		gc.ownPage(m, p)
		return
	}
	p := gc.pages.acquireFresh()
	gc.ownPage(m, p)
}

func (gc *GC) ownPage(m *Mutator, p *Page) {
	p.cycleAcquired.Store(gc.cycleGen.Load())
	m.page = p
	m.markWord = 0
	m.freeBits = 0
	m.freedThisPage = 0
	gc.pages.threadsHoldingPages.Add(1)
}

// releaseOwnedPage returns a fully-swept page to the pool. The page
// the mutator exhausted (no free bit left in "marked") goes to await,
// with Page.deferReuse seeded from the utilization heuristic
// (deferReuseHeuristic) so the cycle orchestration's per-cycle recycle
// pass (pagePool.recycleAwait, spec §4.6 step 11) knows how many more
// cycles to hold it back before it's eligible to move to avail again;
// a heuristic value of 0 makes it eligible at the next cycle.
func (gc *GC) releaseOwnedPage(m *Mutator) {
	p := m.page
	m.page = nil
	gc.pages.threadsHoldingPages.Add(-1)
	p.cycleReleased.Store(gc.cycleGen.Load())
	p.deferReuse.Store(p.deferReuseHeuristic())
	gc.pages.pushAwait(p)
}
