package gcheap

import "testing"

func TestAllocCellReturnsDistinctCells(t *testing.T) {
	gc := testGC(t)
	m := gc.NewMutator()
	seen := make(map[*Cell]bool)
	for i := 0; i < 1000; i++ {
		c := gc.AllocCell(m)
		if seen[c] {
			t.Fatalf("cell %p allocated twice", c)
		}
		seen[c] = true
	}
}

func TestAllocCellSpansMultiplePages(t *testing.T) {
	gc := testGC(t)
	m := gc.NewMutator()
	for i := 0; i < CellsPerPage*2+10; i++ {
		gc.AllocCell(m)
	}
	if gc.pages.totalAllocatedPages.Load() < 2 {
		t.Errorf("want at least 2 pages allocated, got %d", gc.pages.totalAllocatedPages.Load())
	}
}

func TestAllocCellDuringMarkingClaimsMarkingBit(t *testing.T) {
	gc := testGC(t)
	m := gc.NewMutator()
	gc.marking.Store(true)
	gc.polarity.Store(true)
	c := gc.AllocCell(m)
	if !m.page.Marking().get(m.page.SlotOf(c)) {
		t.Error("a cell allocated during an active marking phase must be pre-claimed as live")
	}
}
