package gcheap

import (
	"testing"

	"go.uber.org/zap"
)

func testHeap(t *testing.T) *Heap {
	t.Helper()
	h, err := TryReserveHeap(zap.NewNop())
	if err != nil {
		t.Fatalf("reserve heap: %v", err)
	}
	return h
}

func TestClaimPageVerifyMagic(t *testing.T) {
	h := testHeap(t)
	defer h.destroy()
	p, ok := h.claimPage()
	if !ok {
		t.Fatal("expected a free page")
	}
	if !p.VerifyMagic() {
		t.Error("freshly claimed page should verify its own magic word")
	}
}

func TestPageCellAtSlotOfRoundTrip(t *testing.T) {
	h := testHeap(t)
	defer h.destroy()
	p, _ := h.claimPage()
	for _, slot := range []int{0, 1, CellsPerPage / 2, CellsPerPage - 1} {
		c := p.CellAt(slot)
		if got := p.SlotOf(c); got != slot {
			t.Errorf("slot %d: SlotOf(CellAt(%d)) = %d", slot, slot, got)
		}
	}
}

func TestPageContains(t *testing.T) {
	h := testHeap(t)
	defer h.destroy()
	p, _ := h.claimPage()
	c := p.CellAt(0)
	last := p.CellAt(CellsPerPage - 1)
	if !p.Contains(uintptrFromPtr(c)) {
		t.Error("page should contain its own first cell")
	}
	if !p.Contains(uintptrFromPtr(last)) {
		t.Error("page should contain its own last cell")
	}
}

func TestSwapBitmapsAndClearMarking(t *testing.T) {
	h := testHeap(t)
	defer h.destroy()
	p, _ := h.claimPage()
	p.Marking().set(7)
	p.SwapBitmaps()
	if !p.Marked().get(7) {
		t.Fatal("after swap, the bit set in 'marking' should appear in 'marked'")
	}
	p.ClearMarking()
	if p.Marking().countSet() != 0 {
		t.Error("ClearMarking should leave the new marking bitmap empty")
	}
}

func TestDeferReuseHeuristic(t *testing.T) {
	h := testHeap(t)
	defer h.destroy()
	p, _ := h.claimPage()
	for i := 0; i < 16; i++ {
		p.recordUtilization(255) // fully utilized every recent cycle
	}
	if got := p.deferReuseHeuristic(); got <= 0 {
		t.Errorf("a page fully utilized for 16 cycles should defer reuse, got %d", got)
	}
	p2, _ := h.claimPage()
	for i := 0; i < 16; i++ {
		p2.recordUtilization(0) // always empty
	}
	if got := p2.deferReuseHeuristic(); got != 0 {
		t.Errorf("an always-empty page should not defer reuse, got %d", got)
	}
}
