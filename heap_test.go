package gcheap

import (
	"testing"

	"go.uber.org/zap"
)

func TestHeapPoolGrowsOnExhaustion(t *testing.T) {
	hp := newHeapPool(zap.NewNop())
	var claimed []*Page
	for i := 0; i < PagesPerHeap; i++ {
		claimed = append(claimed, hp.acquirePage())
	}
	if len(hp.heaps) != 1 {
		t.Fatalf("want 1 heap after claiming exactly one heap's worth, got %d", len(hp.heaps))
	}
	overflow := hp.acquirePage()
	if overflow == nil {
		t.Fatal("expected a page from a freshly grown heap")
	}
	if len(hp.heaps) != 2 {
		t.Errorf("want 2 heaps after exhausting the first, got %d", len(hp.heaps))
	}
}

func TestHeapPoolFindResolvesAddress(t *testing.T) {
	hp := newHeapPool(zap.NewNop())
	p := hp.acquirePage()
	c := p.CellAt(3)
	found, ok := hp.find(uintptrFromPtr(c))
	if !ok || found != p {
		t.Fatalf("find should resolve the cell's address back to its owning page, got (%v, %v)", found, ok)
	}
}

func TestHeapPoolFindMissesUnmappedAddress(t *testing.T) {
	hp := newHeapPool(zap.NewNop())
	hp.acquirePage()
	if _, ok := hp.find(0xdeadbeef); ok {
		t.Error("find should not resolve a bogus address")
	}
}

func TestHeapReleasePageClearsSlot(t *testing.T) {
	h := testHeap(t)
	p, _ := h.claimPage()
	h.releasePage(p)
	if p2 := h.pages[p.index].Load(); p2 != nil {
		t.Error("releasing a page should clear its slot")
	}
}
