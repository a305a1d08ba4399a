package gcheap

import "testing"

func TestRootsSlotWriteCapturesPriorValueWhileMarking(t *testing.T) {
	gc := testGC(t)
	m := gc.NewMutator()
	owner := &fakeRoots{}
	h := gc.RegisterRoots(owner, nil)

	m.EnterBusy()
	c := gc.AllocCell(m)
	c.SetType(TypeStem)
	gc.RootsSlotWrite(h, 0, FromPointer(c))
	m.ExitBusy()

	gc.marking.Store(true)
	gc.polarity.Store(!gc.polarity.Load())

	gc.RootsSlotWrite(h, 0, Void)

	found := false
	for _, v := range gc.drainSnapshots() {
		if v == FromPointer(c) {
			found = true
		}
	}
	if !found {
		t.Error("overwriting a root slot during marking must snapshot its prior pointer value")
	}
}

func TestRootsSlotWriteSkipsBarrierOutsideMarking(t *testing.T) {
	gc := testGC(t)
	m := gc.NewMutator()
	owner := &fakeRoots{}
	h := gc.RegisterRoots(owner, nil)

	m.EnterBusy()
	c := gc.AllocCell(m)
	gc.RootsSlotWrite(h, 0, FromPointer(c))
	gc.RootsSlotWrite(h, 0, Void)
	m.ExitBusy()

	if len(gc.drainSnapshots()) != 0 {
		t.Error("no snapshot should be captured outside an active marking phase")
	}
}

func TestCellSlotWriteCapturesPriorBranchChild(t *testing.T) {
	gc := testGC(t)
	m := gc.NewMutator()
	m.EnterBusy()
	parent := gc.AllocCell(m)
	parent.SetType(TypeBranch)
	child := gc.AllocCell(m)
	child.SetType(TypeStem)
	gc.CellSlotWrite(parent, 0, FromPointer(child))
	m.ExitBusy()

	gc.marking.Store(true)
	gc.polarity.Store(!gc.polarity.Load())
	gc.CellSlotWrite(parent, 0, Void)

	found := false
	for _, v := range gc.drainSnapshots() {
		if v == FromPointer(child) {
			found = true
		}
	}
	if !found {
		t.Error("overwriting a cell's child slot during marking must snapshot the prior child")
	}
}
