package gcheap

import (
	"testing"
	"unsafe"
)

func TestCellSizeIsThirtyTwoBytes(t *testing.T) {
	var c Cell
	if sz := int(unsafe.Sizeof(c)); sz != CellSize {
		t.Errorf("Cell is %d bytes, want %d", sz, CellSize)
	}
}

func TestAggregateTypeAggrTakesMaxEphemerality(t *testing.T) {
	a := packTypeAggr(EphemeralPlain, false, false)
	b := packTypeAggr(EphemeralDatabase, false, false)
	got := AggregateTypeAggr(a, b)
	c := Cell{TypeAggr: got}
	if c.Ephemerality() != EphemeralDatabase {
		t.Errorf("want EphemeralDatabase, got %v", c.Ephemerality())
	}
}

func TestAggregateTypeAggrOrsAbstractAndLinear(t *testing.T) {
	a := packTypeAggr(EphemeralPlain, true, false)
	b := packTypeAggr(EphemeralPlain, false, true)
	got := AggregateTypeAggr(a, b)
	c := Cell{TypeAggr: got}
	if !c.Abstract() || !c.Linear() {
		t.Error("abstract/linear must be OR'd, not overwritten")
	}
}

func TestTryCaptureScanBitOnlyWinsOnce(t *testing.T) {
	var c Cell
	c.resetScanBits(false)
	if !c.TryCaptureScanBit(1, true) {
		t.Fatal("first capture for a new polarity should win")
	}
	if c.TryCaptureScanBit(1, true) {
		t.Error("second capture for the same polarity should lose")
	}
	if !c.TryCaptureScanBit(1, false) {
		t.Error("capturing back to the opposite polarity should win")
	}
}

func TestResetScanBitsSurvivesAcrossPolarity(t *testing.T) {
	var c Cell
	c.resetScanBits(true)
	if !c.ScanBit(0) || !c.ScanBit(1) || !c.ScanBit(2) {
		t.Error("resetScanBits(true) should set all three scan bits")
	}
	c.resetScanBits(false)
	if c.ScanBit(0) || c.ScanBit(1) || c.ScanBit(2) {
		t.Error("resetScanBits(false) should clear all three scan bits")
	}
}

func TestBranchSlotPtr(t *testing.T) {
	var c Cell
	c.SetType(TypeBranch)
	b := c.Branch()
	b.Left = Unit
	b.Right = Void
	if *c.SlotPtr(0) != Unit {
		t.Error("slot 0 should alias Branch.Left")
	}
	if *c.SlotPtr(1) != Void {
		t.Error("slot 1 should alias Branch.Right")
	}
	if c.SlotCount() != 2 {
		t.Errorf("Branch should report 2 slots, got %d", c.SlotCount())
	}
}

func TestSealSlotPtr(t *testing.T) {
	var c Cell
	c.SetType(TypeSeal)
	s := c.Seal()
	s.Key, s.Data, s.Meta = Unit, Void, Unit
	if *c.SlotPtr(0) != s.Key || *c.SlotPtr(1) != s.Data || *c.SlotPtr(2) != s.Meta {
		t.Error("Seal slot pointers should alias Key/Data/Meta in order")
	}
	if c.SlotCount() != 3 {
		t.Errorf("Seal should report 3 slots, got %d", c.SlotCount())
	}
}

func TestRegisterAtomicAccessors(t *testing.T) {
	var c Cell
	c.SetType(TypeRegister)
	r := c.Register()
	if r.Version() != 0 {
		t.Fatal("fresh register should start at version 0")
	}
	r.BumpVersion()
	if r.Version() != 1 {
		t.Errorf("want version 1, got %d", r.Version())
	}
	r.SetAssocLhs(Unit)
	if r.AssocLhs() != Unit {
		t.Error("AssocLhs round trip failed")
	}
	r.SetTombstone(Void)
	if r.Tombstone() != Void {
		t.Error("Tombstone round trip failed")
	}
	if got := r.ClearTombstone(); got != Void {
		t.Errorf("ClearTombstone should return the prior value, got %#x", uint64(got))
	}
	if r.Tombstone() != Void {
		t.Error("ClearTombstone should reset to Void")
	}
}

func TestTombstoneDeadness(t *testing.T) {
	var c Cell
	c.SetType(TypeTombstone)
	ts := c.Tombstone()
	ts.SetWeak(Unit)
	if ts.Dead() {
		t.Error("tombstone with a live weak reference should not be dead")
	}
	ts.Clear()
	if !ts.Dead() {
		t.Error("cleared tombstone should be dead")
	}
}

