package gcheap

import (
	"sync/atomic"
	"unsafe"
)

const (
	// PageSize is the 2 MiB page region size from spec §3. Pages sit at
	// PageSize offsets from their heap's mmap base, which is not itself
	// aligned to PageSize, so pages are not 2 MiB aligned.
	PageSize = 2 << 20

	// pageHeaderReserve is the bookkeeping region at the start of every
	// page's backing mmap region. Kept to a multiple of the 128-byte
	// "card" alignment the spec calls for, and large enough that the
	// first cell is still 32-byte aligned. Everything beyond the magic
	// word here is bookkeeping Go-side (see the Page struct below) —
	// not laid out byte-for-byte in the mmap region the way spec.md's
	// literal page header is.
	pageHeaderReserve = 256

	// CellsPerPage is how many 32-byte cells fit after the header.
	CellsPerPage = (PageSize - pageHeaderReserve) / CellSize

	pageMagicSeed = 0x676c6173676300 // "glasgc\0" in hex, mixed with the page's own address below
)

// Page is the Go-side bookkeeping for one 2 MiB heap region. The actual
// cell storage is the mmap'd byte range `Heap.mapping[index*PageSize:
// (index+1)*PageSize]`; this struct never itself lives in that mapping
// (Go's GC and atomics don't mix well with hand-rolled mmap'd structs),
// but the page's magic word is additionally mirrored into the first 8
// bytes of the mapped region so that "derive the magic word from the
// address and compare" (spec invariant 1, testable property 1) is a
// real, checkable operation against live memory, not just bookkeeping.
type Page struct {
	heap  *Heap
	index int // page index within the heap's reservation
	magic uint64

	cellBase unsafe.Pointer // address of cell 0

	marked  atomic.Pointer[markBitmap]
	marking atomic.Pointer[markBitmap]

	// utilization history: a 16-entry circular buffer of "how full was
	// this page at the end of cycle N", used by deferReuseHeuristic.
	util    [16]uint8
	utilPos int
	utilMu  fastMu // small spinlock; util is only touched under stop-the-world or by one owner at a time

	deferReuse atomic.Int32

	cycleAcquired atomic.Uint64
	cycleReleased atomic.Uint64

	// next links this page into whichever lock-free stack (avail/await)
	// currently owns it; see stack.go.
	next atomic.Pointer[Page]
}

// fastMu is a tiny spinlock — util updates happen at most once per GC
// cycle per page and are never contended long enough to justify
// sync.Mutex's OS-assisted parking.
type fastMu struct{ locked atomic.Bool }

func (m *fastMu) Lock() {
	for !m.locked.CompareAndSwap(false, true) {
	}
}
func (m *fastMu) Unlock() { m.locked.Store(false) }

func newPage(h *Heap, index int) *Page {
	base := unsafe.Add(unsafe.Pointer(&h.mapping[0]), index*PageSize)
	magic := pageMagicSeed ^ uint64(uintptr(base))
	p := &Page{
		heap:     h,
		index:    index,
		magic:    magic,
		cellBase: unsafe.Add(base, pageHeaderReserve),
	}
	p.marked.Store(newMarkBitmap(CellsPerPage))
	p.marking.Store(newMarkBitmap(CellsPerPage))
	// premark the header region so it is never confused for a cell
	// address (spec invariant 1): the header occupies cell slots
	// [0, pageHeaderReserve/CellSize) of the notional cell-indexed
	// space before cellBase, which this layout simply excludes by
	// starting cell 0 after the reserve — no header cells exist to
	// premark. Mirror the magic word into live memory for the
	// invariant-1 testable property.
	storeUint64(base, magic)
	return p
}

func storeUint64(p unsafe.Pointer, v uint64) {
	*(*uint64)(p) = v
}
func loadUint64(p unsafe.Pointer) uint64 {
	return *(*uint64)(p)
}

// VerifyMagic re-derives the magic word from the page's own address and
// compares it against both the bookkeeping copy and the one mirrored
// into memory (testable property 1 in spec §8).
func (p *Page) VerifyMagic() bool {
	base := unsafe.Add(p.cellBase, -pageHeaderReserve)
	want := pageMagicSeed ^ uint64(uintptr(base))
	return want == p.magic && want == loadUint64(base)
}

// CellAt returns the cell at the given slot index (0-based, within
// [0, CellsPerPage)).
func (p *Page) CellAt(slot int) *Cell {
	return (*Cell)(unsafe.Add(p.cellBase, slot*CellSize))
}

// SlotOf inverts CellAt: given an address known to lie in this page,
// return its slot index. Used by the GC to recover "which page, which
// bit" from a bare cell pointer (spec invariant 2).
func (p *Page) SlotOf(c *Cell) int {
	return int((uintptr(unsafe.Pointer(c)) - uintptr(p.cellBase)) / CellSize)
}

// Contains reports whether the address lies within this page's cell
// range, independent of alignment (used by heapPool.find).
func (p *Page) Contains(addr uintptr) bool {
	base := uintptr(p.cellBase)
	return addr >= base && addr < base+uintptr(CellsPerPage*CellSize)
}

func (p *Page) Marked() *markBitmap  { return p.marked.Load() }
func (p *Page) Marking() *markBitmap { return p.marking.Load() }

// SwapBitmaps is step 9 of the mark cycle: "marked ⇄ marking" for every
// known page. Finalizers (resolvePendingFinalizers in marker.go) read the
// just-traced bitmap through Marking() before this swap is made.
func (p *Page) SwapBitmaps() {
	m := p.marked.Load()
	k := p.marking.Load()
	p.marked.Store(k)
	p.marking.Store(m)
}

// ClearMarking is cycle step 12: clear the new "marking" bitmap (the
// "marked" bitmap is left alone — it's the allocator's free-bit source).
func (p *Page) ClearMarking() {
	p.marking.Load().clearAll()
}

// recordUtilization appends a new 0-255 fullness sample (spec §3 "a
// 16-entry circular buffer of past utilization bytes").
func (p *Page) recordUtilization(sample uint8) {
	p.utilMu.Lock()
	p.util[p.utilPos%len(p.util)] = sample
	p.utilPos++
	p.utilMu.Unlock()
}

// deferReuseHeuristic implements the spec §9 Open Question's suggested
// formula, r66/2 + r80, where r66/r80 are the run-lengths (most recent
// first) of cycles with >=66%/>=80% utilization. Isolated in its own
// function per the spec's explicit invitation to substitute any
// hysteresis with the same effect.
func (p *Page) deferReuseHeuristic() int32 {
	p.utilMu.Lock()
	defer p.utilMu.Unlock()
	r66, r80 := 0, 0
	n := len(p.util)
	for i := 0; i < n; i++ {
		idx := (p.utilPos - 1 - i + n*4) % n
		v := p.util[idx]
		if int(v)*100/255 >= 80 {
			r80++
		} else {
			break
		}
	}
	for i := 0; i < n; i++ {
		idx := (p.utilPos - 1 - i + n*4) % n
		v := p.util[idx]
		if int(v)*100/255 >= 66 {
			r66++
		} else {
			break
		}
	}
	return int32(r66/2 + r80)
}
