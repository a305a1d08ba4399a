package gcheap

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// HeapSize is the 128 MiB address-space reservation from spec §4.2.
	HeapSize = 128 << 20
	// PagesPerHeap is HeapSize/PageSize — exactly 64, which conveniently
	// lets the page-allocation bitmap be a single atomic word.
	PagesPerHeap = HeapSize / PageSize
)

func init() {
	if PagesPerHeap > 64 {
		panic("gcheap: HeapSize/PageSize must fit a 64-bit page bitmap")
	}
}

// Heap is one 128 MiB address reservation (spec §3 "Heap"). Pages are
// mapped read/write on claim and MADV_DONTNEED'd on release; a heap is
// only destroyed once its page bitmap returns to its initial (all-free)
// value.
type Heap struct {
	mapping []byte
	bitmap  atomic.Uint64 // 1 = page claimed
	pages   [PagesPerHeap]atomic.Pointer[Page]
	log     *zap.Logger
}

// TryReserveHeap requests an anonymous, private, no-reserve mapping of
// HeapSize bytes (spec §4.2). mmap failure is fatal — per spec §7, out
// of address space/out of memory aborts the process; there is no
// recovery path because the GC itself needs to allocate to run.
func TryReserveHeap(log *zap.Logger) (*Heap, error) {
	m, err := unix.Mmap(-1, 0, HeapSize,
		unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		fatalAbort(log, "mmap heap reservation failed", zap.Error(err))
		return nil, err // unreachable: fatalAbort does not return
	}
	if uintptr(len(m)) < HeapSize {
		fatalAbort(log, "short mmap for heap reservation")
	}
	return &Heap{mapping: m, log: log}, nil
}

// claimPage finds a free page via a CAS loop over the bitmap (spec
// §4.2), mprotects it read/write, and (re)initializes its bookkeeping.
func (h *Heap) claimPage() (*Page, bool) {
	for {
		old := h.bitmap.Load()
		free := ^old
		if free == 0 {
			return nil, false
		}
		idx := bits.TrailingZeros64(free)
		bit := uint64(1) << uint(idx)
		if h.bitmap.CompareAndSwap(old, old|bit) {
			region := h.mapping[idx*PageSize : (idx+1)*PageSize]
			if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE); err != nil {
				// Acquire-path protection failure is fatal (spec §7):
				// the allocator cannot hand out a page it can't write to.
				fatalAbort(h.log, "mprotect R/W failed on page claim",
					zap.Int("page", idx), zap.Error(err))
			}
			p := newPage(h, idx)
			h.pages[idx].Store(p)
			return p, true
		}
	}
}

// releasePage clears the page's bit, mprotects it PROT_NONE, and
// advises the kernel the physical RAM can be reclaimed. Per spec §7 a
// release-path mprotect failure is logged and treated as a leak, not
// fatal — there is no mutator waiting on this page to make progress.
func (h *Heap) releasePage(p *Page) {
	region := h.mapping[p.index*PageSize : (p.index+1)*PageSize]
	if err := unix.Mprotect(region, unix.PROT_NONE); err != nil {
		h.log.Warn("mprotect PROT_NONE failed on page release; leaking RAM",
			zap.Int("page", p.index), zap.Error(err))
	} else if err := unix.Madvise(region, unix.MADV_DONTNEED); err != nil {
		h.log.Warn("madvise DONTNEED failed on page release; leaking RAM",
			zap.Int("page", p.index), zap.Error(err))
	}
	h.pages[p.index].Store(nil)
	for {
		old := h.bitmap.Load()
		bit := uint64(1) << uint(p.index)
		if h.bitmap.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

// destroy unmaps the reservation. Only valid once the bitmap has
// returned to zero (spec §4.2: "A heap is only destroyed when its page
// bitmap equals its initial value").
func (h *Heap) destroy() error {
	if h.bitmap.Load() != 0 {
		return fmt.Errorf("gcheap: cannot destroy heap with pages still claimed")
	}
	return unix.Munmap(h.mapping)
}

// heapPool owns every Heap this process has reserved, and serializes
// growth with a plain mutex (spec §4.2: "Growing the heap pool is
// serialized by a lock, to avoid racing threads each creating a heap
// and one having to free it"). Everything else about page circulation
// (avail/await) is lock-free; only growth itself needs mutual exclusion.
type heapPool struct {
	// RWMutex rather than plain Mutex: growth (writes) is rare and
	// already serialized per spec §4.2, but the write barrier's
	// address→page lookup (ownerOf in gc.go) runs on every SATB
	// capture and needs to not contend with itself across mutators.
	mu    sync.RWMutex
	heaps []*Heap
	log   *zap.Logger
}

func newHeapPool(log *zap.Logger) *heapPool {
	return &heapPool{log: log}
}

// acquirePage returns a free page from an existing heap, growing the
// pool under lock only when every known heap is full.
func (hp *heapPool) acquirePage() *Page {
	hp.mu.RLock()
	heaps := hp.heaps
	hp.mu.RUnlock()
	for _, h := range heaps {
		if p, ok := h.claimPage(); ok {
			return p
		}
	}
	hp.mu.Lock()
	h, err := TryReserveHeap(hp.log)
	if err != nil {
		hp.mu.Unlock()
		fatalAbort(hp.log, "failed to grow heap pool", zap.Error(err))
		return nil
	}
	hp.heaps = append(hp.heaps, h)
	hp.mu.Unlock()
	p, ok := h.claimPage()
	if !ok {
		fatalAbort(hp.log, "freshly reserved heap has no free page")
	}
	return p
}

func (hp *heapPool) releasePage(p *Page) {
	p.heap.releasePage(p)
}

// forEachPage visits every currently-claimed page across every
// reserved heap, used by the cycle orchestration's bitmap swap/clear
// step (spec §4.6 steps 11-12). Called only under stop-the-world, so
// no page can be concurrently claimed or released out from under it.
func (hp *heapPool) forEachPage(fn func(*Page)) {
	hp.mu.RLock()
	heaps := hp.heaps
	hp.mu.RUnlock()
	for _, h := range heaps {
		for i := range h.pages {
			if p := h.pages[i].Load(); p != nil {
				fn(p)
			}
		}
	}
}

// find resolves a bare address to its owning page, used by the write
// barrier (spec §4.4) to locate the page whose marking bitmap needs a
// bit set. Linear over the (small, slowly-growing) heap list; fine for
// a teaching-scale implementation, called out as a simplification
// rather than the production design's likely address-range index.
func (hp *heapPool) find(addr uintptr) (*Page, bool) {
	hp.mu.RLock()
	heaps := hp.heaps
	hp.mu.RUnlock()
	for _, h := range heaps {
		base := uintptr(unsafe.Pointer(&h.mapping[0]))
		if addr < base || addr >= base+HeapSize {
			continue
		}
		idx := int((addr - base) / PageSize)
		p := h.pages[idx].Load()
		if p != nil && p.Contains(addr) {
			return p, true
		}
	}
	return nil, false
}
