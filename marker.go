package gcheap

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// markNode is the Go-heap cons cell backing the tracer's shared work
// stack, the same lock-free CAS-retry list shape as stack.go's lstack,
// specialized to Value instead of *Page.
type markNode struct {
	value Value
	next  atomic.Pointer[markNode]
}

func (n *markNode) nextPtr() *atomic.Pointer[markNode] { return &n.next }

// workStack is one shared lock-free stack every tracer goroutine pops
// from and pushes children onto — a single contended stack rather than
// per-worker deques with explicit stealing, a deliberate simplification
// over a production work-stealing scheduler (documented in DESIGN.md):
// Go's runtime already multiplexes goroutines fairly over GOMAXPROCS,
// so the only thing actually needed here is "workers don't starve while
// others hold work", which one atomic CAS stack gives for free.
type workStack struct {
	stack lstack[markNode, *markNode]
	size  atomic.Int64
}

func (w *workStack) push(v Value) {
	w.stack.push(&markNode{value: v})
	w.size.Add(1)
}

func (w *workStack) pop() (Value, bool) {
	n, ok := w.stack.pop()
	if !ok {
		return 0, false
	}
	w.size.Add(-1)
	return n.value, true
}

// enqueueIfUnmarked claims v's page mark bit (the tracer's half of the
// "first thread to observe the 0→1 transition traces it" contract from
// spec §5) and pushes it onto work if this call won that claim.
func (gc *GC) enqueueIfUnmarked(work *workStack, v Value) {
	if !v.IsPointer() {
		return
	}
	p, ok := gc.ownerOf(v)
	if !ok {
		return
	}
	if p.Marking().set(p.SlotOf(v.Pointer())) {
		work.push(v)
	}
}

// traceCell visits one cell's child slots, enqueueing any pointer
// value whose page bit this call wins. REGISTER/TOMBSTONE go through
// their own atomic accessors rather than SlotPtr/SlotCount (cell.go:
// those fields are mutated outside the SATB write barrier, being
// rarely-written administrative state rather than ordinary child
// slots). SEAL implements ephemeron semantics: Data is only traced
// while its Key's tombstone hasn't been explicitly cleared; once it
// has, Data is overwritten with Void instead (spec §9 Open Questions).
func (gc *GC) traceCell(work *workStack, c *Cell) {
	switch c.Type() {
	case TypeRegister:
		r := c.Register()
		gc.enqueueIfUnmarked(work, r.AssocLhs())
		gc.enqueueIfUnmarked(work, r.Tombstone())
		return
	case TypeTombstone:
		gc.enqueueIfUnmarked(work, c.Tombstone().Weak())
		return
	case TypeSeal:
		s := c.Seal()
		gc.enqueueIfUnmarked(work, s.Key)
		gc.enqueueIfUnmarked(work, s.Meta)
		if gc.sealKeyIsDead(s.Key) {
			s.Data = Void
		} else {
			gc.enqueueIfUnmarked(work, s.Data)
		}
		return
	}
	n := c.SlotCount()
	for i := 0; i < n; i++ {
		gc.enqueueIfUnmarked(work, *c.SlotPtr(i))
	}
}

// sealKeyIsDead reports whether a SEAL's key resolves to a tombstone
// that has already been explicitly invalidated (Tombstone.Clear),
// implementing the ephemeron rule: once the key side is gone, the
// value side stops being traced and a subsequent cycle reclaims it.
func (gc *GC) sealKeyIsDead(key Value) bool {
	if !key.IsPointer() {
		return false
	}
	c := key.Pointer()
	if c.Type() != TypeTombstone {
		return false
	}
	return c.Tombstone().Dead()
}

// traceWorker drains the shared work stack until told to stop, tracing
// whatever it pops. Multiple workers run this concurrently; stack.go's
// CAS-retry pop/push make the shared stack itself safe, so no further
// synchronization is needed here.
func (gc *GC) traceWorker(ctx context.Context, work *workStack) {
	idle := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		v, ok := work.pop()
		if !ok {
			idle++
			if idle > 64 {
				time.Sleep(time.Microsecond * 50)
			}
			if work.size.Load() == 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
				continue
			}
			continue
		}
		idle = 0
		if !v.IsPointer() {
			continue
		}
		gc.traceCell(work, v.Pointer())
	}
}

// runCycle is the full collection cycle from spec §4.6:
//  1. stop the world
//  2. flip the global scan polarity, enter the marking phase
//  3. collect per-thread finalizer lists, seed the work stack from
//     every live root slot
//  4. resume the world (mutators run concurrently with tracing)
//  5-8. worker pool traces the heap, periodically draining the write
//     barrier's snapshot stack until both are empty
//  9. stop the world again
//  10. finalize dead roots, resolve pending finalizers (FOREIGN_PTR
//     release enqueue, REGISTER tombstone clear)
//  11. recycle eligible await pages, swap each page's marked/marking
//     bitmaps
//  12. clear the new marking bitmap, leave the marking phase, resume
func (gc *GC) runCycle(full bool) {
	_ = full // full vs incremental differ only in the trigger, not the steps: every cycle traces from all live roots
	cycleStart := time.Now()

	gc.coord.stopTheWorld()

	gc.pendingFinalizers = append(gc.pendingFinalizers, gc.collectFinalizerLists()...)

	newPolarity := !gc.polarity.Load()
	gc.polarity.Store(newPolarity)
	gc.cycleGen.Add(1)
	gc.marking.Store(true)

	work := &workStack{}
	for n := gc.roots.list.head.Load(); n != nil; n = n.next.Load() {
		if !n.Live() {
			continue
		}
		for i := 0; i < n.SlotCount(); i++ {
			n.satb.tryCapture(i, newPolarity)
			gc.enqueueIfUnmarked(work, *n.owner.SlotAt(i))
		}
	}

	gc.coord.resumeWorld()

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	n := workerCount(gc.cfg)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			gc.traceWorker(ctx, work)
			return nil
		})
	}

	gc.drainUntilQuiescent(work)
	cancel()
	_ = g.Wait()

	gc.coord.stopTheWorld()

	for _, h := range gc.roots.filterDeadRoots() {
		if h.finalizer != nil {
			h.finalizer(h)
		}
	}

	gc.resolvePendingFinalizers()

	gc.pages.recycleAwait()

	gc.pages.heaps.forEachPage(func(p *Page) {
		live := p.Marking().countSet()
		p.recordUtilization(uint8(live * 255 / CellsPerPage))
		p.SwapBitmaps()
		p.ClearMarking()
	})

	gc.marking.Store(false)
	gc.coord.resumeWorld()

	gc.stats.cyclesRun.Add(1)
	gc.stats.lastCycleNS.Store(int64(time.Since(cycleStart)))
}

// drainUntilQuiescent repeatedly drains the write barrier's snapshot
// stack (values captured by concurrent mutator writes) back into the
// work stack until a full pass sees nothing left anywhere — both the
// snapshot stack and the shared work stack empty at once. Snapshots are
// pushed straight onto the work stack: the barrier already won their
// mark bit (captureStaleField), so the tracer owes them a trace.
func (gc *GC) drainUntilQuiescent(work *workStack) {
	for {
		snapshotted := gc.drainSnapshots()
		for _, v := range snapshotted {
			work.push(v)
		}
		if len(snapshotted) == 0 && work.size.Load() == 0 {
			time.Sleep(time.Millisecond)
			snapshotted = gc.drainSnapshots()
			for _, v := range snapshotted {
				work.push(v)
			}
			if len(snapshotted) == 0 && work.size.Load() == 0 {
				return
			}
			continue
		}
		time.Sleep(time.Microsecond * 200)
	}
}

// resolvePendingFinalizers is cycle step 10: walk every outstanding
// finalizer task (collected from mutators' thread-local lists at this
// or an earlier cycle's start) and check the just-completed trace's
// "marking" bitmap bit for its cell — the bitmap this call observes is
// exactly the one SwapBitmaps is about to swap into "marked" next,
// which is what spec §8 invariant 5 means by "the cell's page bit at
// the moment of the post-mark swap". A task whose cell is still marked
// live stays pending for the next cycle to check again. A task whose
// cell is unmarked is resolved now: a FOREIGN_PTR's Value is pushed
// onto the decref ring — cheap and non-blocking, never the release
// callback itself, which only ever runs on the dedicated decref worker
// (gc.go) — and a REGISTER has its tombstone weak slot cleared in
// place, a plain atomic store with no user code to run.
func (gc *GC) resolvePendingFinalizers() {
	var pending []finalizerTask
	for _, t := range gc.pendingFinalizers {
		if !t.value.IsPointer() {
			continue
		}
		p, ok := gc.ownerOf(t.value)
		if !ok {
			continue
		}
		if p.Marking().get(p.SlotOf(t.value.Pointer())) {
			pending = append(pending, t)
			continue
		}
		switch t.kind {
		case finalizerForeignPtr:
			gc.ring.Push(t.value)
		case finalizerRegister:
			t.value.Pointer().Register().ClearTombstone()
		}
	}
	gc.pendingFinalizers = pending
}
