package gcheap

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// finalizerKind distinguishes the two cell variants that register a
// thread-local finalizer task: a FOREIGN_PTR whose release callback
// must run once the cell is found dead, and a REGISTER whose tombstone
// weak slot must be cleared once the register itself is found dead
// (spec §4.6 step 10).
type finalizerKind uint8

const (
	finalizerForeignPtr finalizerKind = iota
	finalizerRegister
)

// finalizerTask is a thread-local pending finalizer handoff, gathered
// by a mutator between cycles and drained at the next stop-the-world
// (spec §4.3 "thread-local list of recently registered finalizers").
// NewForeignPtr/NewRegister (api.go) are the only production call sites
// that append to a mutator's list; collectFinalizerLists (mutator.go)
// is what drains it into the GC's pending set at cycle start.
type finalizerTask struct {
	kind  finalizerKind
	value Value
}

// GC is the process-wide collector: the mutator coordinator, the page
// pool, the roots list, the decref ring, the foreign-pointer registry,
// and the marking/polarity state the write barrier and tracer share.
// One GC exists per process (spec §3 overview); NewGC wires every
// subsystem built in the other files in this package.
type GC struct {
	log *zap.Logger
	cfg Config

	coord *mutatorCoordinator
	pages *pagePool
	roots *rootRegistry
	ring  *DecrefRing
	fgn   *ForeignRegistry

	marking  atomic.Bool
	polarity atomic.Bool // current cycle's SATB scan polarity
	cycleGen atomic.Uint64

	snapshots lstack[snapshotNode, *snapshotNode]

	// pendingFinalizers accumulates across cycles: a task whose cell is
	// still found live at a cycle's finalization step stays here for
	// the next cycle to check again, rather than being resolved one way
	// or the other on first sight. Only ever touched by the GC thread,
	// either under stop-the-world (runCycle) or before the poll loop
	// and decref worker are started.
	pendingFinalizers []finalizerTask

	tombstoneID atomic.Uint64

	stats        gcStats
	stopCh       chan struct{}
	doneCh       chan struct{}
	decrefDoneCh chan struct{}
	started      atomic.Bool
}

// NewGC constructs a GC ready to accept mutators and roots, but does
// not start its background poll loop — call Start for that. The poll
// loop is woken only by its ticker; TriggerGC runs a cycle on the
// caller's goroutine instead.
func NewGC(log *zap.Logger, cfg Config) *GC {
	gc := &GC{
		log:          log,
		cfg:          cfg,
		coord:        newMutatorCoordinator(),
		pages:        newPagePool(log),
		roots:        newRootRegistry(),
		ring:         NewDecrefRing(),
		fgn:          NewForeignRegistry(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		decrefDoneCh: make(chan struct{}),
	}
	return gc
}

// NewMutator registers a fresh mutator thread against this GC.
func (gc *GC) NewMutator() *Mutator { return newMutator(gc) }

func (gc *GC) scanPolarity() bool { return gc.polarity.Load() }

// snapshotNode is a Go-heap-allocated cons cell for the SATB snapshot
// stack the write barrier pushes onto (barrier.go). Spec §4.4 describes
// grabbing a spare cell from the mutator's own page for this; we use a
// plain heap allocation instead; reusing the allocator here would make
// a write barrier re-enter the allocator it's meant to stay outside of,
// for a structure that's already small and short-lived (drained every
// cycle). Documented here as a deliberate simplification, not an
// oversight.
type snapshotNode struct {
	value Value
	next  atomic.Pointer[snapshotNode]
}

func (n *snapshotNode) nextPtr() *atomic.Pointer[snapshotNode] { return &n.next }

func (gc *GC) pushSnapshot(v Value) {
	gc.snapshots.push(&snapshotNode{value: v})
}

// drainSnapshots empties the snapshot stack, returning every captured
// value for the tracer to treat as an additional root (spec §4.4's
// "snapshot-at-the-beginning": a value live when marking began stays
// live for the whole cycle even if a mutator overwrites its last
// pointer before the tracer gets to it).
func (gc *GC) drainSnapshots() []Value {
	var out []Value
	for {
		n, ok := gc.snapshots.pop()
		if !ok {
			break
		}
		out = append(out, n.value)
	}
	return out
}

// ownerOf resolves a pointer Value to the page that owns it, used by
// the write barrier and the tracer to find the marking bitmap bit that
// corresponds to a given cell address.
func (gc *GC) ownerOf(v Value) (*Page, bool) {
	if !v.IsPointer() {
		return nil, false
	}
	return gc.pages.heaps.find(uintptr(v))
}

// gcStats accumulates the read-only counters Stats() (stats.go) snapshots.
type gcStats struct {
	cyclesRun     atomic.Uint64
	lastCycleNS   atomic.Int64
	bytesReserved atomic.Int64
}

// Start launches the background poll loop from spec §4.6 (every
// PollIntervalMS it checks the heuristic trigger clauses and runs a
// cycle when any fire) and the dedicated decref worker from spec §4.7
// that drains the DecrefRing on its own goroutine, so GC cycles never
// block in user-supplied release code. TriggerGC can also be called
// directly by a mutator that wants a synchronous full collection.
func (gc *GC) Start() {
	if !gc.started.CompareAndSwap(false, true) {
		return
	}
	go gc.pollLoop()
	go gc.decrefWorker()
}

// Stop halts the poll loop and the decref worker. Safe to call once; a
// second call is a no-op.
func (gc *GC) Stop() {
	if !gc.started.CompareAndSwap(true, false) {
		return
	}
	close(gc.stopCh)
	<-gc.doneCh
	<-gc.decrefDoneCh
}

// decrefWorker is the "dedicated worker thread" spec §4.7 calls for:
// it is the only goroutine that ever invokes a FOREIGN_PTR's release
// callback, entirely off the GC thread and outside of any
// stop-the-world window. runCycle's finalization step only ever
// enqueues onto the ring (cheap, non-blocking); this loop is what
// actually runs user code.
func (gc *GC) decrefWorker() {
	defer close(gc.decrefDoneCh)
	ticker := time.NewTicker(time.Millisecond * 5)
	defer ticker.Stop()
	for {
		select {
		case <-gc.stopCh:
			gc.drainForeignReleases()
			return
		case <-ticker.C:
			gc.drainForeignReleases()
		}
	}
}

// drainForeignReleases empties the decref ring and invokes each
// target's release callback through the foreign registry. The ring has
// two producers: runCycle's finalization step (marker.go), which only
// pushes a FOREIGN_PTR Value after observing its page's post-mark bit
// was unset (spec §8 invariant 5), and EnqueueDecref (api.go), which
// pushes whatever a caller hands it without a liveness check.
// Non-FOREIGN_PTR entries are skipped.
func (gc *GC) drainForeignReleases() {
	for _, v := range gc.ring.Drain() {
		if !v.IsPointer() {
			continue
		}
		c := v.Pointer()
		if c.Type() != TypeForeignPtr {
			continue
		}
		gc.fgn.Release(c.ForeignPtr().RegistryID)
	}
}

func (gc *GC) pollLoop() {
	defer close(gc.doneCh)
	interval := time.Duration(gc.cfg.PollIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastRootCount int64
	for {
		select {
		case <-gc.stopCh:
			return
		case <-ticker.C:
			if gc.shouldTriggerCycle(lastRootCount) {
				gc.runCycle(false)
				lastRootCount = gc.roots.count.Load()
			}
		}
	}
}

// shouldTriggerCycle checks two clauses of spec §4.6's heuristic
// disjunction: root count grew by more than 1024 since the last cycle,
// or the available-page pool is starved relative to the awaiting-sweep
// pool. The number of pages released since the last cycle is not
// tracked, so that clause is not checked.
func (gc *GC) shouldTriggerCycle(lastRootCount int64) bool {
	if gc.roots.count.Load()-lastRootCount > 1024 {
		return true
	}
	if gc.pages.availStarved() {
		return true
	}
	return false
}

// TriggerGC runs a collection cycle synchronously. full forces tracing
// from every root regardless of the incremental heuristics (spec §4.6
// "a full collection may also be requested explicitly").
func (gc *GC) TriggerGC(full bool) {
	gc.runCycle(full)
}
