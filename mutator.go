package gcheap

import "sync/atomic"

// MutatorState is the four-state thread FSM from spec §4.5.
type MutatorState int32

const (
	StateIdle MutatorState = iota
	StateBusy
	StateWait
	StateDone
)

// mutatorCoordinator is the process-wide stop-the-world state: an
// atomic "stopping" flag and a busy-thread counter, exactly as spec
// §4.5/§5 describe it. Ordering: the store into stopping and the load
// in Idle→Busy are both sequentially consistent (Go's atomic package
// defaults to seq_cst for all of Load/Store/CAS), which is what spec
// §5 calls out as forbidding the race where a thread slips into Busy
// undetected.
type mutatorCoordinator struct {
	stopping atomic.Bool
	busy     atomic.Int64
	gcWake   chan struct{} // buffered(1): last mutator to leave posts this
	threads  lstack[Mutator, *Mutator]
}

func newMutatorCoordinator() *mutatorCoordinator {
	return &mutatorCoordinator{gcWake: make(chan struct{}, 1)}
}

// Mutator is one mutator thread's state: its FSM position, its owned
// allocation page and sweep cursor (spec §4.3), and the thread-local
// list of recently registered finalizers handed off at the start of
// every GC cycle.
type Mutator struct {
	coord *mutatorCoordinator

	state     atomic.Int32
	busyDepth atomic.Int32
	wake      chan struct{}

	page          *Page
	markWord      int
	freeBits      uint64
	freedThisPage int

	finalizers []finalizerTask

	gc   *GC
	next atomic.Pointer[Mutator]
}

func (m *Mutator) nextPtr() *atomic.Pointer[Mutator] { return &m.next }

// newMutator registers a new OS-level mutator thread. Registration is a
// one-time push onto the coordinator's thread list; mutators are never
// removed from it (an abrupt-detach "Done" transition just marks the
// entry inert, per spec §4.5 "Any → Done: only from Idle (or forced
// from Busy on abrupt detach)").
func newMutator(gc *GC) *Mutator {
	m := &Mutator{coord: gc.coord, wake: make(chan struct{}, 1), gc: gc}
	m.state.Store(int32(StateIdle))
	gc.coord.threads.push(m)
	return m
}

func (m *Mutator) State() MutatorState { return MutatorState(m.state.Load()) }

// EnterBusy is the re-entrant Idle→Busy (or →Wait) transition.
func (m *Mutator) EnterBusy() {
	if m.busyDepth.Add(1) > 1 {
		return
	}
	m.enterBusyRaw()
}

func (m *Mutator) enterBusyRaw() {
	for {
		m.coord.busy.Add(1)
		if !m.coord.stopping.Load() {
			m.state.Store(int32(StateBusy))
			return
		}
		// A stop was requested between our increment and our check:
		// back out and park, matching spec §4.5 exactly.
		if m.coord.busy.Add(-1) == 0 {
			nonBlockingSend(m.coord.gcWake)
		}
		m.state.Store(int32(StateWait))
		<-m.wake
	}
}

// ExitBusy is the re-entrant Busy→Idle transition. If this was the last
// busy thread while a stop is in progress, it posts the GC's wakeup.
func (m *Mutator) ExitBusy() {
	if m.busyDepth.Add(-1) > 0 {
		return
	}
	m.exitBusyRaw()
}

func (m *Mutator) exitBusyRaw() {
	m.state.Store(int32(StateIdle))
	if m.coord.busy.Add(-1) == 0 && m.coord.stopping.Load() {
		nonBlockingSend(m.coord.gcWake)
	}
}

// Safepoint is the cheap fast path from spec §5: a single atomic load
// of `stopping`, and only on the slow path does it actually exit and
// re-enter Busy. Any non-root cell pointer held in a C-style local
// across this call is considered invalid afterward (spec §4.5) — this
// collector never moves cells, so nothing actually breaks today, but
// the contract is kept so a future compacting variant can reuse it.
func (m *Mutator) Safepoint() {
	if !m.coord.stopping.Load() {
		return
	}
	m.exitBusyRaw()
	m.enterBusyRaw()
}

// Done transitions a mutator thread out of the pool permanently. Per
// spec §4.5 this is only legal from Idle, or forced from Busy on
// abrupt detach (e.g. a panicking goroutine's deferred cleanup).
func (m *Mutator) Done() {
	if MutatorState(m.state.Load()) == StateBusy {
		m.exitBusyRaw()
	}
	m.state.Store(int32(StateDone))
}

func nonBlockingSend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// stopTheWorld sets `stopping` and waits for every busy thread to
// leave. Ordering per spec §5: the store is sequentially consistent.
func (c *mutatorCoordinator) stopTheWorld() {
	c.stopping.Store(true)
	for c.busy.Load() != 0 {
		<-c.gcWake
	}
}

// resumeWorld clears `stopping` and wakes every thread parked in Wait.
// Waking threads not actually parked is harmless: EnterBusy's loop
// rechecks `stopping` regardless of how it was woken.
func (c *mutatorCoordinator) resumeWorld() {
	c.stopping.Store(false)
	c.forEach(func(m *Mutator) {
		nonBlockingSend(m.wake)
	})
}

// collectFinalizerLists drains every mutator's thread-local finalizer
// list into one slice, run at the start of a cycle while the world is
// stopped (spec §4.6 step 3 "collect per-thread finalizer lists"). Safe
// only under stop-the-world: a mutator's list is otherwise append-only
// from that mutator's own goroutine, so truncating it here would race
// a concurrent NewForeignPtr/NewRegister call if the world weren't
// actually stopped.
func (gc *GC) collectFinalizerLists() []finalizerTask {
	var out []finalizerTask
	gc.coord.forEach(func(m *Mutator) {
		if len(m.finalizers) == 0 {
			return
		}
		out = append(out, m.finalizers...)
		m.finalizers = nil
	})
	return out
}

// forEach walks the append-only thread list. Safe to call concurrently
// with new registrations (pushes only ever prepend, and a node's next
// pointer is set once before it's published) but per spec §5 "bulk
// filtering is done under stop-the-world", so callers that need a
// consistent snapshot (cycle start finalizer/root handoff) should only
// rely on this while stopped.
func (c *mutatorCoordinator) forEach(fn func(*Mutator)) {
	for n := c.threads.head.Load(); n != nil; n = n.next.Load() {
		fn(n)
	}
}
