package gcheap

import "sync/atomic"

// linkable is implemented by anything with an atomic "next" pointer of
// its own type, so lstack can thread its list through an existing
// field (Page.next) instead of boxing every pushed item.
type linkable[T any] interface {
	*T
	nextPtr() *atomic.Pointer[T]
}

// lstack is a lock-free (Treiber) stack: push/pop are CAS-retry loops
// over the head pointer, in the same idiom as the teacher's
// Roundabout.push and Roundabout.clearFence ("load, compute, CAS,
// retry on failure"). Spec §4.2/§4.4/§4.6 all call for lock-free
// pushes onto global lists (avail/await pages, the roots list, the
// write-barrier snapshot stack, mark-buffer overflow); this is the one
// primitive backing all of them.
type lstack[T any, PT linkable[T]] struct {
	head atomic.Pointer[T]
}

func (s *lstack[T, PT]) push(item PT) {
	for {
		old := s.head.Load()
		item.nextPtr().Store(old)
		if s.head.CompareAndSwap(old, (*T)(item)) {
			return
		}
	}
}

// pop carries no ABA tag of its own; the package's uses avoid ABA
// instead. Pages go onto avail only in recycleAwait, under
// stop-the-world, never concurrently with a mutator's pop, and await is
// popped only there too (it also re-pushes held pages onto await), so a
// page stack never sees a pop race a push of a recycled page. Every
// other stack pushes freshly allocated nodes, whose addresses Go's
// garbage collector does not reuse while a stale head still refers to
// them.
func (s *lstack[T, PT]) pop() (PT, bool) {
	for {
		old := s.head.Load()
		if old == nil {
			var zero PT
			return zero, false
		}
		next := PT(old).nextPtr().Load()
		if s.head.CompareAndSwap(old, next) {
			return PT(old), true
		}
	}
}

func (p *Page) nextPtr() *atomic.Pointer[Page] { return &p.next }
