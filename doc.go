// Package gcheap is the runtime heap and garbage collector for glas: an
// allocator for 32-byte tagged-union tree cells, and a concurrent
// mark-sweep collector with snapshot-at-the-beginning write barriers.
//
// The package is organized bottom-up:
//
//   - value.go, cell.go: the 64-bit value word and the 32-byte cell layout.
//   - bitmap.go, page.go, heap.go, pagepool.go, alloc.go: the page/heap
//     allocator and the per-thread lazy-sweep cell allocator.
//   - roots.go, barrier.go: root registration and the SATB write barrier.
//   - mutator.go: the Idle/Busy/Wait/Done thread state machine and
//     stop-the-world coordination.
//   - ring.go, foreign_registry.go: the finalizer/decref queue.
//   - marker.go, gc.go: the concurrent tracer and cycle orchestration.
//   - api.go: the public mutator-facing contract described in spec §6.
//
// Everything outside the memory subsystem — the value-manipulation API,
// the transactional step/commit/abort layer, the CLI, and the embedded
// compilers — is out of scope; this package only implements the
// contracts those layers would consume.
package gcheap
