package gcheap

import "time"

// Stats is a read-only snapshot of collector state, a supplemented
// feature beyond the core spec: production embeddings of a GC
// invariably want something to export to a metrics system, and every
// number here is already tracked internally for the heuristic trigger
// or the deferred-reuse formula — Stats just exposes it.
type Stats struct {
	PagesAvailable int64
	PagesAwaiting  int64
	PagesHeld      int64
	PagesAllocated int64

	RootCount int64

	CyclesRun    uint64
	LastCycle    time.Duration
	ForeignCount int
}

// Stats snapshots the collector's current counters. Safe to call
// concurrently with mutators and the GC thread; every field but
// ForeignCount is a single atomic load (ForeignCount takes each
// registry shard's read lock in turn), so the result is a "mostly
// consistent" point in
// time rather than a coherent transaction, which is all a stats
// endpoint needs.
func (gc *GC) Stats() Stats {
	return Stats{
		PagesAvailable: gc.pages.availCount.Load(),
		PagesAwaiting:  gc.pages.awaitCount.Load(),
		PagesHeld:      gc.pages.threadsHoldingPages.Load(),
		PagesAllocated: gc.pages.totalAllocatedPages.Load(),
		RootCount:      gc.roots.count.Load(),
		CyclesRun:      gc.stats.cyclesRun.Load(),
		LastCycle:      time.Duration(gc.stats.lastCycleNS.Load()),
		ForeignCount:   gc.fgn.Count(),
	}
}
