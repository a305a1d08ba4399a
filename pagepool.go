package gcheap

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// pagePool is the allocator layer from spec §4.2: two global page
// lists, `avail` (pages whose marked bitmap has free runs worth
// sweeping) and `await` (pages recently owned by a mutator, or
// deferred by the utilization heuristic), both lock-free stacks built
// on the same CAS-retry primitive as the teacher's Roundabout.
type pagePool struct {
	heaps *heapPool
	avail lstack[Page, *Page]
	await lstack[Page, *Page]

	availCount atomic.Int64
	awaitCount atomic.Int64
	// threadsHoldingPages + avail.count + await.count == total, the
	// invariant checked at every stop-the-world boundary (spec §8,
	// testable property 7).
	threadsHoldingPages atomic.Int64
	totalAllocatedPages atomic.Int64
}

func newPagePool(log *zap.Logger) *pagePool {
	return &pagePool{heaps: newHeapPool(log)}
}

func (pp *pagePool) popAvail() (*Page, bool) {
	p, ok := pp.avail.pop()
	if ok {
		pp.availCount.Add(-1)
	}
	return p, ok
}

func (pp *pagePool) pushAvail(p *Page) {
	pp.avail.push(p)
	pp.availCount.Add(1)
}

func (pp *pagePool) pushAwait(p *Page) {
	pp.await.push(p)
	pp.awaitCount.Add(1)
}

func (pp *pagePool) popAwait() (*Page, bool) {
	p, ok := pp.await.pop()
	if ok {
		pp.awaitCount.Add(-1)
	}
	return p, ok
}

// acquireFresh grows the pool (via heapPool, serialized internally)
// when avail has no page to hand out.
func (pp *pagePool) acquireFresh() *Page {
	p := pp.heaps.acquirePage()
	pp.totalAllocatedPages.Add(1)
	return p
}

func (pp *pagePool) release(p *Page) {
	pp.heaps.releasePage(p)
	pp.totalAllocatedPages.Add(-1)
}

// availStarved implements one clause of spec §4.6's heuristic
// trigger: "avail.count <= await.count/3".
func (pp *pagePool) availStarved() bool {
	return pp.availCount.Load()*3 <= pp.awaitCount.Load()
}

// recycleAwait is cycle step 11's page-recycling pass (spec §4.6:
// "each page with cycle_released >= cycle_acquired and defer_reuse ==
// 0 moves from await to avail; otherwise decrement its defer_reuse").
// Called once per cycle under stop-the-world, so draining the whole
// await list and re-pushing the ones that stay put races nothing.
func (pp *pagePool) recycleAwait() {
	var held []*Page
	for {
		p, ok := pp.popAwait()
		if !ok {
			break
		}
		held = append(held, p)
	}
	for _, p := range held {
		if p.cycleReleased.Load() >= p.cycleAcquired.Load() && p.deferReuse.Load() == 0 {
			pp.pushAvail(p)
			continue
		}
		p.deferReuse.Add(-1)
		pp.pushAwait(p)
	}
}
