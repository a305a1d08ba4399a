package gcheap

import (
	"math/bits"
	"sync/atomic"
)

// markBitmap is a page's one-bit-per-cell mark bitmap. Two of these
// live on every page (spec §3 "Page"); one is "marked" (last cycle's
// live set, read by the allocator as a free-bit source) and one is
// "marking" (written by the active tracer), and the two are swapped by
// pointer at the end of every cycle rather than cleared in place — the
// same "flip instead of clear" trick the spec calls out for the
// gcbits scan-polarity (§9 "SATB polarity trick").
type markBitmap struct {
	words []atomic.Uint64
}

func newMarkBitmap(cells int) *markBitmap {
	n := (cells + 63) / 64
	return &markBitmap{words: make([]atomic.Uint64, n)}
}

func (b *markBitmap) wordCount() int { return len(b.words) }

func (b *markBitmap) load(word int) uint64 {
	return b.words[word].Load()
}

// set marks bit i, returning whether this call won the 0→1 transition
// (spec §5: "the thread that observes the 0→1 transition is
// responsible for tracing it exactly once").
func (b *markBitmap) set(i int) (won bool) {
	w, bit := i/64, uint(i%64)
	mask := uint64(1) << bit
	for {
		old := b.words[w].Load()
		if old&mask != 0 {
			return false
		}
		if b.words[w].CompareAndSwap(old, old|mask) {
			return true
		}
	}
}

// tryCapture is the polarity-aware sibling of set, used by a root
// handle's per-slot SATB bitmap (roots.go), which — unlike a page's
// marked/marking pair — is never cleared or swapped between cycles.
// Instead each bit's value is compared against the *current* cycle's
// polarity: a bit left over from a prior cycle already differs from
// the new polarity and so reads as "not yet captured", with no pass
// over the whole bitmap required to reset it (spec §9 "SATB polarity
// trick"). Returns whether this call moved the bit to match polarity.
func (b *markBitmap) tryCapture(i int, polarity bool) (won bool) {
	w, bit := i/64, uint(i%64)
	mask := uint64(1) << bit
	for {
		old := b.words[w].Load()
		cur := old&mask != 0
		if cur == polarity {
			return false
		}
		var next uint64
		if polarity {
			next = old | mask
		} else {
			next = old &^ mask
		}
		if b.words[w].CompareAndSwap(old, next) {
			return true
		}
	}
}

func (b *markBitmap) orWord(word int, bits uint64) {
	for {
		old := b.words[word].Load()
		if b.words[word].CompareAndSwap(old, old|bits) {
			return
		}
	}
}

func (b *markBitmap) get(i int) bool {
	w, bit := i/64, uint(i%64)
	return b.words[w].Load()&(uint64(1)<<bit) != 0
}

func (b *markBitmap) clearAll() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

// countSet is a diagnostic helper for Stats()/tests, not on any hot path.
func (b *markBitmap) countSet() int {
	n := 0
	for i := range b.words {
		n += bits.OnesCount64(b.words[i].Load())
	}
	return n
}
