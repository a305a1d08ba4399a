package gcheap

import "testing"

func TestForeignRegistryReleaseRunsExactlyOnce(t *testing.T) {
	r := NewForeignRegistry()
	calls := 0
	id := r.Register(func() { calls++ })
	r.Release(id)
	r.Release(id)
	if calls != 1 {
		t.Errorf("want release called exactly once, got %d", calls)
	}
}

func TestForeignRegistryCount(t *testing.T) {
	r := NewForeignRegistry()
	ids := make([]uint64, 5)
	for i := range ids {
		ids[i] = r.Register(func() {})
	}
	if n := r.Count(); n != 5 {
		t.Fatalf("want 5 registered, got %d", n)
	}
	r.Release(ids[0])
	if n := r.Count(); n != 4 {
		t.Errorf("want 4 after one release, got %d", n)
	}
}

func TestForeignRegistryReleaseUnknownIDIsNoop(t *testing.T) {
	r := NewForeignRegistry()
	r.Release(999999) // must not panic
}
