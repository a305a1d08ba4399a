package gcheap

import (
	"sync"
	"testing"
)

func TestLstackPushPopOrder(t *testing.T) {
	var s lstack[markNode, *markNode]
	s.push(&markNode{value: Value(1)})
	s.push(&markNode{value: Value(2)})
	s.push(&markNode{value: Value(3)})

	want := []Value{3, 2, 1}
	for _, w := range want {
		n, ok := s.pop()
		if !ok || n.value != w {
			t.Fatalf("want %v, got %v (ok=%v)", w, n.value, ok)
		}
	}
	if _, ok := s.pop(); ok {
		t.Error("stack should be empty")
	}
}

func TestLstackConcurrentPushPop(t *testing.T) {
	var s lstack[markNode, *markNode]
	const n = 1000
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.push(&markNode{value: Value(i)})
		}(i)
	}
	wg.Wait()

	seen := make(map[Value]bool, n)
	for {
		v, ok := s.pop()
		if !ok {
			break
		}
		if seen[v.value] {
			t.Fatalf("value %v popped twice", v.value)
		}
		seen[v.value] = true
	}
	if len(seen) != n {
		t.Errorf("want %d distinct values, got %d", n, len(seen))
	}
}
