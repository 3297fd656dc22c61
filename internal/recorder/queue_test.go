package recorder

import (
	"sync"
	"testing"
)

func TestQueue_PushDrain(t *testing.T) {
	q := NewQueue[int](10, 100)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	got := q.Drain(0)
	if len(got) != 5 {
		t.Fatalf("Drain(0) returned %d items, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("item %d = %d, want %d", i, v, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
	if q.Drain(0) != nil {
		t.Error("Drain on empty queue should return nil")
	}
}

func TestQueue_DrainMax(t *testing.T) {
	q := NewQueue[int](10, 100)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	first := q.Drain(3)
	if len(first) != 3 || first[0] != 0 || first[2] != 2 {
		t.Fatalf("Drain(3) = %v, want [0 1 2]", first)
	}
	rest := q.Drain(3)
	if len(rest) != 2 || rest[0] != 3 || rest[1] != 4 {
		t.Fatalf("Drain(3) = %v, want [3 4]", rest)
	}
}

func TestQueue_GrowAt70Percent(t *testing.T) {
	q := NewQueue[int](10, 100)

	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20", stats.Capacity)
	}
	if stats.Resizes != 1 {
		t.Errorf("Resizes = %d, want 1", stats.Resizes)
	}

	got := q.Drain(0)
	for i := 0; i < 7; i++ {
		if got[i] != i {
			t.Errorf("item %d = %d after grow", i, got[i])
		}
	}
}

func TestQueue_RejectsAtLimit(t *testing.T) {
	q := NewQueue[int](2, 4)

	for i := 0; i < 4; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false below limit", i)
		}
	}
	if q.Push(4) {
		t.Error("Push beyond limit should return false")
	}

	stats := q.Stats()
	if stats.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4 (limit)", stats.Capacity)
	}
	if stats.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", stats.Rejected)
	}
	if stats.Pushed != 4 {
		t.Errorf("Pushed = %d, want 4", stats.Pushed)
	}
}

func TestQueue_WrapAround(t *testing.T) {
	q := NewQueue[int](4, 4)

	for i := 0; i < 4; i++ {
		q.Push(i)
	}
	q.Drain(2)
	q.Push(4)
	q.Push(5)

	got := q.Drain(0)
	want := []int{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Drain = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue[int](4, 8)
	q.Push(1)
	q.Close()

	if q.Push(2) {
		t.Error("Push after Close should return false")
	}
	if got := q.Drain(0); len(got) != 1 || got[0] != 1 {
		t.Errorf("Drain after Close = %v, want [1]", got)
	}
}

func TestQueue_Concurrent(t *testing.T) {
	q := NewQueue[int](8, 10000)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				q.Push(i)
			}
		}()
	}

	drained := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

loop:
	for {
		select {
		case <-done:
			break loop
		default:
			drained += len(q.Drain(50))
		}
	}
	drained += len(q.Drain(0))

	if drained != 2000 {
		t.Errorf("drained %d items, want 2000", drained)
	}
}
