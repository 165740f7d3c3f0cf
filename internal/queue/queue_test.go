package queue

import (
	"sync"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		q.Put(i)
	}
	for i := 0; i < 100; i++ {
		if got := q.Take(); got != i {
			t.Fatalf("expected %d, got %d", i, got)
		}
	}
}

func TestLen(t *testing.T) {
	q := New[string]()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
	q.Put("a")
	q.Put("b")
	if q.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", q.Len())
	}
	q.Take()
	if q.Len() != 1 {
		t.Fatalf("expected 1 item, got %d", q.Len())
	}
}

func TestTakeBlocksUntilPut(t *testing.T) {
	q := New[int]()
	done := make(chan int)

	go func() {
		done <- q.Take()
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case v := <-done:
		t.Fatalf("Take returned %d before Put", v)
	default:
	}

	q.Put(42)
	if got := <-done; got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Put(i)
			}
		}()
	}
	wg.Wait()

	if q.Len() != producers*perProducer {
		t.Fatalf("expected %d items, got %d", producers*perProducer, q.Len())
	}
	for i := 0; i < producers*perProducer; i++ {
		q.Take()
	}
	if q.Len() != 0 {
		t.Fatalf("expected drained queue, got %d", q.Len())
	}
}
