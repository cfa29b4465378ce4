package sim

import (
	"sync"
	"testing"
)

func TestQueuePushDrainPreservesFIFOOrder(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < 5; i++ {
		if err := q.Push(Request{Kind: RequestCreate, SessionID: uint16(i)}); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	drained := q.Drain()
	if len(drained) != 5 {
		t.Fatalf("expected 5 drained requests, got %d", len(drained))
	}
	for i, r := range drained {
		if int(r.SessionID) != i {
			t.Fatalf("expected FIFO order, index %d has SessionID %d", i, r.SessionID)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after Drain, has %d", q.Len())
	}
}

func TestQueuePushRejectsOverCapacity(t *testing.T) {
	q := NewQueue(2)
	if err := q.Push(Request{}); err != nil {
		t.Fatalf("Push 1: %v", err)
	}
	if err := q.Push(Request{}); err != nil {
		t.Fatalf("Push 2: %v", err)
	}
	if err := q.Push(Request{}); err == nil {
		t.Fatal("expected ErrQueueFull once at capacity")
	}
}

func TestQueueConcurrentPushersDoNotLoseRequests(t *testing.T) {
	q := NewQueue(0)
	var wg sync.WaitGroup
	const producers, perProducer = 10, 20
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				_ = q.Push(Request{Kind: RequestRelease})
			}
		}()
	}
	wg.Wait()
	if got := len(q.Drain()); got != producers*perProducer {
		t.Fatalf("expected %d requests from concurrent producers, got %d", producers*perProducer, got)
	}
}
