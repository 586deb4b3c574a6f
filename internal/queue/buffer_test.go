package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nftbridge/starknet-migrator/internal/domain"
	"github.com/nftbridge/starknet-migrator/internal/queue"
)

func item(id int64) *domain.QueueItem {
	return &domain.QueueItem{ID: id, ProjectID: "projA", TokenID: "7"}
}

func TestBuffer_BasicEnqueueDequeue(t *testing.T) {
	b := queue.New(4)
	ctx := context.Background()

	if err := b.Enqueue(item(1)); err != nil {
		t.Fatal(err)
	}

	got, ok := b.Dequeue(ctx)
	if !ok {
		t.Fatal("expected item, got nothing")
	}
	if got.ID != 1 {
		t.Fatalf("expected id=1, got %d", got.ID)
	}
}

func TestBuffer_FIFO(t *testing.T) {
	b := queue.New(4)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		_ = b.Enqueue(item(i))
	}
	for i := int64(1); i <= 3; i++ {
		got, _ := b.Dequeue(ctx)
		if got.ID != i {
			t.Fatalf("expected id=%d, got %d", i, got.ID)
		}
	}
}

// TestBuffer_ContextCancellation verifies Dequeue returns (_, false)
// when the context is cancelled while blocking.
func TestBuffer_ContextCancellation(t *testing.T) {
	b := queue.New(1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := b.Dequeue(ctx)
		done <- ok
	}()

	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after context cancellation")
	}
}

func TestBuffer_ErrQueueFull(t *testing.T) {
	b := queue.New(2)

	_ = b.Enqueue(item(1))
	_ = b.Enqueue(item(2))
	if err := b.Enqueue(item(3)); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if b.Free() != 0 || b.Depth() != 2 {
		t.Fatalf("unexpected capacity: depth=%d free=%d", b.Depth(), b.Free())
	}
}

func TestBuffer_Drain(t *testing.T) {
	b := queue.New(3)
	_ = b.Enqueue(item(1))
	_ = b.Enqueue(item(2))

	left := b.Drain()
	if len(left) != 2 {
		t.Fatalf("expected 2 drained items, got %d", len(left))
	}
	if b.Depth() != 0 || b.Free() != 3 {
		t.Fatalf("buffer not empty after drain: depth=%d", b.Depth())
	}
}

// TestBuffer_ConcurrentEnqueueDequeue verifies there are no races
// when multiple goroutines enqueue and dequeue simultaneously.
func TestBuffer_ConcurrentEnqueueDequeue(t *testing.T) {
	const producers = 5
	const itemsPerProducer = 100
	const total = producers * itemsPerProducer

	b := queue.New(total)
	received := make(chan struct{}, total)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var consumerDone sync.WaitGroup
	consumerDone.Add(1)
	go func() {
		defer consumerDone.Done()
		for {
			_, ok := b.Dequeue(ctx)
			if !ok {
				return
			}
			received <- struct{}{}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < itemsPerProducer; j++ {
				if err := b.Enqueue(item(int64(p*itemsPerProducer + j))); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatalf("timeout: only received %d/%d items", i, total)
		}
	}
	cancel()
	consumerDone.Wait()
}
