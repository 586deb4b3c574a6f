package queue

import (
	"context"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

// Buffer hands claimed queue items from the dispatcher to workers.
//
// It holds only items that are already claimed in the store, so an item that
// is lost here (process crash) is recovered by the lease reclaimer rather than
// by the buffer. Capacity bounds how far the dispatcher can claim ahead of the
// workers.
type Buffer struct {
	items chan *domain.QueueItem
}

func New(capacity int) *Buffer {
	return &Buffer{items: make(chan *domain.QueueItem, capacity)}
}

// Enqueue is non-blocking: when the buffer is full, ErrQueueFull is returned
// immediately and the caller is expected to release the item.
func (b *Buffer) Enqueue(item *domain.QueueItem) error {
	select {
	case b.items <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled.
// Returns (nil, false) when ctx is cancelled (graceful shutdown signal).
func (b *Buffer) Dequeue(ctx context.Context) (*domain.QueueItem, bool) {
	select {
	case item := <-b.items:
		return item, true
	case <-ctx.Done():
		return nil, false
	}
}

// Drain removes and returns everything currently buffered without blocking.
// Used on shutdown so leftover claims can be released.
func (b *Buffer) Drain() []*domain.QueueItem {
	var out []*domain.QueueItem
	for {
		select {
		case item := <-b.items:
			out = append(out, item)
		default:
			return out
		}
	}
}

// Depth is the number of items waiting for a worker.
func (b *Buffer) Depth() int { return len(b.items) }

// Free is the remaining capacity. The dispatcher never claims more than this.
func (b *Buffer) Free() int { return cap(b.items) - len(b.items) }
