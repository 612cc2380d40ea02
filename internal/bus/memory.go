package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBus is the process-local EventBus used for paper trading and
// tests. A single counter across streams keeps ids totally ordered.
type MemoryBus struct {
	mu      sync.Mutex
	streams map[string][]Record
	counter int64
	wake    chan struct{}
	closed  bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		streams: make(map[string][]Record),
		wake:    make(chan struct{}),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, stream string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("memory bus: closed")
	}

	b.counter++
	id := fmt.Sprintf("%d-0", b.counter)
	data := make([]byte, len(payload))
	copy(data, payload)
	b.streams[stream] = append(b.streams[stream], Record{ID: id, Data: data})

	// Wake blocked readers.
	close(b.wake)
	b.wake = make(chan struct{})
	return id, nil
}

func (b *MemoryBus) Read(ctx context.Context, stream, lastID string, block int, count int) ([]Record, error) {
	// "$" means "records published after this call", as in Redis XREAD.
	if lastID == LatestID {
		b.mu.Lock()
		lastID = StartID
		if recs := b.streams[stream]; len(recs) > 0 {
			lastID = recs[len(recs)-1].ID
		}
		b.mu.Unlock()
	}

	deadline := time.Now().Add(time.Duration(block) * time.Millisecond)
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, fmt.Errorf("memory bus: closed")
		}
		out := b.collect(stream, lastID, count)
		wake := b.wake
		b.mu.Unlock()

		if len(out) > 0 || block <= 0 {
			return out, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wake:
			timer.Stop()
		}
	}
}

// collect is called with the lock held.
func (b *MemoryBus) collect(stream, lastID string, count int) []Record {
	var out []Record
	for _, rec := range b.streams[stream] {
		if compareIDs(rec.ID, lastID) > 0 {
			out = append(out, rec)
			if len(out) >= count {
				break
			}
		}
	}
	return out
}

// Range returns up to count records with ids greater than or equal to
// from, oldest first. Used by replay scans.
func (b *MemoryBus) Range(ctx context.Context, stream, from string, count int) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memory bus: closed")
	}
	var out []Record
	for _, rec := range b.streams[stream] {
		if compareIDs(rec.ID, from) >= 0 {
			out = append(out, rec)
			if len(out) >= count {
				break
			}
		}
	}
	return out, nil
}

// Len returns the number of records in a stream.
func (b *MemoryBus) Len(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[stream])
}

// StreamLen mirrors the Redis bus signature.
func (b *MemoryBus) StreamLen(ctx context.Context, stream string) (int64, error) {
	return int64(b.Len(stream)), nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.wake)
	}
	return nil
}
