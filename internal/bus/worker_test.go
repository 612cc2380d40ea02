package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestWorkerProcessesAndPublishes(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string

	worker := &Worker{
		ServiceName: "test-stage",
		Bus:         b,
		InputStream: "news.raw",
		PollMs:      50,
		IdleSleep:   10 * time.Millisecond,
		Handler: func(ctx context.Context, payload []byte) ([]Output, error) {
			mu.Lock()
			seen = append(seen, string(payload))
			mu.Unlock()
			return []Output{{Stream: "news.entity", Payload: append([]byte("out:"), payload...)}}, nil
		},
	}

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	for i := 1; i <= 3; i++ {
		if _, err := b.Publish(context.Background(), "news.raw", []byte(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if b.Len("news.entity") >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker published %d of 3 outputs", b.Len("news.entity"))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("handled %d records, want 3", len(seen))
	}
	for i, payload := range seen {
		if want := fmt.Sprintf("p%d", i+1); payload != want {
			t.Fatalf("seen[%d] = %q, want %q", i, payload, want)
		}
	}

	records, err := b.Read(context.Background(), "news.entity", StartID, 0, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(records[0].Data) != "out:p1" {
		t.Fatalf("records[0] = %s", records[0].Data)
	}
}

func TestWorkerAdvancesCursorPastHandlerError(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := make(map[string]int)

	worker := &Worker{
		ServiceName: "test-stage",
		Bus:         b,
		InputStream: "news.raw",
		PollMs:      50,
		IdleSleep:   10 * time.Millisecond,
		Handler: func(ctx context.Context, payload []byte) ([]Output, error) {
			mu.Lock()
			calls[string(payload)]++
			mu.Unlock()
			if string(payload) == "bad" {
				return nil, errors.New("boom")
			}
			return nil, nil
		},
	}

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	for _, payload := range []string{"bad", "good"} {
		if _, err := b.Publish(context.Background(), "news.raw", []byte(payload)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		handledGood := calls["good"] > 0
		mu.Unlock()
		if handledGood {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never reached the record after the failing one")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Let the loop idle once more to prove the failed record is not
	// redelivered.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls["bad"] != 1 {
		t.Fatalf("failing record handled %d times, want 1", calls["bad"])
	}
}

func TestWorkerStartsFromConfiguredCursor(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	oldID, err := b.Publish(context.Background(), "news.raw", []byte("old"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var mu sync.Mutex
	var seen []string

	worker := &Worker{
		ServiceName: "test-stage",
		Bus:         b,
		InputStream: "news.raw",
		PollMs:      50,
		IdleSleep:   10 * time.Millisecond,
		StartID:     oldID,
		Handler: func(ctx context.Context, payload []byte) ([]Output, error) {
			mu.Lock()
			seen = append(seen, string(payload))
			mu.Unlock()
			return nil, nil
		},
	}

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	if _, err := b.Publish(context.Background(), "news.raw", []byte("new")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker handled nothing")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "new" {
		t.Fatalf("seen = %v, want only the record after the cursor", seen)
	}
}
