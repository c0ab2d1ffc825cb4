package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPool_PerUnitOrdering(t *testing.T) {
	pool := NewPool(4, 8, zap.NewNop())
	ctx := context.Background()
	pool.Start(ctx)

	var mu sync.Mutex
	seen := make(map[string][]int)

	units := []string{"unit-a", "unit-b", "unit-c"}
	for i := 0; i < 50; i++ {
		for _, unitID := range units {
			id, seq := unitID, i
			if err := pool.Submit(ctx, id, func(context.Context) {
				mu.Lock()
				seen[id] = append(seen[id], seq)
				mu.Unlock()
			}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
		}
	}
	pool.Close()

	for _, unitID := range units {
		order := seen[unitID]
		if len(order) != 50 {
			t.Fatalf("%s: ran %d tasks, want 50", unitID, len(order))
		}
		for i, seq := range order {
			if seq != i {
				t.Fatalf("%s: tasks reordered at %d: %v", unitID, i, order[:i+1])
			}
		}
	}
}

func TestPool_SubmitHonorsCancelledContext(t *testing.T) {
	pool := NewPool(1, 1, zap.NewNop())
	// Never started, so the queue fills and Submit must block on the
	// second task. A cancelled context unblocks it.
	ctx := context.Background()
	if err := pool.Submit(ctx, "unit-a", func(context.Context) {}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pool.Submit(cancelled, "unit-a", func(context.Context) {})
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Submit on a full queue with cancelled context should fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not observe cancellation")
	}
}

func TestPool_CloseDrainsQueuedWork(t *testing.T) {
	pool := NewPool(2, 16, zap.NewNop())
	ctx := context.Background()

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		if err := pool.Submit(ctx, "unit-a", func(context.Context) {
			mu.Lock()
			ran++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	pool.Start(ctx)
	pool.Close()

	if ran != 10 {
		t.Fatalf("Close should drain queued tasks, ran %d of 10", ran)
	}
}
