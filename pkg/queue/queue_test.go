package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nicktill/webpulse/pkg/event"
)

func TestEnqueue_BackpressureWhenFull(t *testing.T) {
	q := New(2)

	if !q.Enqueue(Job{Type: event.TypePageview}) {
		t.Fatal("first enqueue should succeed")
	}
	if !q.Enqueue(Job{Type: event.TypePageview}) {
		t.Fatal("second enqueue should succeed")
	}
	if q.Enqueue(Job{Type: event.TypePageview}) {
		t.Fatal("enqueue past capacity should fail")
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}
}

func TestStartDrain_ProcessesEverything(t *testing.T) {
	q := New(16)
	var processed atomic.Int64

	q.Start(context.Background(), 4, func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	})

	for i := 0; i < 10; i++ {
		if !q.Enqueue(Job{Type: event.TypeAction}) {
			t.Fatalf("enqueue #%d failed", i)
		}
	}

	q.Drain()
	if processed.Load() != 10 {
		t.Errorf("processed = %d, want 10", processed.Load())
	}
}

func TestDispatch_RedeliversUntilSuccess(t *testing.T) {
	q := New(16)

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	q.Start(context.Background(), 1, func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("store flapping")
		}
		close(done)
		return nil
	})

	q.Enqueue(Job{Type: event.TypePageview})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never succeeded")
	}
	q.Drain()

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDispatch_DeadLettersAfterMaxAttempts(t *testing.T) {
	q := New(16)
	var attempts atomic.Int64

	q.Start(context.Background(), 1, func(ctx context.Context, job Job) error {
		attempts.Add(1)
		return errors.New("permanently broken")
	})

	q.Enqueue(Job{Type: event.TypePerformance})

	// Wait for the attempt budget to burn down, then drain.
	deadline := time.After(10 * time.Second)
	for attempts.Load() < DefaultMaxAttempts {
		select {
		case <-deadline:
			t.Fatalf("attempts = %d after timeout, want %d", attempts.Load(), DefaultMaxAttempts)
		case <-time.After(20 * time.Millisecond):
		}
	}
	q.Drain()

	if got := attempts.Load(); got != DefaultMaxAttempts {
		t.Errorf("attempts = %d, want exactly %d", got, DefaultMaxAttempts)
	}
}

func TestEnqueue_AfterDrainFails(t *testing.T) {
	q := New(4)
	q.Start(context.Background(), 1, func(ctx context.Context, job Job) error { return nil })
	q.Drain()

	if q.Enqueue(Job{Type: event.TypePageview}) {
		t.Fatal("enqueue after drain should fail")
	}
}
