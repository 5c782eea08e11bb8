package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(3)

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", peak)
	}
	if p.InUse() != 0 {
		t.Fatalf("InUse() = %d after all released", p.InUse())
	}
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	p := New(1)
	release, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire error = %v, want deadline exceeded", err)
	}
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	p := New(2)
	release, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	release()

	if p.InUse() != 0 {
		t.Fatalf("InUse() = %d, want 0", p.InUse())
	}
}

func TestPool_CloseDrainsThenRejects(t *testing.T) {
	p := New(2)
	release, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- p.Close(context.Background()) }()

	select {
	case err := <-closed:
		t.Fatalf("Close returned %v before the slot was released", err)
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Acquire after Close error = %v, want ErrClosed", err)
	}

	release()

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not return after release")
	}
}

func TestPool_CloseGivesUpAfterContext(t *testing.T) {
	p := New(1)
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close error = %v, want deadline exceeded", err)
	}
}

func TestNew_MinimumSize(t *testing.T) {
	if got := New(0).Size(); got != 1 {
		t.Fatalf("New(0).Size() = %d, want 1", got)
	}
}
