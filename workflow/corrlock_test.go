package workflow

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCorrelationLocks_SingleFlight(t *testing.T) {
	locks := NewCorrelationLocks()

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.TryAcquire("pi_1", "evt") {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("expected exactly 1 acquisition, got %d", acquired)
	}
}

func TestCorrelationLocks_ReleaseAllowsReacquire(t *testing.T) {
	locks := NewCorrelationLocks()

	if !locks.TryAcquire("pi_1", "evt_1") {
		t.Fatal("first acquire should succeed")
	}
	if locks.TryAcquire("pi_1", "evt_2") {
		t.Fatal("second acquire while held should fail")
	}
	locks.Release("pi_1")
	if !locks.TryAcquire("pi_1", "evt_2") {
		t.Fatal("acquire after release should succeed")
	}
}

func TestCorrelationLocks_DifferentKeysIndependent(t *testing.T) {
	locks := NewCorrelationLocks()
	if !locks.TryAcquire("pi_1", "a") || !locks.TryAcquire("pi_2", "b") {
		t.Fatal("distinct keys must not contend")
	}
}

func TestCorrelationLocks_AcquireWithWaitPicksUpRelease(t *testing.T) {
	locks := NewCorrelationLocks()
	locks.WaitInterval = 20 * time.Millisecond

	if !locks.TryAcquire("pi_1", "holder") {
		t.Fatal("setup acquire failed")
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		locks.Release("pi_1")
	}()

	if !locks.AcquireWithWait(context.Background(), "pi_1", "waiter") {
		t.Fatal("waiter should acquire after the holder releases within the wait interval")
	}
}

func TestCorrelationLocks_AcquireWithWaitDefersWhenHeld(t *testing.T) {
	locks := NewCorrelationLocks()
	locks.WaitInterval = 10 * time.Millisecond

	if !locks.TryAcquire("pi_1", "holder") {
		t.Fatal("setup acquire failed")
	}
	if locks.AcquireWithWait(context.Background(), "pi_1", "waiter") {
		t.Fatal("waiter must give up when the key stays held")
	}
	if holder, held := locks.Holder("pi_1"); !held || holder != "holder" {
		t.Fatalf("holder must be unchanged, got %q held=%v", holder, held)
	}
}

func TestCorrelationLocks_AcquireWithWaitHonorsContext(t *testing.T) {
	locks := NewCorrelationLocks()
	locks.WaitInterval = time.Hour

	if !locks.TryAcquire("pi_1", "holder") {
		t.Fatal("setup acquire failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	start := time.Now()
	if locks.AcquireWithWait(ctx, "pi_1", "waiter") {
		t.Fatal("acquire must fail on context timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatal("context cancellation must cut the wait short")
	}
}
