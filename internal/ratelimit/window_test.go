package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	sw := NewSlidingWindow(Options{Window: 10 * time.Second, MaxRequests: 3}, nil)
	start := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if !sw.Allow("203.0.113.7", start.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}
	if sw.Allow("203.0.113.7", start.Add(3*time.Second)) {
		t.Fatalf("expected request 4 to be rejected")
	}
}

func TestSlidingWindow_RecoversAfterWindow(t *testing.T) {
	sw := NewSlidingWindow(Options{Window: 10 * time.Second, MaxRequests: 2}, nil)
	start := time.Unix(1_700_000_000, 0)

	sw.Allow("c", start)
	sw.Allow("c", start.Add(time.Second))
	if sw.Allow("c", start.Add(5*time.Second)) {
		t.Fatalf("expected rejection inside the window")
	}

	// first timestamp falls out, second is still inside
	if !sw.Allow("c", start.Add(10*time.Second+time.Millisecond)) {
		t.Fatalf("expected request to be allowed once the first one left the window")
	}
	if sw.Allow("c", start.Add(10*time.Second+2*time.Millisecond)) {
		t.Fatalf("expected rejection while two requests are inside the window")
	}
}

func TestSlidingWindow_RejectionIsNotRecorded(t *testing.T) {
	sw := NewSlidingWindow(Options{Window: 10 * time.Second, MaxRequests: 1}, nil)
	start := time.Unix(1_700_000_000, 0)

	sw.Allow("c", start)
	for i := 1; i <= 5; i++ {
		if sw.Allow("c", start.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("expected rejection at %ds", i)
		}
	}

	// rejected attempts at 1..5s must not extend the window
	if !sw.Allow("c", start.Add(10*time.Second+time.Millisecond)) {
		t.Fatalf("expected request to be allowed after the only accepted one expired")
	}
}

func TestSlidingWindow_ClientsAreIndependent(t *testing.T) {
	sw := NewSlidingWindow(Options{Window: time.Minute, MaxRequests: 1}, nil)
	now := time.Now()

	if !sw.Allow("a", now) || !sw.Allow("b", now) {
		t.Fatalf("expected first request of each client to pass")
	}
	if sw.Allow("a", now) {
		t.Fatalf("expected client a to be limited")
	}
}

func TestSlidingWindow_MaxClientsEvictsOldest(t *testing.T) {
	sw := NewSlidingWindow(Options{Window: time.Minute, MaxRequests: 1, MaxClients: 2}, nil)
	now := time.Now()

	sw.Allow("a", now)
	sw.Allow("b", now)
	sw.Allow("c", now)

	if sw.Len() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", sw.Len())
	}
	// a was evicted, so it starts with a fresh window
	if !sw.Allow("a", now) {
		t.Fatalf("expected evicted client to start over")
	}
}

func TestSlidingWindow_Sweep(t *testing.T) {
	sw := NewSlidingWindow(Options{Window: 10 * time.Second, MaxRequests: 5}, nil)
	start := time.Unix(1_700_000_000, 0)

	sw.Allow("idle", start)
	sw.Allow("busy", start)
	sw.Allow("busy", start.Add(9*time.Second))

	removed := sw.Sweep(start.Add(15 * time.Second))
	if removed != 1 {
		t.Fatalf("expected 1 identity removed, got %d", removed)
	}
	if sw.Len() != 1 {
		t.Fatalf("expected busy client to survive, got %d tracked", sw.Len())
	}

	// busy still has exactly one live timestamp after the sweep
	for i := 0; i < 4; i++ {
		if !sw.Allow("busy", start.Add(16*time.Second)) {
			t.Fatalf("expected request %d after sweep to be allowed", i+1)
		}
	}
	if sw.Allow("busy", start.Add(16*time.Second)) {
		t.Fatalf("expected budget to be exhausted")
	}
}

func TestSlidingWindow_RunStopsOnCancel(t *testing.T) {
	sw := NewSlidingWindow(Options{SweepInterval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSlidingWindow_ConcurrentAccess(t *testing.T) {
	const limit = 50
	sw := NewSlidingWindow(Options{Window: time.Minute, MaxRequests: limit}, nil)
	now := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				ok, _ := sw.Take(context.Background(), "shared", now)
				if ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
				sw.Allow(fmt.Sprintf("own-%d", worker), now)
			}
		}(i)
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("expected exactly %d allowed, got %d", limit, allowed)
	}
}
