package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetLoadsOnce(t *testing.T) {
	c := New[string]("test-once", time.Minute, time.Minute)
	defer c.Stop()

	var calls atomic.Int64
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "v", nil
	}

	v, err := c.Get(context.Background(), "k", load)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "v" {
		t.Errorf("got %q, want %q", v, "v")
	}

	// Second call is a hit
	v, err = c.Get(context.Background(), "k", load)
	if err != nil || v != "v" {
		t.Fatalf("second Get: %q, %v", v, err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
}

func TestGetCoalescesConcurrentMisses(t *testing.T) {
	c := New[string]("test-flight", time.Minute, time.Minute)
	defer c.Stop()

	var calls atomic.Int64
	release := make(chan struct{})
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "k", load)
		}(i)
	}

	// Give the goroutines time to pile up behind the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("caller %d got %q", i, results[i])
		}
	}
	// A caller racing past the flight window may trigger a second load, but
	// nowhere near one per caller.
	if n := calls.Load(); n > 2 {
		t.Errorf("loader called %d times for %d concurrent callers", n, 20)
	}
}

func TestGetErrorNotCached(t *testing.T) {
	c := New[int]("test-err", time.Minute, time.Minute)
	defer c.Stop()

	var calls atomic.Int64
	boom := errors.New("load failed")
	failing := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, boom
	}

	if _, err := c.Get(context.Background(), "k", failing); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	// The failure must not be cached: the next call loads again
	ok := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 7, nil
	}
	v, err := c.Get(context.Background(), "k", ok)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if v != 7 {
		t.Errorf("got %d, want 7", v)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("loader called %d times, want 2", n)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[string]("test-ttl", 30*time.Millisecond, time.Hour)
	defer c.Stop()

	var calls atomic.Int64
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "v", nil
	}

	if _, err := c.Get(context.Background(), "k", load); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := c.Get(context.Background(), "k", load); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("loader called %d times after expiry, want 2", n)
	}
}

func TestDelete(t *testing.T) {
	c := New[string]("test-del", time.Minute, time.Minute)
	defer c.Stop()

	var calls atomic.Int64
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "v", nil
	}

	c.Get(context.Background(), "k", load) //nolint:errcheck
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
	c.Delete("k")
	if c.Len() != 0 {
		t.Fatalf("expected 0 entries after delete, got %d", c.Len())
	}
	c.Get(context.Background(), "k", load) //nolint:errcheck
	if n := calls.Load(); n != 2 {
		t.Errorf("loader called %d times, want 2", n)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c := New[string]("test-sweep", 10*time.Millisecond, 20*time.Millisecond)
	defer c.Stop()

	c.Get(context.Background(), "k", func(ctx context.Context) (string, error) { //nolint:errcheck
		return "v", nil
	})
	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove the expired entry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
