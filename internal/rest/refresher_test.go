package rest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefresher_SingleFlight(t *testing.T) {
	r := NewRefresher(time.Hour)

	var inFlight, maxInFlight, calls int32
	release := make(chan struct{})
	fn := func(ctx context.Context) error {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		atomic.AddInt32(&calls, 1)
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(context.Background(), "history", fn)
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("max concurrent refreshes = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("refresh executed %d times, want 1 shared flight", got)
	}
}

func TestRefresher_RunPropagatesError(t *testing.T) {
	r := NewRefresher(time.Hour)
	boom := errors.New("backend down")

	err := r.Run(context.Background(), "k", func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Run = %v, want %v", err, boom)
	}
}

func TestRefresher_AbandonOnCancel(t *testing.T) {
	r := NewRefresher(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, "k", func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestRefresher_PeriodicTicks(t *testing.T) {
	r := NewRefresher(20 * time.Millisecond)

	var calls int32
	r.Start(context.Background(), "k", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	time.Sleep(120 * time.Millisecond)
	r.Stop()

	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Errorf("ticker fired %d times, want at least 2", got)
	}

	// Stop is final: no further calls after it returns.
	after := atomic.LoadInt32(&calls)
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != after {
		t.Errorf("refresh fired after Stop: %d -> %d", after, got)
	}
}
