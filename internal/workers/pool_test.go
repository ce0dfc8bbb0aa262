package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolDo(t *testing.T) {
	p := New("test", 2, 4)
	p.Start()
	defer p.Stop()

	var ran atomic.Bool
	err := p.Do(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran.Load() {
		t.Fatal("job did not run")
	}

	want := errors.New("scan failed")
	if err := p.Do(context.Background(), func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	p := New("bounded", size, 100)
	p.Start()
	defer p.Stop()

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(context.Background(), func(ctx context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > size {
		t.Fatalf("expected at most %d concurrent jobs, saw %d", size, peak.Load())
	}
	if peak.Load() == 0 {
		t.Fatal("no job ran")
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := New("panicky", 1, 1)
	p.Start()
	defer p.Stop()

	err := p.Do(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking job")
	}

	// The worker survives the panic.
	if err := p.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("pool unusable after panic: %v", err)
	}
}

func TestPoolSkipsCancelledJobs(t *testing.T) {
	p := New("cancel", 1, 4)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	blocker, err := p.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	queued, err := p.Submit(ctx, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()
	close(release)

	if err := <-blocker; err != nil {
		t.Fatalf("blocker: %v", err)
	}
	if err := <-queued; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ran.Load() {
		t.Fatal("cancelled job should not run")
	}
}

func TestPoolStopDrainsQueue(t *testing.T) {
	p := New("drain", 1, 10)
	p.Start()

	var count atomic.Int64
	var results []<-chan error
	for i := 0; i < 5; i++ {
		ch, err := p.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		results = append(results, ch)
	}

	p.Stop()
	if count.Load() != 5 {
		t.Fatalf("expected queued jobs to finish before Stop returns, got %d", count.Load())
	}
	for _, ch := range results {
		if err := <-ch; err != nil {
			t.Errorf("unexpected job error: %v", err)
		}
	}

	if _, err := p.Submit(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
	p.Stop()
}

func TestPoolStopWithoutStart(t *testing.T) {
	p := New("idle", 1, 2)
	ch, err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	p.Stop()
	if err := <-ch; !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped for job never run, got %v", err)
	}
}

func TestSubmitRespectsContextWhenQueueFull(t *testing.T) {
	p := New("full", 1, 0)
	// Not started: nothing will take from the queue.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Submit(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	p.Stop()
}

func TestSeparatePoolsDoNotBlockEachOther(t *testing.T) {
	list := New("list", 1, 1)
	stream := New("stream", 1, 1)
	list.Start()
	stream.Start()
	defer list.Stop()
	defer stream.Stop()

	release := make(chan struct{})
	busy, err := list.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- stream.Do(context.Background(), func(ctx context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stream job: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream pool blocked by busy list pool")
	}

	close(release)
	<-busy
}
