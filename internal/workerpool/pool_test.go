package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_ReturnsValue(t *testing.T) {
	p := New(2)

	got, late, err := Run(context.Background(), p, time.Second, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Run() = %q, want ok", got)
	}
	if late != nil {
		t.Error("late channel must be nil on success")
	}
}

func TestRun_PropagatesError(t *testing.T) {
	p := New(1)
	want := errors.New("boom")

	_, _, err := Run(context.Background(), p, time.Second, func(context.Context) (int, error) {
		return 0, want
	})
	if !errors.Is(err, want) {
		t.Errorf("Run() error = %v, want %v", err, want)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("generic failure must not be classified as timeout")
	}
}

func TestRun_Timeout(t *testing.T) {
	p := New(1)
	release := make(chan struct{})

	_, late, err := Run(context.Background(), p, 20*time.Millisecond, func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Bound != 20*time.Millisecond {
		t.Errorf("expected TimeoutError with bound, got %v", err)
	}

	close(release)
	select {
	case res := <-late:
		if res.Value != "late" {
			t.Errorf("late result = %q", res.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("abandoned work never reported its result")
	}
}

func TestRun_RecoversPanic(t *testing.T) {
	p := New(1)

	_, _, err := Run(context.Background(), p, time.Second, func(context.Context) (string, error) {
		panic("handler fault")
	})
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Run() error = %v, want PanicError", err)
	}
	if pe.Value != "handler fault" || len(pe.Stack) == 0 {
		t.Errorf("unexpected panic error: %+v", pe)
	}
}

func TestGo_BoundsConcurrency(t *testing.T) {
	p := New(2)
	var running, peak atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 5)
	finished := make(chan struct{}, 5)

	for i := 0; i < 5; i++ {
		go func() {
			res := <-Go(context.Background(), p, func(context.Context) (struct{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				started <- struct{}{}
				<-release
				running.Add(-1)
				return struct{}{}, nil
			})
			if res.Err == nil {
				finished <- struct{}{}
			}
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("workers did not start")
		}
	}
	time.Sleep(20 * time.Millisecond)
	if got := peak.Load(); got != 2 {
		t.Errorf("peak concurrency = %d, want 2", got)
	}

	close(release)
	for i := 0; i < 5; i++ {
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("queued work did not complete")
		}
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, exceeds pool size", got)
	}
}

func TestGo_CancelledWhileWaitingForSlot(t *testing.T) {
	p := New(1)
	release := make(chan struct{})
	defer close(release)

	_ = Go(context.Background(), p, func(context.Context) (int, error) {
		<-release
		return 0, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := <-Go(ctx, p, func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Go() error = %v, want context.Canceled", res.Err)
	}
}
