package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCausesFlattensJoinTrees(t *testing.T) {
	t.Parallel()

	a, b, c := errors.New("a"), errors.New("b"), errors.New("c")
	cases := []struct {
		name string
		err  error
		want []error
	}{
		{"nil", nil, nil},
		{"single", a, []error{a}},
		{"joined", errors.Join(a, b), []error{a, b}},
		{"nested", errors.Join(a, errors.Join(b, c)), []error{a, b, c}},
		{"wrapped join", fmt.Errorf("sweep: %w", errors.Join(a, b)), []error{a, b}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Causes(tc.err)
			if len(got) != len(tc.want) {
				t.Fatalf("Causes len = %d, want %d (%v)", len(got), len(tc.want), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("cause[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestWatchRestartsFaultedTask(t *testing.T) {
	t.Parallel()

	var (
		runs     atomic.Int32
		mu       sync.Mutex
		restarts [][]error
	)
	s := New(context.Background(), WithRestartHook(func(name string, causes []error) {
		mu.Lock()
		restarts = append(restarts, causes)
		mu.Unlock()
	}))

	s.Watch("poller.test", 5*time.Millisecond, func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.Join(errors.New("store down"), errors.New("token expired"))
		case 2:
			panic("boom")
		default:
			<-ctx.Done()
			return ctx.Err()
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("task ran %d times, want 3", runs.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(restarts) != 2 {
		t.Fatalf("restarts = %d, want 2", len(restarts))
	}
	if len(restarts[0]) != 2 {
		t.Fatalf("first restart causes = %v, want both joined errors", restarts[0])
	}
	var pe *PanicError
	if len(restarts[1]) != 1 || !errors.As(restarts[1][0], &pe) {
		t.Fatalf("second restart causes = %v, want a panic", restarts[1])
	}

	snap := s.Snapshot()
	for _, g := range snap.Goroutines {
		if g.Name == "poller.test" && (g.Restarts != 2 || g.Panics != 1) {
			t.Fatalf("stats = %+v", g)
		}
	}
}

func TestWatchRestartsCleanExit(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := New(context.Background())
	s.Watch("loop", 5*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return nil
		}
		<-ctx.Done()
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() != 2 {
		t.Fatalf("runs = %d, want 2", runs.Load())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if runs.Load() != 2 {
		t.Fatalf("cancelled task restarted: runs = %d", runs.Load())
	}
}

func TestGoCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error { return errors.New("bad config") })
	s.Go0("waits", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || err.Error() != "fails: bad config" {
		t.Fatalf("Wait err = %v", err)
	}
}

func TestGoRestartStopsAfterMaxRestarts(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := New(context.Background())
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
}
