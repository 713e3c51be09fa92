package resource

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/runtime"
)

type countingDevice struct {
	mu       sync.Mutex
	collects int
	releases int
	syncs    int
	cleanups int
}

func (d *countingDevice) Name() string { return "fake" }

func (d *countingDevice) Collect() {
	d.mu.Lock()
	d.collects++
	d.mu.Unlock()
}

func (d *countingDevice) ReleaseCache() error {
	d.mu.Lock()
	d.releases++
	// Each cleanup pass releases twice; count passes on the first.
	if d.releases%2 == 1 {
		d.cleanups++
	}
	d.mu.Unlock()
	return nil
}

func (d *countingDevice) Synchronize() error {
	d.mu.Lock()
	d.syncs++
	d.mu.Unlock()
	return nil
}

func TestRetryExhaustionThreeAttemptsReducedDemand(t *testing.T) {
	dev := &countingDevice{}
	policy := RetryPolicy{Backoff: 0, Device: dev, Log: zerolog.Nop()}

	var demands []int
	_, _, err := policy.Run(context.Background(), 8,
		func(ctx context.Context, demand int) (runtime.Runtime, string, error) {
			demands = append(demands, demand)
			return nil, "", errors.New("cuda error: out of memory")
		})
	if err == nil {
		t.Fatal("want error after the retry ceiling")
	}
	history, ok := IsRetryExhausted(err)
	if !ok {
		t.Fatalf("want retry-exhausted error, got %T", err)
	}
	if len(history) != 3 {
		t.Fatalf("attempts: %d, want 3", len(history))
	}
	want := []int{8, 8, 4}
	for i, d := range demands {
		if d != want[i] {
			t.Fatalf("demands: %v, want %v", demands, want)
		}
	}
	// Cleanup runs between attempts only: twice for three attempts.
	if dev.cleanups != 2 {
		t.Fatalf("cleanup passes: %d, want 2", dev.cleanups)
	}
	if dev.collects != 4 || dev.syncs != 2 || dev.releases != 4 {
		t.Fatalf("hygiene calls: collects=%d syncs=%d releases=%d", dev.collects, dev.syncs, dev.releases)
	}
}

func TestRetryFatalErrorImmediate(t *testing.T) {
	dev := &countingDevice{}
	policy := RetryPolicy{Backoff: 0, Device: dev, Log: zerolog.Nop()}

	attempts := 0
	_, _, err := policy.Run(context.Background(), 8,
		func(ctx context.Context, demand int) (runtime.Runtime, string, error) {
			attempts++
			return nil, "", ErrNotFound("/missing.gguf")
		})
	if !IsNotFound(err) {
		t.Fatalf("want the fatal error unchanged, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts: %d, want 1", attempts)
	}
	if dev.cleanups != 0 {
		t.Fatalf("cleanup ran for a fatal error: %d passes", dev.cleanups)
	}
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	dev := &countingDevice{}
	policy := RetryPolicy{Backoff: 0, Device: dev, Log: zerolog.Nop()}

	attempts := 0
	rt, source, err := policy.Run(context.Background(), 8,
		func(ctx context.Context, demand int) (runtime.Runtime, string, error) {
			attempts++
			if attempts == 1 {
				return nil, "", errors.New("failed to allocate buffer")
			}
			if demand != 8 {
				t.Fatalf("second attempt demand: %d, want the nominal 8", demand)
			}
			return &fakeRuntime{}, "local", nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rt == nil || source != "local" {
		t.Fatalf("got source %q", source)
	}
	if attempts != 2 || dev.cleanups != 1 {
		t.Fatalf("attempts=%d cleanups=%d, want 2 and 1", attempts, dev.cleanups)
	}
}

func TestReducedDemand(t *testing.T) {
	cases := []struct{ in, want int }{
		{8, 4}, {1, 0}, {0, 0}, {-1, 0},
	}
	for _, c := range cases {
		if got := reducedDemand(c.in); got != c.want {
			t.Errorf("reducedDemand(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRetryContextCancelDuringBackoff(t *testing.T) {
	dev := &countingDevice{}
	policy := RetryPolicy{Backoff: 1 << 30, Device: dev, Log: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := policy.Run(ctx, 8,
			func(ctx context.Context, demand int) (runtime.Runtime, string, error) {
				return nil, "", errors.New("out of memory")
			})
		done <- err
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
