package batch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// echo answers each key with a value derived from it, so callers can verify
// they received the answer for their own key regardless of batch ordering.
func echo(_ context.Context, keys []int) ([]string, error) {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = "v" + strconv.Itoa(k)
	}
	return out, nil
}

func TestAdd_EachCallerGetsOwnValue(t *testing.T) {
	p := New(echo, 10, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			v, err := p.Add(context.Background(), k)
			if err != nil {
				t.Errorf("key %d: unexpected error: %v", k, err)
				return
			}
			if want := "v" + strconv.Itoa(k); v != want {
				t.Errorf("key %d: expected %s, got %s", k, want, v)
			}
		}(i)
	}
	wg.Wait()
}

func TestAdd_FullBatchDispatchesImmediately(t *testing.T) {
	var batches int32
	fn := func(ctx context.Context, keys []int) ([]string, error) {
		atomic.AddInt32(&batches, 1)
		if len(keys) != 3 {
			t.Errorf("expected full batch of 3, got %d", len(keys))
		}
		return echo(ctx, keys)
	}
	// Long maxWait: only the size trigger can flush in time.
	p := New(fn, 3, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			if _, err := p.Add(context.Background(), k); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&batches); n != 1 {
		t.Errorf("expected exactly 1 batch, got %d", n)
	}
}

func TestAdd_TimerFlushesPartialBatch(t *testing.T) {
	p := New(echo, 100, 5*time.Millisecond)

	start := time.Now()
	v, err := p.Add(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "v42" {
		t.Errorf("expected v42, got %s", v)
	}
	if time.Since(start) > time.Second {
		t.Error("partial batch took too long to flush")
	}
}

func TestAdd_ErrorFansOutToWholeBatch(t *testing.T) {
	boom := errors.New("upstream down")
	fn := func(_ context.Context, keys []int) ([]string, error) {
		return nil, boom
	}
	p := New(fn, 3, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			_, err := p.Add(context.Background(), k)
			if !errors.Is(err, boom) {
				t.Errorf("key %d: expected shared batch error, got %v", k, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestAdd_LengthMismatchFailsBatch(t *testing.T) {
	fn := func(_ context.Context, keys []int) ([]string, error) {
		return []string{"only one"}, nil
	}
	p := New(fn, 2, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			if _, err := p.Add(context.Background(), k); err == nil {
				t.Errorf("key %d: expected error for short value slice", k)
			}
		}(i)
	}
	wg.Wait()
}

func TestAdd_ContextCancelled(t *testing.T) {
	p := New(echo, 100, time.Hour) // never flushes on its own

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Add(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNew_ClampsInvalidConfig(t *testing.T) {
	// A zero maxSize degrades to single-key batches rather than panicking.
	p := New(echo, 0, 0)
	v, err := p.Add(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "v7" {
		t.Errorf("expected v7, got %s", v)
	}
}
