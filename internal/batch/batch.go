// Package batch coalesces many small per-key remote lookups issued within a
// short window into fewer round trips. Used to fold per-item shipping-fee
// quotes from one listing pass into batched marketplace calls.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Func resolves a batch of keys in one round trip. values[i] must answer
// keys[i]; returning a different length fails the whole batch.
type Func[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// Processor groups Add calls arriving within MaxWait of each other (or until
// MaxBatchSize keys accumulate) into single Func invocations. If the Func
// fails, every pending caller in that batch receives the same error; there
// is no partial success within a batch.
type Processor[K comparable, V any] struct {
	fn      Func[K, V]
	maxSize int
	maxWait time.Duration

	mu      sync.Mutex
	pending []waiter[K, V]
	timer   *time.Timer
}

type waiter[K comparable, V any] struct {
	key K
	ch  chan result[V]
}

type result[V any] struct {
	value V
	err   error
}

// New creates a Processor. maxSize must be at least 1.
func New[K comparable, V any](fn Func[K, V], maxSize int, maxWait time.Duration) *Processor[K, V] {
	if maxSize < 1 {
		maxSize = 1
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Millisecond
	}
	return &Processor[K, V]{
		fn:      fn,
		maxSize: maxSize,
		maxWait: maxWait,
	}
}

// Add enqueues a key and blocks until its batch resolves or ctx is done.
func (p *Processor[K, V]) Add(ctx context.Context, key K) (V, error) {
	ch := make(chan result[V], 1)

	p.mu.Lock()
	p.pending = append(p.pending, waiter[K, V]{key: key, ch: ch})
	if len(p.pending) >= p.maxSize {
		batch := p.take()
		p.mu.Unlock()
		go p.run(ctx, batch)
	} else {
		if p.timer == nil {
			p.timer = time.AfterFunc(p.maxWait, p.flush)
		}
		p.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case r := <-ch:
		return r.value, r.err
	}
}

// flush is the timer callback: dispatch whatever accumulated in the window.
func (p *Processor[K, V]) flush() {
	p.mu.Lock()
	batch := p.take()
	p.mu.Unlock()
	if len(batch) > 0 {
		p.run(context.Background(), batch)
	}
}

// take removes and returns the pending batch. Caller holds p.mu.
func (p *Processor[K, V]) take() []waiter[K, V] {
	batch := p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	return batch
}

// run resolves one batch, preserving key order.
func (p *Processor[K, V]) run(ctx context.Context, batch []waiter[K, V]) {
	keys := make([]K, len(batch))
	for i, w := range batch {
		keys[i] = w.key
	}

	values, err := p.fn(ctx, keys)
	if err == nil && len(values) != len(keys) {
		err = fmt.Errorf("batch: got %d values for %d keys", len(values), len(keys))
	}
	if err != nil {
		for _, w := range batch {
			w.ch <- result[V]{err: err}
		}
		return
	}
	for i, w := range batch {
		w.ch <- result[V]{value: values[i]}
	}
}
