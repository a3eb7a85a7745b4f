// Package callgroup coalesces concurrent calls that share a key.
//
// While a call for a key is in flight, later callers for the same key do
// not start their own; they wait and receive the in-flight result, marked
// Shared. Once the call returns the key is forgotten, so the next caller
// triggers a fresh execution. Used to keep manual and scheduled reconcile
// runs from overlapping.
package callgroup

import (
	"context"
	"sync"
)

// Result is what every caller of one execution receives.
type Result[V any] struct {
	Val    V
	Err    error
	Shared bool // true for callers that joined an in-flight execution
}

// Group coalesces concurrent function calls by key.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// DoChan executes fn if no call is in flight for key. Otherwise the
// returned channel receives the result of the existing call. The channel
// receives exactly one value and is never closed.
func (g *Group[K, V]) DoChan(key K, fn func() (V, error)) <-chan Result[V] {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}
	c, shared := g.calls[key]
	if !shared {
		c = &call[V]{done: make(chan struct{})}
		g.calls[key] = c
	}
	g.mu.Unlock()

	if !shared {
		go func() {
			c.val, c.err = fn()
			close(c.done)

			g.mu.Lock()
			delete(g.calls, key)
			g.mu.Unlock()
		}()
	}

	ch := make(chan Result[V], 1)
	go func() {
		<-c.done
		ch <- Result[V]{Val: c.val, Err: c.err, Shared: shared}
	}()
	return ch
}

// Do is DoChan that waits for the result or for ctx. A caller giving up
// does not cancel the execution others may be waiting on.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (Result[V], error) {
	select {
	case r := <-g.DoChan(key, fn):
		return r, nil
	case <-ctx.Done():
		return Result[V]{}, ctx.Err()
	}
}

// InFlight reports whether a call for key is running.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}
