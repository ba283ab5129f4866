// Package coalesce implements a keyed work pool which collapses
// concurrent requests for the same key into a single underlying
// operation whose result is multicast to all callers.
package coalesce

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// WorkFunc is the function which does the work for one key.
type WorkFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

type result[V any] struct {
	value V
	err   error
}

type submission[K comparable, V any] struct {
	key   K
	reply chan result[V]
}

// Worker is a keyed work pool.
//
// At most concurrency distinct keys are worked on at once.  Submitting
// a key which is already in flight does not start new work and does
// not consume a slot - the waiter is attached to the running worker
// and receives the same value (or error) when it completes.
type Worker[K comparable, V any] struct {
	fn       WorkFunc[K, V]
	submitCh chan submission[K, V]
	sem      chan struct{}

	mu      sync.Mutex
	waiters map[K][]chan result[V]

	dispatcherDone chan struct{}
	workers        sync.WaitGroup
}

// New creates a Worker running at most concurrency keys at once.
//
// ctx is used for all work functions; Close must be called to wait
// for in-flight work to finish.
func New[K comparable, V any](ctx context.Context, concurrency int, fn WorkFunc[K, V]) *Worker[K, V] {
	w := &Worker[K, V]{
		fn: fn,
		// Queue depth of 1 - submitters block when the dispatcher
		// is busy which applies backpressure upstream.
		submitCh:       make(chan submission[K, V], 1),
		sem:            make(chan struct{}, concurrency),
		waiters:        make(map[K][]chan result[V]),
		dispatcherDone: make(chan struct{}),
	}
	go w.dispatch(ctx)
	return w
}

// dispatch accepts submissions and starts a worker goroutine whenever
// a key's waiter list transitions from empty to non-empty.
func (w *Worker[K, V]) dispatch(ctx context.Context) {
	defer close(w.dispatcherDone)
	for sub := range w.submitCh {
		w.mu.Lock()
		w.waiters[sub.key] = append(w.waiters[sub.key], sub.reply)
		first := len(w.waiters[sub.key]) == 1
		w.mu.Unlock()
		if !first {
			logrus.Debugf("coalesce: joined in-flight work for key %v", sub.key)
			continue
		}
		w.workers.Add(1)
		go w.run(ctx, sub.key)
	}
}

// run performs the work for one key and multicasts the result
func (w *Worker[K, V]) run(ctx context.Context, key K) {
	defer w.workers.Done()
	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	value, err := w.fn(ctx, key)

	w.mu.Lock()
	toNotify := w.waiters[key]
	delete(w.waiters, key)
	w.mu.Unlock()

	for _, reply := range toNotify {
		reply <- result[V]{value: value, err: err}
	}
}

// Submit enqueues work for key and blocks until it completes,
// returning the value computed by the work function.
//
// Concurrent Submits of equal keys share one invocation of the work
// function; every caller receives the same value or an equivalent
// error.  Submit must not be called after Close.
func (w *Worker[K, V]) Submit(ctx context.Context, key K) (V, error) {
	reply := make(chan result[V], 1)
	select {
	case w.submitCh <- submission[K, V]{key: key, reply: reply}:
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Close stops accepting new work and waits for in-flight work to
// finish.
func (w *Worker[K, V]) Close() {
	close(w.submitCh)
	<-w.dispatcherDone
	w.workers.Wait()
}
