package ctxpool

// Package ctxpool is a fixed size pool of execution contexts.
// A caller leases one context at a time, blocking until one is idle, and must
// give it back when done. The pool never grows or shrinks.

import (
	"errors"
	"sync"

	"go.uber.org/multierr"
)

var ErrNoContexts = errors.New("No execution contexts could be created")
var ErrClosed = errors.New("Context pool is closed")

type Pool[T any] struct {
	lock    sync.Mutex
	avail   *sync.Cond // Signaled when an item is returned
	drained *sync.Cond // Broadcast when the last leased item is returned
	idle    []T        // Items are taken from the front and returned to the back
	all     []T
	leased  int
	closed  bool
}

// New creates a pool that owns items.
// Returns ErrNoContexts if items is empty.
func New[T any](items []T) (*Pool[T], error) {
	if len(items) == 0 {
		return nil, ErrNoContexts
	}
	p := &Pool[T]{
		idle: append([]T(nil), items...),
		all:  append([]T(nil), items...),
	}
	p.avail = sync.NewCond(&p.lock)
	p.drained = sync.NewCond(&p.lock)
	return p, nil
}

// Acquire blocks until an item is idle, and returns it.
// Every successful Acquire must be paired with exactly one Release.
// Panics if the pool has been closed.
func (p *Pool[T]) Acquire() T {
	p.lock.Lock()
	defer p.lock.Unlock()
	for len(p.idle) == 0 && !p.closed {
		p.avail.Wait()
	}
	if p.closed {
		panic(ErrClosed)
	}
	item := p.idle[0]
	var zero T
	p.idle[0] = zero
	p.idle = p.idle[1:]
	p.leased++
	return item
}

// Release returns an item that was obtained from Acquire
func (p *Pool[T]) Release(item T) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.leased == 0 {
		panic("ctxpool: Release without a matching Acquire")
	}
	p.leased--
	p.idle = append(p.idle, item)
	// Wakes one waiter. A new caller of Acquire may take the item first, in
	// which case the woken waiter goes back to waiting. Waiters are not served
	// in strict arrival order.
	p.avail.Signal()
	if p.leased == 0 {
		p.drained.Broadcast()
	}
}

// Lease is a scoped hold on one item. Release is idempotent, so the normal
// pattern is:
//
//	lease := pool.Lease()
//	defer lease.Release()
type Lease[T any] struct {
	pool     *Pool[T]
	item     T
	released bool
}

// Lease acquires an item, blocking until one is idle
func (p *Pool[T]) Lease() *Lease[T] {
	return &Lease[T]{
		pool: p,
		item: p.Acquire(),
	}
}

// Item returns the leased item. It may not be used after Release.
func (l *Lease[T]) Item() T {
	return l.item
}

func (l *Lease[T]) Release() {
	if l.released {
		return
	}
	l.released = true
	l.pool.Release(l.item)
	var zero T
	l.item = zero
}

// With leases an item for the duration of fn. The item is released on every
// exit path, including a panic inside fn.
func (p *Pool[T]) With(fn func(item T) error) error {
	lease := p.Lease()
	defer lease.Release()
	return fn(lease.Item())
}

// Total number of items owned by the pool
func (p *Pool[T]) Size() int {
	return len(p.all)
}

// Number of items available for Acquire
func (p *Pool[T]) Idle() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.idle)
}

// Number of items currently held by callers
func (p *Pool[T]) Leased() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.leased
}

// Counts returns Idle() and Leased() from one consistent snapshot.
// idle + leased is always equal to Size().
func (p *Pool[T]) Counts() (idle, leased int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.idle), p.leased
}

// Close waits for every leased item to be released, then calls closer on
// every item. Callers blocked in Acquire are woken, and panic with ErrClosed.
func (p *Pool[T]) Close(closer func(item T) error) error {
	p.lock.Lock()
	for p.leased != 0 {
		p.drained.Wait()
	}
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed = true
	p.idle = nil
	p.avail.Broadcast()
	p.lock.Unlock()

	var err error
	if closer != nil {
		for _, item := range p.all {
			err = multierr.Append(err, closer(item))
		}
	}
	return err
}
