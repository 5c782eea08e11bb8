package pool

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("fetch pool closed")

// Pool bounds the number of outbound fetches in flight. It is created once at
// startup, handed to the handlers, and closed after the listener has stopped.
type Pool struct {
	slots chan struct{}

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

// New creates a pool with size slots. Sizes below one are raised to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx ends. The returned release func
// must be called once the fetch is done; extra calls are ignored.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	p.pending.Add(1)
	p.mu.RUnlock()

	select {
	case p.slots <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-p.slots
				p.pending.Done()
			})
		}, nil
	case <-ctx.Done():
		p.pending.Done()
		return nil, ctx.Err()
	}
}

// Close stops handing out new slots and waits for every outstanding
// acquisition to be released, or for ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Size() int  { return cap(p.slots) }
func (p *Pool) InUse() int { return len(p.slots) }
