// Package worker runs storage and file work off the caller's goroutine and
// hands results back through futures.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/notally/notally/internal/errors"
)

// Pool bounds the number of jobs running at once.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	log    zerolog.Logger
}

// NewPool creates a pool running at most size jobs concurrently.
func NewPool(size int, log zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem: semaphore.NewWeighted(int64(size)),
		log: log,
	}
}

// Future is the eventual result of a job.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job finishes or ctx ends. A ctx ending does not stop the job.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, errors.NewCancelled("wait")
	}
}

// Result returns the outcome of a finished future. It must only be called after Done is closed.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

// Resolved returns an already-completed future.
func Resolved[T any](val T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: val, err: err}
	close(f.done)
	return f
}

// Go submits fn to the pool and returns immediately. Submitting to a closed
// pool yields a future that fails with INVALID_REQUEST.
func Go[T any](p *Pool, fn func() (T, error)) *Future[T] {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		var zero T
		return Resolved(zero, error(errors.NewInvalidRequest("worker pool is closed")))
	}
	p.wg.Add(1)
	p.mu.Unlock()

	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer p.wg.Done()
		defer close(f.done)

		// Acquire with Background: queued work is never dropped.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)

		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Interface("panic", r).Msg("worker job panicked")
				f.err = errors.NewInternal(fmt.Errorf("job panicked: %v", r))
			}
		}()
		f.val, f.err = fn()
	}()
	return f
}

// Close stops accepting jobs and waits for submitted ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
