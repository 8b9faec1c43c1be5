package store

import (
	"context"
	"sync"

	"github.com/notally/notally/internal/db"
)

// table is a bit set of the tables a query reads or a transaction wrote.
type table uint8

const (
	tableNotes table = 1 << iota
	tableLabels
)

// liveQuery is the type-erased view of a Query that the store keeps for
// change notification.
type liveQuery interface {
	reads() table
	refresh(ctx context.Context)
	shutdown()
}

// Query is a live, re-runnable result set. Subscribers receive the current
// result immediately and a new result after every committed write to the
// tables the query reads.
type Query[T any] struct {
	store  *Store
	name   string
	tables table
	run    func(ctx context.Context, q db.Querier) ([]T, error)

	// refreshMu serializes re-runs so results are pushed in commit order.
	refreshMu sync.Mutex

	mu     sync.Mutex
	subs   map[*subscription[T]]struct{}
	closed bool
}

type subscription[T any] struct {
	ch     chan []T
	closed chan struct{}
	done   bool
}

func newQuery[T any](s *Store, name string, tables table, run func(context.Context, db.Querier) ([]T, error)) *Query[T] {
	q := &Query[T]{
		store:  s,
		name:   name,
		tables: tables,
		run:    run,
		subs:   make(map[*subscription[T]]struct{}),
	}
	s.register(q)
	return q
}

// Snapshot runs the query once and returns the result.
func (q *Query[T]) Snapshot(ctx context.Context) ([]T, error) {
	return q.run(ctx, q.store.db)
}

// Subscribe returns a channel carrying the current result followed by a
// fresh result after each relevant commit. Delivery is latest-wins: a reader
// that falls behind sees only the newest result. The channel is closed when
// ctx ends, cancel is called, or the query is closed.
func (q *Query[T]) Subscribe(ctx context.Context) (<-chan []T, func()) {
	sub := &subscription[T]{ch: make(chan []T, 1), closed: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	q.subs[sub] = struct{}{}
	q.mu.Unlock()

	// Hold refreshMu so a concurrent commit cannot push before the initial result.
	q.refreshMu.Lock()
	result, err := q.run(ctx, q.store.db)
	if err != nil {
		q.store.log.Warn().Err(err).Str("query", q.name).Msg("initial query failed")
	} else {
		q.mu.Lock()
		if !sub.done {
			sub.push(result)
		}
		q.mu.Unlock()
	}
	q.refreshMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			q.mu.Lock()
			q.closeSub(sub)
			q.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.closed:
		}
	}()
	return sub.ch, cancel
}

// Close ends every subscription and detaches the query from the store.
func (q *Query[T]) Close() {
	q.store.unregister(q)
	q.shutdown()
}

// Subscribers reports the number of active subscriptions.
func (q *Query[T]) Subscribers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subs)
}

func (q *Query[T]) reads() table {
	return q.tables
}

func (q *Query[T]) refresh(ctx context.Context) {
	if q.Subscribers() == 0 {
		return
	}

	q.refreshMu.Lock()
	defer q.refreshMu.Unlock()

	result, err := q.run(ctx, q.store.db)
	if err != nil {
		q.store.log.Warn().Err(err).Str("query", q.name).Msg("query refresh failed")
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for sub := range q.subs {
		sub.push(result)
	}
}

func (q *Query[T]) shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for sub := range q.subs {
		q.closeSub(sub)
	}
}

// closeSub must be called with q.mu held.
func (q *Query[T]) closeSub(sub *subscription[T]) {
	if sub.done {
		return
	}
	sub.done = true
	delete(q.subs, sub)
	close(sub.ch)
	close(sub.closed)
}

// push replaces any undelivered result with v. Callers hold the query mutex,
// so there is a single sender and the send after draining never blocks.
func (s *subscription[T]) push(v []T) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}
