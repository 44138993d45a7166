// Package lease serializes tasks that work on the same issue or pull request.
package lease

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Locker hands out exclusive per-key leases. The returned release func must be
// called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Key is the lease key of one subject, e.g. octo/repo#7.
func Key(repository string, number int) string {
	return fmt.Sprintf("%s#%d", repository, number)
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Memory is an in-process keyed locker.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewMemory returns an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*entry)}
}

// Acquire blocks until key is free or ctx is done. A done ctx never gets a lease.
func (m *Memory) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}

	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, e)
		return nil, fmt.Errorf("acquire lease %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.unref(key, e)
		})
	}, nil
}

func (m *Memory) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Postgres takes session advisory locks so tasks in different processes
// sharing one database exclude each other.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns an advisory-lock based locker.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Acquire holds a pooled connection for the lifetime of the lease, since
// advisory locks belong to the session that took them.
func (p *Postgres) Acquire(ctx context.Context, key string) (func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for lease %s: %w", key, err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// a failed unlock still ends the session lock once the
			// connection is destroyed
			if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
				_ = conn.Conn().Close(context.Background())
			}
			conn.Release()
		})
	}, nil
}
