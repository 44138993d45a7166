package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the part of pgxpool.Pool the counter uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresCounter keeps exact review cycle counts in autodev_review_cycles.
type PostgresCounter struct {
	db querier
}

// NewPostgresCounter wraps a pool (or anything with the same query methods).
func NewPostgresCounter(db querier) *PostgresCounter {
	return &PostgresCounter{db: db}
}

// Load returns the stored count and reset time, a zero Tally when the pull
// request has no row yet.
func (c *PostgresCounter) Load(ctx context.Context, repository string, pr int) (Tally, error) {
	var (
		tally   Tally
		resetAt *time.Time
	)
	err := c.db.QueryRow(ctx,
		`SELECT cycles, reset_at FROM autodev_review_cycles WHERE repository = $1 AND pr_number = $2`,
		repository, pr,
	).Scan(&tally.Cycles, &resetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tally{}, nil
	}
	if err != nil {
		return Tally{}, fmt.Errorf("query review cycles for %s#%d: %w", repository, pr, err)
	}
	if resetAt != nil {
		tally.ResetAt = *resetAt
	}
	return tally, nil
}

// Increment adds one cycle and returns the new count.
func (c *PostgresCounter) Increment(ctx context.Context, repository string, pr int) (int, error) {
	var n int
	err := c.db.QueryRow(ctx, `
		INSERT INTO autodev_review_cycles (repository, pr_number, cycles, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (repository, pr_number)
		DO UPDATE SET cycles = autodev_review_cycles.cycles + 1, updated_at = now()
		RETURNING cycles`,
		repository, pr,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment review cycles for %s#%d: %w", repository, pr, err)
	}
	return n, nil
}

// Reset zeroes the count and records the reset time, after which older
// review comments no longer count either.
func (c *PostgresCounter) Reset(ctx context.Context, repository string, pr int) error {
	_, err := c.db.Exec(ctx, `
		INSERT INTO autodev_review_cycles (repository, pr_number, cycles, reset_at, updated_at)
		VALUES ($1, $2, 0, now(), now())
		ON CONFLICT (repository, pr_number)
		DO UPDATE SET cycles = 0, reset_at = now(), updated_at = now()`,
		repository, pr,
	)
	if err != nil {
		return fmt.Errorf("reset review cycles for %s#%d: %w", repository, pr, err)
	}
	return nil
}
