// Package guard stops the review and fix loop once a pull request has been
// through too many review cycles.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autodev/internal/vcs"
)

const (
	// ReviewCycleMarker is embedded in every changes-requested review comment.
	ReviewCycleMarker = "<!-- autodev:review-cycle -->"
	// HaltMarker is embedded in the notice posted when the limit is hit.
	HaltMarker = "<!-- autodev:iteration-halt -->"

	DefaultLimit = 5
)

// Visible substrings older review comments carry instead of the hidden marker,
// lower-cased. The changes-requested entry is the footer literal, so prose that
// merely mentions requested changes does not count.
var legacyMarkers = []string{
	"changes found",
	"changes to review",
	"⚠️ changes requested",
}

// Tally is the durable state of one pull request.
type Tally struct {
	Cycles int
	// ResetAt is when the count was last cleared; zero if never.
	ResetAt time.Time
}

// Counter is a durable per pull request cycle count.
type Counter interface {
	Load(ctx context.Context, repository string, pr int) (Tally, error)
	Increment(ctx context.Context, repository string, pr int) (int, error)
}

// Decision is the result of evaluating the guard for one pull request.
type Decision struct {
	Cycles          int
	Limit           int
	Halt            bool
	AlreadyNotified bool
}

// Guard counts review cycles and decides whether another fix may run.
type Guard struct {
	limit   int
	counter Counter
}

// New returns a Guard. counter may be nil, in which case only comment history
// is consulted.
func New(limit int, counter Counter) *Guard {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Guard{limit: limit, counter: counter}
}

// Limit returns the configured cycle limit.
func (g *Guard) Limit() int {
	return g.limit
}

// IsReviewCycle reports whether a comment body marks one review cycle.
func IsReviewCycle(body string) bool {
	if strings.Contains(body, ReviewCycleMarker) {
		return true
	}
	lower := strings.ToLower(body)
	for _, m := range legacyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// IsHaltNotice reports whether a comment is a halt notice posted by the guard.
func IsHaltNotice(body string) bool {
	return strings.Contains(body, HaltMarker)
}

// Since drops the comments created at or before t. A zero t keeps everything.
func Since(comments []vcs.Comment, t time.Time) []vcs.Comment {
	if t.IsZero() {
		return comments
	}
	var kept []vcs.Comment
	for _, c := range comments {
		if c.CreatedAt.After(t) {
			kept = append(kept, c)
		}
	}
	return kept
}

// CountCycles counts review cycle comments. Halt notices never count.
func CountCycles(comments []vcs.Comment) int {
	n := 0
	for _, c := range comments {
		if IsHaltNotice(c.Body) {
			continue
		}
		if IsReviewCycle(c.Body) {
			n++
		}
	}
	return n
}

// Evaluate decides whether the pull request has reached the limit. With a
// durable counter the larger of the two counts wins, and comments posted
// before the last reset are ignored.
func (g *Guard) Evaluate(ctx context.Context, repository string, pr int, comments []vcs.Comment) (Decision, error) {
	d := Decision{Limit: g.limit}

	var tally Tally
	if g.counter != nil {
		var err error
		tally, err = g.counter.Load(ctx, repository, pr)
		if err != nil {
			return d, fmt.Errorf("read review cycle count: %w", err)
		}
	}

	comments = Since(comments, tally.ResetAt)
	d.Cycles = CountCycles(comments)
	if tally.Cycles > d.Cycles {
		d.Cycles = tally.Cycles
	}

	d.Halt = d.Cycles >= g.limit
	if d.Halt {
		for _, c := range comments {
			if IsHaltNotice(c.Body) {
				d.AlreadyNotified = true
				break
			}
		}
	}

	log.Debug().
		Str("repository", repository).
		Int("pr", pr).
		Int("cycles", d.Cycles).
		Int("limit", g.limit).
		Bool("halt", d.Halt).
		Msg("Evaluated iteration guard")
	return d, nil
}

// Record counts one more review cycle in the durable store, when there is one.
func (g *Guard) Record(ctx context.Context, repository string, pr int) error {
	if g.counter == nil {
		return nil
	}
	n, err := g.counter.Increment(ctx, repository, pr)
	if err != nil {
		return fmt.Errorf("record review cycle: %w", err)
	}
	log.Debug().Str("repository", repository).Int("pr", pr).Int("cycles", n).Msg("Recorded review cycle")
	return nil
}

// HaltNotice is the comment posted when the limit is reached.
func HaltNotice(limit int) string {
	return fmt.Sprintf("⛔ Iteration limit reached (%d). The agent has stopped working on this pull request; human intervention is required.\n\n%s", limit, HaltMarker)
}
