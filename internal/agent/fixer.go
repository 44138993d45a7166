package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/autodev/internal/codectx"
	"github.com/autodev/internal/guard"
	"github.com/autodev/internal/prompts"
)

const fixCommitMsg = "Fixes based on review"

// RunFixer rewrites the pull request branch according to the latest comment,
// unless the iteration guard says the loop has run long enough.
func RunFixer(ctx context.Context, d *Deps, t *Task) (*Result, error) {
	d.Log.Log("Fixing PR #%d", t.SubjectNumber)

	comments, err := d.Driver.ListComments(ctx, t.SubjectNumber)
	if err != nil {
		return nil, err
	}

	g := d.Guard
	if g == nil {
		g = guard.New(guard.DefaultLimit, nil)
	}
	decision, err := g.Evaluate(ctx, t.Repository, t.SubjectNumber, comments)
	if err != nil {
		return nil, err
	}
	d.Log.Log("Current fix iteration: %d of %d", decision.Cycles, decision.Limit)

	if decision.Halt {
		res := &Result{Outcome: OutcomeHalted}
		if decision.AlreadyNotified {
			d.Log.Warn("Iteration limit reached; halt notice already posted")
			return res, nil
		}
		url, err := d.Driver.PostComment(ctx, t.SubjectNumber, guard.HaltNotice(decision.Limit))
		if err != nil {
			return nil, fmt.Errorf("post halt notice: %w", err)
		}
		d.Log.Warn("Iteration limit reached; stopping")
		res.CommentURL = url
		return res, nil
	}

	pr, err := d.Driver.GetPullRequest(ctx, t.SubjectNumber)
	if err != nil {
		return nil, err
	}
	t.BranchName = pr.HeadRef

	release, err := d.lock(ctx, t)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := d.Driver.Checkout(ctx, t.BranchName, false); err != nil {
		return nil, err
	}

	provider := d.Context
	if provider == nil {
		provider = codectx.New(codectx.Options{})
	}
	snapshot, err := provider.Collect(d.Driver.Dir())
	if err != nil {
		return nil, fmt.Errorf("collect code context: %w", err)
	}
	if len(snapshot.Truncated) > 0 {
		d.Log.Warn("Context limit reached, %d file(s) left out", len(snapshot.Truncated))
	}

	feedback := d.fixFeedback(comments)
	edits, err := d.generateEdits(ctx, RoleFixer, prompts.FixerSystem, prompts.Fix(snapshot.Text, feedback))
	res := &Result{}
	if errors.Is(err, ErrNoEdits) {
		res.Outcome = OutcomeNoEdits
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.Written, res.Skipped = d.applyEdits(edits)

	res.Committed, err = d.Driver.CommitAndPush(ctx, t.BranchName, fixCommitMsg)
	if err != nil {
		return nil, err
	}
	if !res.Committed {
		res.Outcome = OutcomeNoChanges
		return res, nil
	}
	d.Log.Log("Fixes pushed to %s", t.BranchName)
	res.Outcome = OutcomeSuccess
	return res, nil
}
