package agent

import (
	"context"

	"github.com/autodev/internal/prompts"
)

// RunReviewer reviews a pull request diff and posts the verdict as a comment.
func RunReviewer(ctx context.Context, d *Deps, t *Task) (*Result, error) {
	d.Log.Log("Reviewing PR #%d", t.SubjectNumber)

	diff, err := d.Driver.GetDiff(ctx, t.SubjectNumber)
	if err != nil {
		return nil, err
	}
	ci, err := d.Driver.GetCIStatus(ctx, t.SubjectNumber)
	if err != nil {
		return nil, err
	}
	d.Log.Log("Collected %d bytes of changes; %s", len(diff), ci)

	verdict, err := d.generate(ctx, RoleReviewer, prompts.ReviewerSystem, prompts.Review(ci, diff))
	if err != nil {
		return nil, err
	}

	approved := IsApproved(verdict, d.StrictApproval)
	url, err := d.Driver.PostComment(ctx, t.SubjectNumber, ReviewComment(verdict, approved))
	if err != nil {
		return nil, err
	}
	d.Log.Log("Review posted: %s", url)

	res := &Result{CommentURL: url, Outcome: OutcomeApproved}
	if approved {
		d.Log.Log("Change approved")
		return res, nil
	}

	res.Outcome = OutcomeChangesRequested
	d.Log.Log("Changes requested")
	if d.Guard != nil {
		if err := d.Guard.Record(ctx, t.Repository, t.SubjectNumber); err != nil {
			// the hidden marker in the posted comment still counts
			d.Log.Warn("Could not record review cycle: %v", err)
		}
	}
	return res, nil
}
