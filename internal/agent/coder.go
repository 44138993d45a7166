package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/autodev/internal/prompts"
	"github.com/autodev/internal/vcs"
)

const pullRequestBody = "Generated by AI Code Agent"

// RunCoder turns an issue into a branch, a commit and a pull request.
func RunCoder(ctx context.Context, d *Deps, t *Task) (*Result, error) {
	res := &Result{}

	issue, err := d.Driver.GetIssue(ctx, t.SubjectNumber)
	if err != nil {
		return nil, err
	}
	d.Log.Log("Task: %s", issue.Title)

	release, err := d.lock(ctx, t)
	if err != nil {
		return nil, err
	}
	defer release()

	t.BranchName = IssueBranch(issue.Number)
	if err := d.Driver.Checkout(ctx, t.BranchName, true); err != nil {
		return nil, err
	}

	edits, err := d.generateEdits(ctx, RoleCoder, prompts.CoderSystem, prompts.Issue(issue.Title, issue.Body))
	if errors.Is(err, ErrNoEdits) {
		res.Outcome = OutcomeNoEdits
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.Written, res.Skipped = d.applyEdits(edits)

	res.Committed, err = d.Driver.CommitAndPush(ctx, t.BranchName, "AI Update: "+issue.Title)
	if err != nil {
		return nil, err
	}
	if !res.Committed {
		res.Outcome = OutcomeNoChanges
		return res, nil
	}
	d.Log.Log("Changes pushed to %s", t.BranchName)

	base := d.defaultBase(ctx)
	pr, err := d.Driver.CreatePullRequest(ctx, "Resolve: "+issue.Title, pullRequestBody, t.BranchName, base)
	switch {
	case errors.Is(err, vcs.ErrPullRequestExists):
		d.Log.Log("Pull request already exists for %s", t.BranchName)
	case err != nil:
		return nil, fmt.Errorf("open pull request: %w", err)
	default:
		d.Log.Log("Pull request created: %s", pr.URL)
		res.PullRequest = pr.URL
	}

	res.Outcome = OutcomeSuccess
	return res, nil
}
