package vcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/autodev/internal/config"
)

const (
	perPage       = 100
	diffSeparator = "------------------------------"
)

// GitHub implements Forge against the GitHub REST API.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHubClient creates a go-github client authenticated with a static token.
// apiURL may be empty for github.com.
func NewGitHubClient(ctx context.Context, token config.Secret, apiURL string) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		base, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
		}
		client.BaseURL = base
	}
	return client, nil
}

// NewGitHub returns a Forge for one owner/name repository.
func NewGitHub(client *github.Client, repository string) (*GitHub, error) {
	if err := config.ValidateRepository(repository); err != nil {
		return nil, err
	}
	owner, repo := config.SplitRepository(repository)
	return &GitHub{client: client, owner: owner, repo: repo}, nil
}

// Repository returns owner/name.
func (g *GitHub) Repository() string {
	return g.owner + "/" + g.repo
}

// DefaultBranch returns the repository's default branch.
func (g *GitHub) DefaultBranch(ctx context.Context) (string, error) {
	r, _, err := g.client.Repositories.Get(ctx, g.owner, g.repo)
	if err != nil {
		return "", fmt.Errorf("get repository %s: %w", g.Repository(), err)
	}
	return r.GetDefaultBranch(), nil
}

// GetIssue fetches an issue.
func (g *GitHub) GetIssue(ctx context.Context, number int) (*Issue, error) {
	issue, _, err := g.client.Issues.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}
	return &Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
	}, nil
}

// GetPullRequest fetches a pull request.
func (g *GitHub) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	pr, _, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return nil, fmt.Errorf("get pull request #%d: %w", number, err)
	}
	return toPullRequest(pr), nil
}

// CreatePullRequest opens a pull request. A 422 "already exists" answer is
// reported as ErrPullRequestExists.
func (g *GitHub) CreatePullRequest(ctx context.Context, title, body, head, base string) (*PullRequest, error) {
	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
	})
	if err != nil {
		if isAlreadyExists(err) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrPullRequestExists, head, base)
		}
		return nil, fmt.Errorf("create pull request %s -> %s: %w", head, base, err)
	}
	return toPullRequest(pr), nil
}

// ListFiles returns every changed file of a pull request.
func (g *GitHub) ListFiles(ctx context.Context, number int) ([]FileChange, error) {
	var changes []FileChange
	opts := &github.ListOptions{PerPage: perPage}
	for {
		files, resp, err := g.client.PullRequests.ListFiles(ctx, g.owner, g.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list files of pull request #%d: %w", number, err)
		}
		for _, f := range files {
			changes = append(changes, FileChange{
				Filename: f.GetFilename(),
				Status:   f.GetStatus(),
				Patch:    f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			return changes, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetDiff renders the per-file patches of a pull request as review input.
func (g *GitHub) GetDiff(ctx context.Context, number int) (string, error) {
	pr, err := g.GetPullRequest(ctx, number)
	if err != nil {
		return "", err
	}
	files, err := g.ListFiles(ctx, number)
	if err != nil {
		return "", err
	}
	return FormatDiff(pr, files), nil
}

// FormatDiff renders a header line and one block per file. Removed and binary
// files carry a status marker instead of content.
func FormatDiff(pr *PullRequest, files []FileChange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PR #%d: %s\n\n", pr.Number, pr.Title)
	for _, f := range files {
		fmt.Fprintf(&b, "FILE: %s (Status: %s)\n", f.Filename, f.Status)
		switch {
		case f.Status == "removed":
			b.WriteString("Content: (file removed)\n")
		case f.Patch != "":
			fmt.Fprintf(&b, "PATCH:\n%s\n", f.Patch)
		default:
			b.WriteString("Content: (Binary or too large)\n")
		}
		b.WriteString(diffSeparator + "\n")
	}
	return b.String()
}

// GetCIStatus summarizes the most recent commit status of the pull request head.
func (g *GitHub) GetCIStatus(ctx context.Context, number int) (string, error) {
	pr, err := g.GetPullRequest(ctx, number)
	if err != nil {
		return "", err
	}
	statuses, _, err := g.client.Repositories.ListStatuses(ctx, g.owner, g.repo, pr.HeadSHA, &github.ListOptions{PerPage: 1})
	if err != nil {
		return "", fmt.Errorf("list statuses of %s: %w", pr.HeadSHA, err)
	}
	if len(statuses) == 0 {
		return "No CI status found.", nil
	}
	latest := statuses[0]
	return fmt.Sprintf("Latest CI Status: %s - %s", latest.GetState(), latest.GetDescription()), nil
}

// ListComments returns every conversation comment of a pull request, oldest first.
func (g *GitHub) ListComments(ctx context.Context, number int) ([]Comment, error) {
	var comments []Comment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		page, resp, err := g.client.Issues.ListComments(ctx, g.owner, g.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list comments of #%d: %w", number, err)
		}
		for _, c := range page {
			comments = append(comments, Comment{
				ID:        c.GetID(),
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			return comments, nil
		}
		opts.Page = resp.NextPage
	}
}

// PostComment adds a conversation comment and returns its URL.
func (g *GitHub) PostComment(ctx context.Context, number int, body string) (string, error) {
	c, _, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return "", fmt.Errorf("post comment on #%d: %w", number, err)
	}
	return c.GetHTMLURL(), nil
}

func toPullRequest(pr *github.PullRequest) *PullRequest {
	return &PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		HeadRef: pr.GetHead().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseRef: pr.GetBase().GetRef(),
		URL:     pr.GetHTMLURL(),
	}
}

func isAlreadyExists(err error) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil || ghErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	if strings.Contains(strings.ToLower(ghErr.Message), "already exists") {
		return true
	}
	for _, e := range ghErr.Errors {
		if strings.Contains(strings.ToLower(e.Message), "already exists") {
			return true
		}
	}
	return false
}
