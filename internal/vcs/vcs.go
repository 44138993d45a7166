// Package vcs is the narrow interface the agent roles use to talk to the code
// host and to their local working tree.
package vcs

import (
	"context"
	"errors"
	"time"
)

// Errors callers are expected to branch on.
var (
	ErrPullRequestExists = errors.New("pull request already exists")
	ErrBranchNotFound    = errors.New("branch not found")
	ErrNotCloned         = errors.New("working tree not checked out")
)

// Issue is the subset of an issue the coder needs.
type Issue struct {
	Number int
	Title  string
	Body   string
}

// PullRequest is the subset of a pull request the roles need.
type PullRequest struct {
	Number  int
	Title   string
	HeadRef string
	HeadSHA string
	BaseRef string
	URL     string
}

// FileChange is one file of a pull request diff. Patch is empty for binary,
// removed or oversized files.
type FileChange struct {
	Filename string
	Status   string
	Patch    string
}

// Comment is a pull request conversation comment.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// Forge covers the remote API calls. Every call is fail-fast.
type Forge interface {
	DefaultBranch(ctx context.Context) (string, error)
	GetIssue(ctx context.Context, number int) (*Issue, error)
	GetPullRequest(ctx context.Context, number int) (*PullRequest, error)
	CreatePullRequest(ctx context.Context, title, body, head, base string) (*PullRequest, error)
	GetDiff(ctx context.Context, number int) (string, error)
	GetCIStatus(ctx context.Context, number int) (string, error)
	ListComments(ctx context.Context, number int) ([]Comment, error)
	PostComment(ctx context.Context, number int, body string) (string, error)
}

// Workspace covers the local working tree of one task.
type Workspace interface {
	Dir() string
	Checkout(ctx context.Context, branch string, createIfMissing bool) error
	WriteFile(relPath, content string) error
	// CommitAndPush stages everything, and when the tree changed commits and
	// then pushes. It reports whether a commit was made.
	CommitAndPush(ctx context.Context, branch, message string) (bool, error)
	Close() error
}

// Driver is everything an agent role needs from version control.
type Driver interface {
	Forge
	Workspace
	Authenticate(ctx context.Context) error
}
