package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const remoteName = "origin"

// PushFunc pushes one refspec to the remote.
type PushFunc func(ctx context.Context, repo *git.Repository, opts *git.PushOptions) error

// WorkspaceOptions configures a GitWorkspace.
type WorkspaceOptions struct {
	// Dir is the directory the repository is cloned into.
	Dir string
	// URL is the clone URL; leave empty when Dir already holds a repository.
	URL         string
	Token       string
	AuthorName  string
	AuthorEmail string
	// Keep leaves Dir on disk after Close.
	Keep   bool
	Push   PushFunc
	Logger *zerolog.Logger
}

// GitWorkspace is a Workspace backed by go-git. The clone happens on first use.
type GitWorkspace struct {
	opts WorkspaceOptions
	repo *git.Repository
	auth transport.AuthMethod
	log  *zerolog.Logger
}

// NewWorkspace prepares a workspace; nothing touches the network until Checkout.
func NewWorkspace(opts WorkspaceOptions) *GitWorkspace {
	if opts.Push == nil {
		opts.Push = defaultPush
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "AI Agent"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "agent@ai.com"
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}

	w := &GitWorkspace{opts: opts, log: logger}
	if opts.Token != "" {
		w.auth = &githttp.BasicAuth{Username: "x-access-token", Password: opts.Token}
	}
	return w
}

// OpenWorkspace wraps a repository that already exists in opts.Dir.
func OpenWorkspace(opts WorkspaceOptions) (*GitWorkspace, error) {
	w := NewWorkspace(opts)
	repo, err := git.PlainOpen(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("open repository in %s: %w", opts.Dir, err)
	}
	w.repo = repo
	return w, nil
}

// Dir returns the working tree root.
func (w *GitWorkspace) Dir() string {
	return w.opts.Dir
}

func (w *GitWorkspace) ensureRepo(ctx context.Context) error {
	if w.repo != nil {
		return nil
	}
	if w.opts.URL == "" {
		return ErrNotCloned
	}

	w.log.Info().Str("dir", w.opts.Dir).Msg("Cloning repository")
	repo, err := git.PlainCloneContext(ctx, w.opts.Dir, false, &git.CloneOptions{
		URL:        w.opts.URL,
		Auth:       w.auth,
		RemoteName: remoteName,
	})
	if err != nil {
		return fmt.Errorf("clone into %s: %w", w.opts.Dir, err)
	}
	w.repo = repo
	return nil
}

// Checkout switches the working tree to branch. A branch that only exists on
// the remote gets a local tracking branch. When createIfMissing is set a branch
// found nowhere is created from the current HEAD; otherwise ErrBranchNotFound
// is returned.
func (w *GitWorkspace) Checkout(ctx context.Context, branch string, createIfMissing bool) error {
	if err := w.ensureRepo(ctx); err != nil {
		return err
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}

	local := plumbing.NewBranchReferenceName(branch)
	if _, err := w.repo.Reference(local, true); err == nil {
		return w.checkout(wt, &git.CheckoutOptions{Branch: local})
	}

	remote := plumbing.NewRemoteReferenceName(remoteName, branch)
	if ref, err := w.repo.Reference(remote, true); err == nil {
		w.log.Debug().Str("branch", branch).Msg("Tracking remote branch")
		return w.checkout(wt, &git.CheckoutOptions{Branch: local, Hash: ref.Hash(), Create: true})
	}

	if !createIfMissing {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}

	head, err := w.repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	w.log.Info().Str("branch", branch).Str("from", head.Name().Short()).Msg("Creating branch")
	return w.checkout(wt, &git.CheckoutOptions{Branch: local, Hash: head.Hash(), Create: true})
}

func (w *GitWorkspace) checkout(wt *git.Worktree, opts *git.CheckoutOptions) error {
	if err := wt.Checkout(opts); err != nil {
		return fmt.Errorf("checkout %s: %w", opts.Branch.Short(), err)
	}
	return nil
}

// WriteFile writes content at relPath inside the working tree, creating parent
// directories. Symlinks cannot redirect the write outside the tree.
func (w *GitWorkspace) WriteFile(relPath, content string) error {
	full, err := securejoin.SecureJoin(w.opts.Dir, relPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", relPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	return nil
}

// CommitAndPush stages every change, commits when the tree is dirty and pushes
// branch to the remote. It reports false with no error when there was nothing
// to commit.
func (w *GitWorkspace) CommitAndPush(ctx context.Context, branch, message string) (bool, error) {
	if w.repo == nil {
		return false, ErrNotCloned
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return false, fmt.Errorf("stage changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		w.log.Info().Str("branch", branch).Msg("No changes to commit")
		return false, nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  w.opts.AuthorName,
			Email: w.opts.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	w.log.Info().Str("branch", branch).Str("commit", hash.String()[:12]).Msg("Committed changes")

	ref := plumbing.NewBranchReferenceName(branch)
	err = w.opts.Push(ctx, w.repo, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref.String() + ":" + ref.String())},
		Auth:       w.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return true, fmt.Errorf("push %s: %w", branch, err)
	}
	return true, nil
}

// Close removes the working tree unless Keep was set.
func (w *GitWorkspace) Close() error {
	if w.opts.Keep || w.opts.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.opts.Dir)
}

func defaultPush(ctx context.Context, repo *git.Repository, opts *git.PushOptions) error {
	return repo.PushContext(ctx, opts)
}
