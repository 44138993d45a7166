package vcs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/autodev/internal/config"
)

// GitHubDriver combines the REST forge with a go-git working tree.
type GitHubDriver struct {
	*GitHub
	*GitWorkspace

	mu            sync.Mutex
	defaultBranch string
}

// DriverOptions configures NewGitHubDriver.
type DriverOptions struct {
	Token      config.Secret
	Repository string
	APIURL     string
	CloneURL   string
	// Dir is the per-task working tree directory.
	Dir         string
	AuthorName  string
	AuthorEmail string
	Keep        bool
	Push        PushFunc
	Logger      *zerolog.Logger
}

// DriverOptionsFromConfig fills the options for a task working in dir.
func DriverOptionsFromConfig(cfg *config.Config, dir string) DriverOptions {
	return DriverOptions{
		Token:       cfg.GitHub.Token,
		Repository:  cfg.GitHub.Repository,
		APIURL:      cfg.GitHub.APIURL,
		CloneURL:    cfg.GitHub.CloneURL,
		Dir:         dir,
		AuthorName:  cfg.Agent.AuthorName,
		AuthorEmail: cfg.Agent.AuthorEmail,
		Keep:        cfg.Agent.KeepWorkspace,
	}
}

// NewGitHubDriver builds a Driver. No network call is made until Authenticate.
func NewGitHubDriver(ctx context.Context, opts DriverOptions) (*GitHubDriver, error) {
	client, err := NewGitHubClient(ctx, opts.Token, opts.APIURL)
	if err != nil {
		return nil, err
	}
	forge, err := NewGitHub(client, opts.Repository)
	if err != nil {
		return nil, err
	}

	ws := NewWorkspace(WorkspaceOptions{
		Dir:         opts.Dir,
		URL:         CloneURL(opts.CloneURL, opts.Repository),
		Token:       opts.Token.Value(),
		AuthorName:  opts.AuthorName,
		AuthorEmail: opts.AuthorEmail,
		Keep:        opts.Keep,
		Push:        opts.Push,
		Logger:      opts.Logger,
	})
	return &GitHubDriver{GitHub: forge, GitWorkspace: ws}, nil
}

// CloneURL joins the host clone prefix and owner/name.
func CloneURL(base, repository string) string {
	if base == "" {
		base = "https://github.com/"
	}
	return strings.TrimSuffix(base, "/") + "/" + repository + ".git"
}

// Authenticate verifies the token can read the repository and remembers its
// default branch.
func (d *GitHubDriver) Authenticate(ctx context.Context) error {
	branch, err := d.GitHub.DefaultBranch(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	d.mu.Lock()
	d.defaultBranch = branch
	d.mu.Unlock()
	return nil
}

// DefaultBranch returns the cached default branch, fetching it once if needed.
func (d *GitHubDriver) DefaultBranch(ctx context.Context) (string, error) {
	d.mu.Lock()
	cached := d.defaultBranch
	d.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	if err := d.Authenticate(ctx); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.defaultBranch, nil
}

var _ Driver = (*GitHubDriver)(nil)
