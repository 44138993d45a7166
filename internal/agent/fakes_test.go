package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/autodev/internal/lease"
	"github.com/autodev/internal/vcs"
)

// journal is an ordered event log shared by fakes that run concurrently.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(event string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, event)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) index(event string) int {
	for i, e := range j.list() {
		if e == event {
			return i
		}
	}
	return -1
}

// recordingLocker notes every acquire and release in a journal.
type recordingLocker struct {
	lease.Locker
	journal *journal
}

func (l *recordingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	release, err := l.Locker.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	l.journal.add("acquire:" + key)
	return func() {
		l.journal.add("release:" + key)
		release()
	}, nil
}

// fakeDriver is an in-memory vcs.Driver writing into a real temp directory.
type fakeDriver struct {
	mu sync.Mutex

	dir           string
	defaultBranch string
	issue         *vcs.Issue
	pr            *vcs.PullRequest
	diff          string
	ci            string
	comments      []vcs.Comment
	branches      map[string]bool

	createPRErr error
	pushErr     error

	// journal receives checkout and push events prefixed with tag.
	journal *journal
	tag     string
	// atPush is closed when CommitAndPush is entered; the push then waits
	// for pushGate.
	atPush   chan struct{}
	pushGate chan struct{}

	checkouts []string
	written   map[string]string
	commits   []string
	pushes    []string
	prs       []vcs.PullRequest
	posted    []string
	dirty     bool
}

func newFakeDriver(dir string) *fakeDriver {
	return &fakeDriver{
		dir:           dir,
		defaultBranch: "main",
		branches:      map[string]bool{"main": true},
		written:       map[string]string{},
		ci:            "No CI status found.",
	}
}

func (f *fakeDriver) Authenticate(context.Context) error { return nil }

func (f *fakeDriver) DefaultBranch(context.Context) (string, error) {
	return f.defaultBranch, nil
}

func (f *fakeDriver) GetIssue(_ context.Context, n int) (*vcs.Issue, error) {
	if f.issue == nil || f.issue.Number != n {
		return nil, fmt.Errorf("issue #%d not found", n)
	}
	return f.issue, nil
}

func (f *fakeDriver) GetPullRequest(_ context.Context, n int) (*vcs.PullRequest, error) {
	if f.pr == nil || f.pr.Number != n {
		return nil, fmt.Errorf("pull request #%d not found", n)
	}
	return f.pr, nil
}

func (f *fakeDriver) CreatePullRequest(_ context.Context, title, body, head, base string) (*vcs.PullRequest, error) {
	if f.createPRErr != nil {
		return nil, f.createPRErr
	}
	pr := vcs.PullRequest{Number: 100 + len(f.prs), Title: title, HeadRef: head, BaseRef: base, URL: "https://example.test/pr"}
	f.prs = append(f.prs, pr)
	return &pr, nil
}

func (f *fakeDriver) GetDiff(context.Context, int) (string, error) { return f.diff, nil }

func (f *fakeDriver) GetCIStatus(context.Context, int) (string, error) { return f.ci, nil }

func (f *fakeDriver) ListComments(context.Context, int) ([]vcs.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vcs.Comment(nil), f.comments...), nil
}

func (f *fakeDriver) PostComment(_ context.Context, _ int, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, body)
	f.comments = append(f.comments, vcs.Comment{ID: int64(len(f.comments) + 1), Body: body})
	return fmt.Sprintf("https://example.test/comment/%d", len(f.comments)), nil
}

func (f *fakeDriver) Dir() string { return f.dir }

func (f *fakeDriver) Checkout(_ context.Context, branch string, create bool) error {
	if !f.branches[branch] {
		if !create {
			return fmt.Errorf("%w: %s", vcs.ErrBranchNotFound, branch)
		}
		f.branches[branch] = true
	}
	f.checkouts = append(f.checkouts, branch)
	f.note("checkout:" + branch)
	return nil
}

func (f *fakeDriver) WriteFile(rel, content string) error {
	full := filepath.Join(f.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return err
	}
	if f.written[rel] != content {
		f.dirty = true
	}
	f.written[rel] = content
	return nil
}

func (f *fakeDriver) CommitAndPush(_ context.Context, branch, message string) (bool, error) {
	if f.atPush != nil {
		close(f.atPush)
	}
	if f.pushGate != nil {
		<-f.pushGate
	}
	if !f.dirty {
		return false, nil
	}
	f.commits = append(f.commits, message)
	f.dirty = false
	if f.pushErr != nil {
		return true, f.pushErr
	}
	f.pushes = append(f.pushes, branch)
	f.note("push:" + branch)
	return true, nil
}

func (f *fakeDriver) note(event string) {
	if f.journal != nil {
		f.journal.add(f.tag + event)
	}
}

func (f *fakeDriver) Close() error { return nil }

// fakeLLM answers every call with the same reply and records the prompts.
type fakeLLM struct {
	reply string
	err   error
	calls []string
}

func (l *fakeLLM) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	l.calls = append(l.calls, userPrompt)
	return l.reply, l.err
}

var _ vcs.Driver = (*fakeDriver)(nil)
