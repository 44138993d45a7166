package agent

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/autodev/internal/codectx"
	"github.com/autodev/internal/guard"
	"github.com/autodev/internal/lease"
	"github.com/autodev/internal/llm"
	"github.com/autodev/internal/logging"
	"github.com/autodev/internal/metrics"
	"github.com/autodev/internal/parser"
	"github.com/autodev/internal/prompts"
	"github.com/autodev/internal/secrets"
	"github.com/autodev/internal/vcs"
)

// Deps are the collaborators a role run uses. Guard, Locker, Scanner, Metrics
// and Log may be nil.
type Deps struct {
	Driver         vcs.Driver
	LLM            llm.Generator
	Model          string
	Guard          *guard.Guard
	Locker         lease.Locker
	Context        *codectx.Provider
	Scanner        *secrets.Scanner
	Metrics        *metrics.Recorder
	Denylist       []string
	DefaultBase    string
	StrictApproval bool
	Log            *logging.TaskLogger
}

// Denied reports whether a cleaned relative path is on the denylist. Entries
// ending in "/" match every path below that directory.
func Denied(denylist []string, p string) bool {
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	for _, entry := range denylist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.HasSuffix(entry, "/") {
			if strings.HasPrefix(p+"/", entry) {
				return true
			}
			continue
		}
		if p == path.Clean(entry) {
			return true
		}
	}
	return false
}

func (d *Deps) lock(ctx context.Context, t *Task) (func(), error) {
	if d.Locker == nil {
		return func() {}, nil
	}
	key := lease.Key(t.Repository, t.SubjectNumber)
	d.Log.Log("Waiting for lease %s", key)
	return d.Locker.Acquire(ctx, key)
}

func (d *Deps) generate(ctx context.Context, role Role, systemPrompt, userPrompt string) (string, error) {
	d.Log.LogRequest(d.Model, systemPrompt, userPrompt)
	start := time.Now()
	out, err := d.LLM.Generate(ctx, systemPrompt, userPrompt)
	d.Metrics.ObserveLLM(string(role), err, time.Since(start))
	if err != nil {
		d.Log.LogError("llm", err)
		return "", err
	}
	d.Log.LogResponse(out)
	return out, nil
}

// generateEdits asks the model for files and parses the answer. Invalid paths
// are dropped with a warning; an answer with nothing usable is ErrNoEdits.
func (d *Deps) generateEdits(ctx context.Context, role Role, systemPrompt, userPrompt string) ([]parser.FileEdit, error) {
	d.Log.Log("Generating code")
	out, err := d.generate(ctx, role, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	edits, rejected := parser.ParseValidated(out)
	for _, r := range rejected {
		d.Log.Warn("Rejected file edit %s", r.Error())
	}
	if len(edits) == 0 {
		d.Log.Warn("No code generated (or the response format was invalid)")
		return nil, ErrNoEdits
	}
	return edits, nil
}

// applyEdits writes every allowed edit to the working tree. Later edits to the
// same path overwrite earlier ones. Denylisted paths, content with secrets and
// write errors are skipped and reported, never fatal.
func (d *Deps) applyEdits(edits []parser.FileEdit) (written, skipped []string) {
	for _, e := range edits {
		p := e.CleanPath()

		if Denied(d.Denylist, p) {
			d.Log.Warn("Skipping protected file: %s", p)
			skipped = append(skipped, p)
			continue
		}
		if d.Scanner != nil {
			if findings := d.Scanner.Scan(e.Content); len(findings) > 0 {
				d.Log.Warn("Skipping %s: content contains %d secret(s), first %s", p, len(findings), findings[0])
				skipped = append(skipped, p)
				continue
			}
		}
		if err := d.Driver.WriteFile(p, e.Content); err != nil {
			d.Log.LogError("write "+p, err)
			skipped = append(skipped, p)
			continue
		}
		d.Log.Log("Wrote %s", p)
		written = append(written, p)
	}
	return written, skipped
}

func (d *Deps) defaultBase(ctx context.Context) string {
	base, err := d.Driver.DefaultBranch(ctx)
	if err == nil && base != "" {
		return base
	}
	if err != nil {
		d.Log.Warn("Could not resolve default branch, using %s: %v", d.fallbackBase(), err)
	}
	return d.fallbackBase()
}

func (d *Deps) fallbackBase() string {
	if d.DefaultBase != "" {
		return d.DefaultBase
	}
	return "main"
}

func (d *Deps) fixFeedback(comments []vcs.Comment) string {
	if len(comments) == 0 {
		return prompts.DefaultFixFeedback
	}
	body := strings.TrimSpace(comments[len(comments)-1].Body)
	if body == "" {
		return prompts.DefaultFixFeedback
	}
	return body
}
