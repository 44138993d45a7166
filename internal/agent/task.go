// Package agent implements the coder, reviewer and fixer roles. Each role is a
// straight-line workflow over a vcs.Driver and an llm.Generator.
package agent

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/autodev/internal/config"
)

// Role selects the workflow a task runs.
type Role string

const (
	RoleCoder    Role = "coder"
	RoleReviewer Role = "reviewer"
	RoleFixer    Role = "fixer"
)

// ParseRole accepts the lower-case role names.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCoder, RoleReviewer, RoleFixer:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Outcome is how a role run ended.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeNoEdits          Outcome = "no-edits"
	OutcomeNoChanges        Outcome = "no-changes"
	OutcomeApproved         Outcome = "approved"
	OutcomeChangesRequested Outcome = "changes-requested"
	OutcomeHalted           Outcome = "halted"
	OutcomeFailed           Outcome = "failed"
)

// ExitCode maps an outcome to the process exit status.
func ExitCode(o Outcome) int {
	switch o {
	case OutcomeChangesRequested, OutcomeHalted, OutcomeFailed:
		return 1
	}
	return 0
}

// ErrNoEdits marks a model answer with no usable FILE blocks.
var ErrNoEdits = errors.New("model response contained no file edits")

// Task is one role run against one issue or pull request.
type Task struct {
	ID             string
	Role           Role
	Repository     string
	SubjectNumber  int
	BranchName     string
	InstallationID int64
	Credential     config.Secret
}

// NewTask creates a task with a fresh id.
func NewTask(role Role, repository string, subject int, credential config.Secret) *Task {
	return &Task{
		ID:            uuid.NewString(),
		Role:          role,
		Repository:    repository,
		SubjectNumber: subject,
		Credential:    credential,
	}
}

// IssueBranch is the branch the coder works on for an issue.
func IssueBranch(issue int) string {
	return fmt.Sprintf("feature/issue-%d", issue)
}

// Result describes a finished role run.
type Result struct {
	Outcome     Outcome
	Written     []string
	Skipped     []string
	Committed   bool
	PullRequest string
	CommentURL  string
}
