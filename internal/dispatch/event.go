// Package dispatch turns verified webhook deliveries into agent tasks.
package dispatch

import (
	"strings"

	"github.com/google/go-github/v68/github"

	"github.com/autodev/internal/agent"
	"github.com/autodev/internal/guard"
)

// Kind is the normalized event type.
type Kind string

const (
	KindIssueOpened    Kind = "issue-opened"
	KindPROpened       Kind = "pr-opened"
	KindPRSynchronized Kind = "pr-synchronized"
	KindCommentCreated Kind = "comment-created"
)

// Event is the part of a delivery the dispatcher acts on.
type Event struct {
	Kind           Kind
	InstallationID int64
	Repository     string
	SubjectNumber  int
	CommentBody    string
	DeliveryID     string
}

// FromWebhook normalizes a parsed go-github payload. The boolean is false for
// payload types the dispatcher never handles. For handled types whose action
// starts nothing, Kind is left empty. InstallationID is zero when the payload
// carries no installation.
func FromWebhook(payload interface{}, deliveryID string) (Event, bool) {
	ev := Event{DeliveryID: deliveryID}
	switch e := payload.(type) {
	case *github.IssuesEvent:
		if e.GetAction() == "opened" {
			ev.Kind = KindIssueOpened
		}
		ev.InstallationID = e.GetInstallation().GetID()
		ev.Repository = e.GetRepo().GetFullName()
		ev.SubjectNumber = e.GetIssue().GetNumber()
	case *github.PullRequestEvent:
		switch e.GetAction() {
		case "opened":
			ev.Kind = KindPROpened
		case "synchronize":
			ev.Kind = KindPRSynchronized
		}
		ev.InstallationID = e.GetInstallation().GetID()
		ev.Repository = e.GetRepo().GetFullName()
		ev.SubjectNumber = e.GetNumber()
		if ev.SubjectNumber == 0 {
			ev.SubjectNumber = e.GetPullRequest().GetNumber()
		}
	case *github.IssueCommentEvent:
		if issue := e.GetIssue(); e.GetAction() == "created" && issue != nil && issue.IsPullRequest() {
			ev.Kind = KindCommentCreated
		}
		ev.InstallationID = e.GetInstallation().GetID()
		ev.Repository = e.GetRepo().GetFullName()
		ev.SubjectNumber = e.GetIssue().GetNumber()
		ev.CommentBody = e.GetComment().GetBody()
	default:
		return ev, false
	}
	return ev, true
}

// Classify picks the role for an event; first match wins. Comments that
// approve, or that are the fixer's own halt notice, start nothing.
func Classify(ev Event) (agent.Role, bool) {
	switch ev.Kind {
	case KindIssueOpened:
		return agent.RoleCoder, true
	case KindPROpened, KindPRSynchronized:
		return agent.RoleReviewer, true
	case KindCommentCreated:
		if strings.Contains(ev.CommentBody, agent.ApprovalMarker) {
			return "", false
		}
		if strings.Contains(ev.CommentBody, guard.HaltMarker) {
			return "", false
		}
		return agent.RoleFixer, true
	}
	return "", false
}
