package agent

import (
	"strings"

	"github.com/autodev/internal/guard"
)

const (
	ApprovalMarker      = "LGTM"
	ContradictingMarker = "changes requested"
	// strictRejectMarker is a heading reviewers use when listing remarks.
	strictRejectMarker = "Recommendation"
)

// IsApproved reports whether a review verdict approves the change. It must
// contain LGTM and must not also say changes were requested. In strict mode a
// verdict that carries recommendations is not an approval either.
func IsApproved(verdict string, strict bool) bool {
	if !strings.Contains(verdict, ApprovalMarker) {
		return false
	}
	if strings.Contains(strings.ToLower(verdict), ContradictingMarker) {
		return false
	}
	if strict && strings.Contains(verdict, strictRejectMarker) {
		return false
	}
	return true
}

// ReviewFooter is appended to every posted review. The changes footer carries
// the hidden review cycle marker the iteration guard counts.
func ReviewFooter(approved bool) string {
	if approved {
		return "✅ LGTM"
	}
	return "⚠️ Changes requested\n" + guard.ReviewCycleMarker
}

// ReviewComment is the full comment body posted for a verdict.
func ReviewComment(verdict string, approved bool) string {
	return strings.TrimRight(verdict, "\n") + "\n\n---\n" + ReviewFooter(approved)
}
