package prompts

import (
	"fmt"
	"strings"
)

// System role definitions
const (
	// CoderSystem instructs the model to answer with complete files in FILE blocks.
	CoderSystem = `You are a software developer. Write the code that solves the task.
RESPONSE FORMAT:
<FILE path="relative/path/to/file.ext">
full file content
</FILE>
Repeat the block for every file you create or change. Paths are relative to the repository root.`

	// FixerSystem instructs the model to rewrite files according to review feedback.
	FixerSystem = `You are a developer fixing defects.
You are given the current code and the reviewer's critique. Rewrite the code so every remark is addressed.
Return each changed file IN FULL inside <FILE path="..."> ... </FILE> blocks.`

	// ReviewerSystem instructs the model to either approve or list problems.
	ReviewerSystem = `You are a strict code reviewer. Check the changes for bugs, vulnerabilities and style problems.
1. If the code is good, answer ONLY: "LGTM".
2. If there are problems, answer with a list of findings and a recommendation for each.`
)

// Fallbacks and markers shared with the agent roles.
const (
	DefaultFixFeedback = "Fix logic errors."
	NoCIStatus         = "No CI status found."
)

// Issue builds the user content for the coder.
func Issue(title, body string) string {
	return fmt.Sprintf("TITLE: %s\nBODY: %s", title, body)
}

// Fix builds the user content for the fixer.
func Fix(code, feedback string) string {
	if strings.TrimSpace(feedback) == "" {
		feedback = DefaultFixFeedback
	}
	return fmt.Sprintf("CODE:\n%s\n\nFEEDBACK:\n%s", code, feedback)
}

// Review builds the user content for the reviewer.
func Review(ciStatus, diff string) string {
	if strings.TrimSpace(ciStatus) == "" {
		ciStatus = NoCIStatus
	}
	return fmt.Sprintf("CONTEXT:\n%s\n\nCHANGES TO REVIEW:\n%s", ciStatus, diff)
}
