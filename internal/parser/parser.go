// Package parser extracts file edits from free-form model output.
//
// The grammar is a sequence of blocks
//
//	<FILE path="relative/path.go">
//	content
//	</FILE>
//
// interleaved with arbitrary prose, which is ignored.
package parser

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

const closeTag = "</FILE>"

var openTag = regexp.MustCompile(`<FILE path="([^"\n]+)">`)

// FileEdit is an instruction to create or overwrite one file.
type FileEdit struct {
	Path    string
	Content string
}

// Parse returns every well-formed block in document order. An open tag with no
// close tag before the next open tag is skipped, so one unterminated block never
// absorbs the file that follows it. No blocks yields an empty, non-nil slice.
func Parse(text string) []FileEdit {
	edits := make([]FileEdit, 0)

	locs := openTag.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		bodyStart := loc[1]
		limit := len(text)
		if i+1 < len(locs) {
			limit = locs[i+1][0]
		}

		end := strings.Index(text[bodyStart:limit], closeTag)
		if end < 0 {
			continue
		}

		edits = append(edits, FileEdit{
			Path:    text[loc[2]:loc[3]],
			Content: trimDelimiterNewlines(text[bodyStart : bodyStart+end]),
		})
	}

	return edits
}

// trimDelimiterNewlines drops the single line break that follows the open tag
// and the one that precedes the close tag.
func trimDelimiterNewlines(s string) string {
	switch {
	case strings.HasPrefix(s, "\r\n"):
		s = s[2:]
	case strings.HasPrefix(s, "\n"):
		s = s[1:]
	}
	switch {
	case strings.HasSuffix(s, "\r\n"):
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "\n"):
		s = s[:len(s)-1]
	}
	return s
}

// Validation errors.
var (
	ErrEmptyPath     = errors.New("empty path")
	ErrAbsolutePath  = errors.New("absolute path")
	ErrPathTraversal = errors.New("path escapes the working tree")
	ErrInvalidPath   = errors.New("path contains invalid characters")
)

// Validate checks that the edit can be written safely below a working tree root.
func (e FileEdit) Validate() error {
	p := strings.TrimSpace(e.Path)
	if p == "" {
		return ErrEmptyPath
	}
	if strings.ContainsAny(p, "\x00") {
		return ErrInvalidPath
	}

	slashed := strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(slashed, "/") || hasDriveLetter(slashed) {
		return ErrAbsolutePath
	}
	for _, segment := range strings.Split(slashed, "/") {
		if segment == ".." {
			return ErrPathTraversal
		}
	}
	if path.Clean(slashed) == "." {
		return ErrEmptyPath
	}
	return nil
}

// CleanPath returns the slash-separated, cleaned relative path of a valid edit.
func (e FileEdit) CleanPath() string {
	return path.Clean(strings.ReplaceAll(strings.TrimSpace(e.Path), `\`, "/"))
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' &&
		((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

// Rejected pairs an edit with the reason it was not accepted.
type Rejected struct {
	Edit FileEdit
	Err  error
}

func (r Rejected) Error() string {
	return fmt.Sprintf("%q: %v", r.Edit.Path, r.Err)
}

// ParseValidated parses text and splits the result into valid and rejected edits.
func ParseValidated(text string) ([]FileEdit, []Rejected) {
	var rejected []Rejected
	valid := make([]FileEdit, 0)
	for _, edit := range Parse(text) {
		if err := edit.Validate(); err != nil {
			rejected = append(rejected, Rejected{Edit: edit, Err: err})
			continue
		}
		valid = append(valid, edit)
	}
	return valid, rejected
}
