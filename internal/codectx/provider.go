// Package codectx serializes the files of a working tree into prompt context.
package codectx

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/rs/zerolog/log"
)

// Options controls which files are collected.
type Options struct {
	Extensions  []string // lower-case extensions including the dot; empty means all
	ExcludeDirs []string // directory names skipped at any depth
	Limit       int      // maximum serialized bytes; 0 means unlimited
	Gitignore   bool     // also honor .gitignore and .git/info/exclude
}

// Snapshot is the serialized view of a working tree.
type Snapshot struct {
	Text      string
	Files     []string // included, slash-separated relative paths
	Truncated []string // matched but skipped because the byte limit was reached
	Bytes     int
}

// Provider collects file contents for prompts.
type Provider struct {
	opts Options
	exts map[string]bool
	skip map[string]bool
}

// New creates a Provider.
func New(opts Options) *Provider {
	p := &Provider{
		opts: opts,
		exts: make(map[string]bool, len(opts.Extensions)),
		skip: make(map[string]bool, len(opts.ExcludeDirs)+1),
	}
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.exts[ext] = true
	}
	p.skip[".git"] = true
	for _, d := range opts.ExcludeDirs {
		p.skip[d] = true
	}
	return p
}

// Collect walks root and serializes every matching file as
//
//	\n--- <path> ---\n<content>\n
//
// in lexical path order. Files that would push the output over the limit are
// skipped and listed in Truncated; binary files are ignored.
func (p *Provider) Collect(root string) (*Snapshot, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat working tree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working tree %s is not a directory", root)
	}

	var ignore gitignore.Matcher
	if p.opts.Gitignore {
		patterns, err := gitignore.ReadPatterns(osfs.New(root), nil)
		if err != nil {
			log.Warn().Err(err).Str("root", root).Msg("could not read gitignore patterns")
		}
		ignore = gitignore.NewMatcher(patterns)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if p.skip[d.Name()] {
				return filepath.SkipDir
			}
			if ignore != nil && ignore.Match(strings.Split(rel, "/"), true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(p.exts) > 0 && !p.exts[strings.ToLower(filepath.Ext(rel))] {
			return nil
		}
		if ignore != nil && ignore.Match(strings.Split(rel, "/"), false) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk working tree: %w", err)
	}
	sort.Strings(paths)

	snap := &Snapshot{}
	var b strings.Builder
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		if !utf8.Valid(data) {
			continue
		}

		entry := fmt.Sprintf("\n--- %s ---\n%s\n", rel, data)
		if p.opts.Limit > 0 && b.Len()+len(entry) > p.opts.Limit {
			snap.Truncated = append(snap.Truncated, rel)
			continue
		}
		b.WriteString(entry)
		snap.Files = append(snap.Files, rel)
	}

	snap.Text = b.String()
	snap.Bytes = b.Len()
	if len(snap.Truncated) > 0 {
		log.Warn().
			Int("included", len(snap.Files)).
			Int("truncated", len(snap.Truncated)).
			Int("limit", p.opts.Limit).
			Msg("code context truncated")
	}
	return snap, nil
}
