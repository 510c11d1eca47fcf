package gitexec

import (
	"path"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
)

// IgnoredFiles returns the paths in files that a .gitignore in the same file
// set excludes. Nested .gitignore files apply below their own directory.
func IgnoredFiles(files []artifact.RepoFile) []string {
	var patterns []gitignore.Pattern
	for _, f := range files {
		if path.Base(f.Path) != ".gitignore" {
			continue
		}
		var domain []string
		if dir := path.Dir(f.Path); dir != "." {
			domain = strings.Split(dir, "/")
		}
		for _, line := range strings.Split(f.Content, "\n") {
			line = strings.TrimRight(line, " \t\r")
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, gitignore.ParsePattern(line, domain))
		}
	}
	if len(patterns) == 0 {
		return nil
	}

	matcher := gitignore.NewMatcher(patterns)
	var ignored []string
	for _, f := range files {
		if path.Base(f.Path) == ".gitignore" {
			continue
		}
		if matcher.Match(strings.Split(f.Path, "/"), false) {
			ignored = append(ignored, f.Path)
		}
	}
	return ignored
}
