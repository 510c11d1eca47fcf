package artifact

import (
	"path"
	"regexp"
	"strings"
)

// DefaultBaseBranch is used when a strategy names no base branch.
const DefaultBaseBranch = "main"

// RepoFile is a file to create in the target repository.
type RepoFile struct {
	Path    string `json:"path" jsonschema:"path relative to the repository root, e.g. README.md or src/main.py"`
	Content string `json:"content" jsonschema:"full file content"`
}

// GitStrategy is the output of the git strategy stage.
type GitStrategy struct {
	BranchName          string     `json:"branch_name" jsonschema:"lowercase kebab-case branch name, e.g. feature/init-backend"`
	BaseBranch          string     `json:"base_branch,omitempty" jsonschema:"branch to start from, usually main"`
	RepositoryStructure []string   `json:"repository_structure" jsonschema:"paths that should exist in the repository"`
	Action              string     `json:"action" jsonschema:"description of the git action to perform"`
	Files               []RepoFile `json:"files" jsonschema:"README.md, .gitignore, an entry point and a dependency manifest with real content"`
}

var branchPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// RequiredFiles must be part of every pushed file set.
var RequiredFiles = []string{"README.md", ".gitignore"}

// MissingFiles reports what a file set lacks to be pushed: each absent
// RequiredFiles entry, and "source file" when nothing besides them is present.
func MissingFiles(files []RepoFile) []string {
	have := make(map[string]bool, len(files))
	for _, f := range files {
		have[f.Path] = true
	}
	var missing []string
	for _, name := range RequiredFiles {
		if !have[name] {
			missing = append(missing, name)
		}
		delete(have, name)
	}
	if len(have) == 0 {
		missing = append(missing, "source file")
	}
	return missing
}

// Normalize defaults the base branch and trims paths.
func (g *GitStrategy) Normalize() {
	g.BranchName = strings.TrimSpace(g.BranchName)
	g.BaseBranch = strings.TrimSpace(g.BaseBranch)
	if g.BaseBranch == "" {
		g.BaseBranch = DefaultBaseBranch
	}
	for i := range g.Files {
		g.Files[i].Path = strings.TrimPrefix(strings.TrimSpace(g.Files[i].Path), "./")
	}
}

// Validate checks branch names and the file set, which must hold a README,
// an ignore file and at least one other file.
func (g *GitStrategy) Validate() error {
	var p problems
	if !ValidBranchName(g.BranchName) {
		p.addf("invalid branch_name %q", g.BranchName)
	}
	if !ValidBranchName(g.BaseBranch) {
		p.addf("invalid base_branch %q", g.BaseBranch)
	}
	if len(g.Files) == 0 {
		p.addf("no files")
	}
	seen := make(map[string]bool, len(g.Files))
	for i, f := range g.Files {
		if !ValidFilePath(f.Path) {
			p.addf("file %d has invalid path %q", i+1, f.Path)
			continue
		}
		if seen[f.Path] {
			p.addf("duplicate file path %q", f.Path)
		}
		seen[f.Path] = true
	}
	if len(g.Files) > 0 {
		for _, name := range MissingFiles(g.Files) {
			p.addf("%s is required", name)
		}
	}
	return p.err("git strategy")
}

// File returns the file at p, if present.
func (g *GitStrategy) File(p string) (RepoFile, bool) {
	for _, f := range g.Files {
		if f.Path == p {
			return f, true
		}
	}
	return RepoFile{}, false
}

// ValidBranchName applies a conservative subset of git's ref name rules.
func ValidBranchName(name string) bool {
	if !branchPattern.MatchString(name) {
		return false
	}
	return !strings.Contains(name, "..") &&
		!strings.Contains(name, "//") &&
		!strings.HasSuffix(name, "/") &&
		!strings.HasSuffix(name, ".lock")
}

// ValidFilePath rejects empty, absolute and escaping paths.
func ValidFilePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return false
	}
	clean := path.Clean(p)
	return clean == p && clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}
