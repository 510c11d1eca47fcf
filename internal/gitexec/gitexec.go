// Package gitexec lands a generated file set in a git repository as a
// single commit, either through the GitHub API or any git remote.
package gitexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/config"
)

// DefaultCommitMessage is used when a PushRequest carries none.
const DefaultCommitMessage = "Initial project scaffold"

// PushRequest describes one push.
type PushRequest struct {
	// Repo is owner/repo.
	Repo            string
	Branch          string
	BaseBranch      string
	Files           []artifact.RepoFile
	Message         string
	CreateIfMissing bool
	Private         bool

	// RemoteURL targets a plain git remote instead of the GitHub API.
	RemoteURL string
}

// Owner and Name split Repo. They are empty when Repo is malformed.
func (r PushRequest) Owner() string {
	owner, _, _ := splitRepo(r.Repo)
	return owner
}

func (r PushRequest) Name() string {
	_, name, _ := splitRepo(r.Repo)
	return name
}

func (r PushRequest) message() string {
	if r.Message != "" {
		return r.Message
	}
	return DefaultCommitMessage
}

func (r PushRequest) baseBranch() string {
	if r.BaseBranch != "" {
		return r.BaseBranch
	}
	return artifact.DefaultBaseBranch
}

// FromStrategy builds a request that pushes a generated strategy to repo.
func FromStrategy(s *artifact.GitStrategy, repo string) PushRequest {
	return PushRequest{
		Repo:       repo,
		Branch:     s.BranchName,
		BaseBranch: s.BaseBranch,
		Files:      s.Files,
		Message:    s.Action,
	}
}

// Credentials authenticate a push.
type Credentials struct {
	Token config.Secret
	// Username is sent with the token for basic auth on plain remotes.
	Username string
}

// Result reports what landed.
type Result struct {
	RepoURL      string   `json:"repo_url"`
	Branch       string   `json:"branch"`
	CommitSHA    string   `json:"commit_sha"`
	CommitURL    string   `json:"commit_url,omitempty"`
	Files        []string `json:"files"`
	CreatedRepo  bool     `json:"created_repo"`
	Bootstrapped bool     `json:"bootstrapped"`
	// Ignored lists pushed files that the pushed .gitignore excludes.
	Ignored []string `json:"ignored,omitempty"`
}

// Executor pushes a file set. Failures are *GitError.
type Executor interface {
	Execute(ctx context.Context, req PushRequest, creds Credentials) (*Result, error)
}

// Router sends requests with a RemoteURL to Remote and the rest to GitHub.
type Router struct {
	GitHub Executor
	Remote Executor
}

func (r *Router) Execute(ctx context.Context, req PushRequest, creds Credentials) (*Result, error) {
	if req.RemoteURL != "" {
		if r.Remote == nil {
			return nil, newError(KindInvalid, "route", "plain git remotes are not enabled", nil)
		}
		return r.Remote.Execute(ctx, req, creds)
	}
	if r.GitHub == nil {
		return nil, newError(KindInvalid, "route", "GitHub pushes are not enabled", nil)
	}
	return r.GitHub.Execute(ctx, req, creds)
}

func splitRepo(repo string) (owner, name string, ok bool) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func filePaths(files []artifact.RepoFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

// commitURL links to sha on a GitHub repository page.
func commitURL(repoURL, sha string) string {
	return fmt.Sprintf("%s/commit/%s", strings.TrimSuffix(repoURL, "/"), sha)
}
