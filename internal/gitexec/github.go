package gitexec

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/config"
	"github.com/fyrsmithlabs/blueprint/internal/logging"
	"github.com/fyrsmithlabs/blueprint/internal/secrets"
)

// GitHubExecutor pushes through the GitHub REST API.
//
// On a repository with history every file lands in one commit, and the branch
// ref moves only after that commit exists. An empty repository has no commit
// to build a tree on, so the first file is written through the contents API
// and the rest follow in one commit; a failure between the two is KindPartial.
type GitHubExecutor struct {
	apiURL  string
	retry   RetryConfig
	scanner *secrets.Scanner
	logger  *logging.Logger
}

// GitHubOption configures a GitHubExecutor.
type GitHubOption func(*GitHubExecutor)

// WithAPIURL points the executor at a GitHub Enterprise or test server.
func WithAPIURL(u string) GitHubOption {
	return func(e *GitHubExecutor) { e.apiURL = u }
}

// WithRetry overrides the retry policy for API calls.
func WithRetry(cfg RetryConfig) GitHubOption {
	return func(e *GitHubExecutor) { e.retry = cfg }
}

// WithScanner enables the pre-push secret scan.
func WithScanner(s *secrets.Scanner) GitHubOption {
	return func(e *GitHubExecutor) { e.scanner = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) GitHubOption {
	return func(e *GitHubExecutor) { e.logger = l }
}

// NewGitHubExecutor creates an executor for api.github.com unless
// WithAPIURL says otherwise.
func NewGitHubExecutor(opts ...GitHubOption) *GitHubExecutor {
	e := &GitHubExecutor{
		retry:  DefaultRetryConfig(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newGitHubClient creates a client authenticated with token.
func newGitHubClient(ctx context.Context, token config.Secret, apiURL string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if apiURL != "" {
		u, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

// push carries the state of one Execute call.
type push struct {
	*GitHubExecutor
	client *github.Client
	req    PushRequest
	owner  string
	name   string
	landed []string
}

func (e *GitHubExecutor) Execute(ctx context.Context, req PushRequest, creds Credentials) (*Result, error) {
	if err := Preflight(req, creds, e.scanner); err != nil {
		return nil, err
	}

	client, err := newGitHubClient(ctx, creds.Token, e.apiURL)
	if err != nil {
		return nil, newError(KindInvalid, "client", "cannot build GitHub client", err)
	}

	p := &push{GitHubExecutor: e, client: client, req: req, owner: req.Owner(), name: req.Name()}
	return p.run(ctx)
}

func (p *push) run(ctx context.Context) (*Result, error) {
	repo, created, err := p.ensureRepo(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RepoURL:     repo.GetHTMLURL(),
		Branch:      p.req.Branch,
		CreatedRepo: created,
	}

	parent, branchExists, err := p.resolveParent(ctx, created)
	if err != nil {
		return nil, err
	}

	files := p.req.Files
	if parent == "" {
		parent, files, err = p.bootstrap(ctx)
		if err != nil {
			return nil, err
		}
		res.Bootstrapped = true
		branchExists = p.req.Branch == p.req.baseBranch()
	}

	sha := parent
	if len(files) > 0 {
		sha, err = p.commit(ctx, parent, files)
		if err != nil {
			return nil, p.partial(err)
		}
	}
	if sha != parent || !branchExists {
		if err := p.moveRef(ctx, sha, branchExists); err != nil {
			return nil, p.partial(err)
		}
	}

	res.CommitSHA = sha
	res.CommitURL = commitURL(res.RepoURL, sha)
	res.Files = filePaths(p.req.Files)

	p.logger.Info(ctx, "pushed files to GitHub",
		zap.String("repo", p.req.Repo),
		zap.String("branch", p.req.Branch),
		zap.String("commit", sha),
		zap.Int("files", len(res.Files)),
		zap.Bool("created_repo", created),
		zap.Bool("bootstrapped", res.Bootstrapped),
	)
	if res.Ignored = IgnoredFiles(p.req.Files); len(res.Ignored) > 0 {
		p.logger.Warn(ctx, "pushed files excluded by .gitignore", zap.Strings("paths", res.Ignored))
	}
	return res, nil
}

// ensureRepo fetches the repository, creating it when allowed.
func (p *push) ensureRepo(ctx context.Context) (*github.Repository, bool, error) {
	var repo *github.Repository
	resp, err := p.call(ctx, "get_repo", func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		repo, r, err = p.client.Repositories.Get(ctx, p.owner, p.name)
		return r, err
	})
	if err == nil {
		return repo, false, nil
	}
	if getStatusCode(resp) != http.StatusNotFound {
		return nil, false, classify("get_repo", resp, err)
	}
	if !p.req.CreateIfMissing {
		return nil, false, newError(KindNotFound, "get_repo",
			fmt.Sprintf("repository %s does not exist", p.req.Repo), err)
	}

	// Personal repositories are created with an empty org.
	var user *github.User
	resp, err = p.call(ctx, "get_user", func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		user, r, err = p.client.Users.Get(ctx, "")
		return r, err
	})
	if err != nil {
		return nil, false, classify("get_user", resp, err)
	}
	org := p.owner
	if strings.EqualFold(user.GetLogin(), p.owner) {
		org = ""
	}

	resp, err = p.call(ctx, "create_repo", func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		repo, r, err = p.client.Repositories.Create(ctx, org, &github.Repository{
			Name:    github.String(p.name),
			Private: github.Bool(p.req.Private),
		})
		return r, err
	})
	if err != nil {
		return nil, false, classify("create_repo", resp, err)
	}
	return repo, true, nil
}

// resolveParent returns the commit the new commit builds on: the branch head
// when the branch exists, else the base branch head. An empty parent means
// the repository has no commits.
func (p *push) resolveParent(ctx context.Context, created bool) (string, bool, error) {
	if created {
		return "", false, nil
	}

	sha, err := p.headOf(ctx, p.req.Branch)
	if err != nil || sha != "" {
		return sha, sha != "", err
	}

	if base := p.req.baseBranch(); base != p.req.Branch {
		sha, err = p.headOf(ctx, base)
		if err != nil || sha != "" {
			return sha, false, err
		}
	}

	// Only an empty repository lacks every ref we could build on.
	empty, err := p.isEmpty(ctx)
	if err != nil {
		return "", false, err
	}
	if !empty {
		return "", false, newError(KindNotFound, "get_ref",
			fmt.Sprintf("base branch %q does not exist", p.req.baseBranch()), nil)
	}
	return "", false, nil
}

// headOf returns the head commit of branch, or "" if it does not exist.
// GitHub answers 409 for refs in an empty repository.
func (p *push) headOf(ctx context.Context, branch string) (string, error) {
	var ref *github.Reference
	resp, err := p.call(ctx, "get_ref", func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		ref, r, err = p.client.Git.GetRef(ctx, p.owner, p.name, "heads/"+branch)
		return r, err
	})
	if err != nil {
		if code := getStatusCode(resp); code == http.StatusNotFound || code == http.StatusConflict {
			return "", nil
		}
		return "", classify("get_ref", resp, err)
	}
	return ref.GetObject().GetSHA(), nil
}

func (p *push) isEmpty(ctx context.Context) (bool, error) {
	var branches []*github.Branch
	resp, err := p.call(ctx, "list_branches", func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		branches, r, err = p.client.Repositories.ListBranches(ctx, p.owner, p.name, &github.BranchListOptions{
			ListOptions: github.ListOptions{PerPage: 1},
		})
		return r, err
	})
	if err != nil {
		if getStatusCode(resp) == http.StatusConflict {
			return true, nil
		}
		return false, classify("list_branches", resp, err)
	}
	return len(branches) == 0, nil
}

// bootstrap writes README.md to the base branch of an empty repository and
// returns that commit and the files still to push.
func (p *push) bootstrap(ctx context.Context) (string, []artifact.RepoFile, error) {
	first, rest := splitFirst(p.req.Files, "README.md")

	var content *github.RepositoryContentResponse
	resp, err := p.call(ctx, "bootstrap", func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		content, r, err = p.client.Repositories.CreateFile(ctx, p.owner, p.name, first.Path, &github.RepositoryContentFileOptions{
			Message: github.String(p.req.message()),
			Content: []byte(first.Content),
			Branch:  github.String(p.req.baseBranch()),
		})
		return r, err
	})
	if err != nil {
		return "", nil, classify("bootstrap", resp, err)
	}

	p.landed = append(p.landed, first.Path)
	return content.Commit.GetSHA(), rest, nil
}

// commit creates one commit holding files on top of parent.
func (p *push) commit(ctx context.Context, parent string, files []artifact.RepoFile) (string, error) {
	var parentCommit *github.Commit
	resp, err := p.call(ctx, "get_commit", func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		parentCommit, r, err = p.client.Git.GetCommit(ctx, p.owner, p.name, parent)
		return r, err
	})
	if err != nil {
		return "", classify("get_commit", resp, err)
	}

	entries := make([]*github.TreeEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(f.Path),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(f.Content),
		})
	}

	var tree *github.Tree
	resp, err = p.call(ctx, "create_tree", func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		tree, r, err = p.client.Git.CreateTree(ctx, p.owner, p.name, parentCommit.GetTree().GetSHA(), entries)
		return r, err
	})
	if err != nil {
		return "", classify("create_tree", resp, err)
	}

	var created *github.Commit
	resp, err = p.call(ctx, "create_commit", func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		created, r, err = p.client.Git.CreateCommit(ctx, p.owner, p.name, &github.Commit{
			Message: github.String(p.req.message()),
			Tree:    &github.Tree{SHA: tree.SHA},
			Parents: []*github.Commit{{SHA: github.String(parent)}},
		}, nil)
		return r, err
	})
	if err != nil {
		return "", classify("create_commit", resp, err)
	}
	return created.GetSHA(), nil
}

// moveRef points the branch at sha. Updates are fast-forward only.
func (p *push) moveRef(ctx context.Context, sha string, exists bool) error {
	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + p.req.Branch),
		Object: &github.GitObject{SHA: github.String(sha)},
	}

	op := "create_ref"
	resp, err := p.call(ctx, op, func() (*github.Response, error) {
		var (
			r   *github.Response
			err error
		)
		if exists {
			_, r, err = p.client.Git.UpdateRef(ctx, p.owner, p.name, ref, false)
		} else {
			_, r, err = p.client.Git.CreateRef(ctx, p.owner, p.name, ref)
		}
		return r, err
	})
	if err != nil {
		if exists {
			op = "update_ref"
		}
		return classify(op, resp, err)
	}
	return nil
}

func (p *push) call(ctx context.Context, op string, fn func() (*github.Response, error)) (*github.Response, error) {
	return retryGitHubOperation(ctx, p.retry, p.logger, op, fn)
}

// partial upgrades err to KindPartial when files already landed.
func (p *push) partial(err error) error {
	if len(p.landed) == 0 {
		return err
	}
	var ge *GitError
	if !errors.As(err, &ge) {
		ge = newError(KindNetwork, "push", "push failed", err)
	}
	return &GitError{
		Kind:    KindPartial,
		Op:      ge.Op,
		Message: fmt.Sprintf("%s after bootstrap (was %s)", ge.Message, ge.Kind),
		Landed:  append([]string(nil), p.landed...),
		Err:     ge.Err,
	}
}

// classify maps an API failure to a GitError kind.
func classify(op string, resp *github.Response, err error) *GitError {
	msg := err.Error()
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Message != "" {
		msg = er.Message
	}

	switch code := getStatusCode(resp); {
	case code == http.StatusUnauthorized:
		return newError(KindAuth, op, msg, err)
	case code == http.StatusForbidden && !isRateLimitError(resp):
		return newError(KindAuth, op, msg, err)
	case code == http.StatusNotFound:
		return newError(KindNotFound, op, msg, err)
	case code == http.StatusConflict, code == http.StatusUnprocessableEntity:
		return newError(KindConflict, op, msg, err)
	case code == http.StatusBadRequest:
		return newError(KindInvalid, op, msg, err)
	default:
		return newError(KindNetwork, op, msg, err)
	}
}

func splitFirst(files []artifact.RepoFile, want string) (artifact.RepoFile, []artifact.RepoFile) {
	idx := 0
	for i, f := range files {
		if f.Path == want {
			idx = i
			break
		}
	}
	rest := make([]artifact.RepoFile, 0, len(files)-1)
	rest = append(rest, files[:idx]...)
	rest = append(rest, files[idx+1:]...)
	return files[idx], rest
}
