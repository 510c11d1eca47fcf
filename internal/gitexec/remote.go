package gitexec

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/blueprint/internal/logging"
	"github.com/fyrsmithlabs/blueprint/internal/secrets"
)

const remoteName = "origin"

// Author signs commits made by RemoteExecutor.
var Author = object.Signature{Name: "blueprint", Email: "blueprint@localhost"}

// RemoteExecutor pushes to any git remote. It clones into memory, writes the
// files as one commit and pushes once, so a failed push leaves the remote
// untouched.
type RemoteExecutor struct {
	scanner *secrets.Scanner
	logger  *logging.Logger
}

// NewRemoteExecutor creates a RemoteExecutor. scanner and logger may be nil.
func NewRemoteExecutor(scanner *secrets.Scanner, logger *logging.Logger) *RemoteExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RemoteExecutor{scanner: scanner, logger: logger}
}

func (e *RemoteExecutor) Execute(ctx context.Context, req PushRequest, creds Credentials) (*Result, error) {
	if req.RemoteURL == "" {
		return nil, newError(KindInvalid, "preflight", "remote URL is required", nil)
	}
	if err := Preflight(req, creds, e.scanner); err != nil {
		return nil, err
	}

	auth := remoteAuth(req.RemoteURL, creds)

	bootstrapped := false
	repo, err := git.CloneContext(ctx, memory.NewStorage(), memfs.New(), &git.CloneOptions{
		URL:        req.RemoteURL,
		Auth:       auth,
		RemoteName: remoteName,
	})
	switch {
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		repo, err = initEmpty(req)
		if err != nil {
			return nil, newError(KindNetwork, "init", "cannot initialise repository", err)
		}
		bootstrapped = true
	case err != nil:
		return nil, classifyTransport("clone", err)
	default:
		if err := checkoutTarget(repo, req); err != nil {
			return nil, err
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, newError(KindNetwork, "worktree", "cannot open worktree", err)
	}
	for _, f := range req.Files {
		if err := util.WriteFile(wt.Filesystem, f.Path, []byte(f.Content), 0644); err != nil {
			return nil, newError(KindInvalid, "write", fmt.Sprintf("cannot write %s", f.Path), err)
		}
		if _, err := wt.Add(f.Path); err != nil {
			return nil, newError(KindInvalid, "add", fmt.Sprintf("cannot stage %s", f.Path), err)
		}
	}

	sig := Author
	sig.When = time.Now()
	hash, err := wt.Commit(req.message(), &git.CommitOptions{Author: &sig, AllowEmptyCommits: true})
	if err != nil {
		return nil, newError(KindInvalid, "commit", "cannot create commit", err)
	}

	ref := plumbing.NewBranchReferenceName(req.Branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, classifyTransport("push", err)
	}

	e.logger.Info(ctx, "pushed files to remote",
		zap.String("remote", redactURL(req.RemoteURL)),
		zap.String("branch", req.Branch),
		zap.String("commit", hash.String()),
		zap.Int("files", len(req.Files)),
		zap.Bool("bootstrapped", bootstrapped),
	)
	ignored := IgnoredFiles(req.Files)
	if len(ignored) > 0 {
		e.logger.Warn(ctx, "pushed files excluded by .gitignore", zap.Strings("paths", ignored))
	}

	return &Result{
		RepoURL:      redactURL(req.RemoteURL),
		Branch:       req.Branch,
		CommitSHA:    hash.String(),
		Files:        filePaths(req.Files),
		Bootstrapped: bootstrapped,
		Ignored:      ignored,
	}, nil
}

// initEmpty creates a repository whose HEAD points at the target branch.
func initEmpty(req PushRequest) (*git.Repository, error) {
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{req.RemoteURL},
	}); err != nil {
		return nil, err
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(req.Branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, err
	}
	return repo, nil
}

// checkoutTarget checks out the branch, starting it from the base branch
// when it does not exist yet.
func checkoutTarget(repo *git.Repository, req PushRequest) error {
	wt, err := repo.Worktree()
	if err != nil {
		return newError(KindNetwork, "worktree", "cannot open worktree", err)
	}

	target := plumbing.NewBranchReferenceName(req.Branch)
	if _, err := repo.Reference(target, true); err == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: target}); err != nil {
			return newError(KindConflict, "checkout", fmt.Sprintf("cannot check out %s", req.Branch), err)
		}
		return nil
	}

	hash, ok := firstRef(repo,
		plumbing.NewRemoteReferenceName(remoteName, req.Branch),
		plumbing.NewBranchReferenceName(req.baseBranch()),
		plumbing.NewRemoteReferenceName(remoteName, req.baseBranch()),
	)
	if !ok {
		return newError(KindNotFound, "checkout",
			fmt.Sprintf("base branch %q does not exist", req.baseBranch()), nil)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: target, Hash: hash, Create: true}); err != nil {
		return newError(KindConflict, "checkout", fmt.Sprintf("cannot create %s", req.Branch), err)
	}
	return nil
}

func firstRef(repo *git.Repository, names ...plumbing.ReferenceName) (plumbing.Hash, bool) {
	for _, name := range names {
		if ref, err := repo.Reference(name, true); err == nil {
			return ref.Hash(), true
		}
	}
	return plumbing.ZeroHash, false
}

// remoteAuth uses token basic auth for HTTP remotes only.
func remoteAuth(remote string, creds Credentials) transport.AuthMethod {
	if !strings.HasPrefix(remote, "http://") && !strings.HasPrefix(remote, "https://") {
		return nil
	}
	user := creds.Username
	if user == "" {
		user = "x-access-token"
	}
	return &githttp.BasicAuth{Username: user, Password: creds.Token.Value()}
}

func classifyTransport(op string, err error) *GitError {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod):
		return newError(KindAuth, op, "remote rejected credentials", err)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return newError(KindNotFound, op, "remote repository not found", err)
	case errors.Is(err, git.ErrNonFastForwardUpdate),
		strings.Contains(err.Error(), "non-fast-forward"):
		return newError(KindConflict, op, "branch has diverged", err)
	default:
		return newError(KindNetwork, op, "remote operation failed", err)
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
