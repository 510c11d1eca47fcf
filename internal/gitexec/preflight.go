package gitexec

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/secrets"
)

// Preflight rejects a request before any network call. A nil scanner skips
// the secret scan.
func Preflight(req PushRequest, creds Credentials, scanner *secrets.Scanner) error {
	if !creds.Token.IsSet() {
		return newError(KindAuth, "preflight", "token is required", nil)
	}
	if req.RemoteURL == "" {
		if _, _, ok := splitRepo(req.Repo); !ok {
			return newError(KindInvalid, "preflight", fmt.Sprintf("repository must be owner/repo, got %q", req.Repo), nil)
		}
	}
	if !artifact.ValidBranchName(req.Branch) {
		return newError(KindInvalid, "preflight", fmt.Sprintf("invalid branch name %q", req.Branch), nil)
	}
	if req.BaseBranch != "" && !artifact.ValidBranchName(req.BaseBranch) {
		return newError(KindInvalid, "preflight", fmt.Sprintf("invalid base branch %q", req.BaseBranch), nil)
	}
	if len(req.Files) == 0 {
		return newError(KindInvalid, "preflight", "no files to push", nil)
	}

	seen := make(map[string]bool, len(req.Files))
	for _, f := range req.Files {
		if strings.TrimSpace(f.Path) == "" {
			return newError(KindInvalid, "preflight", "file with empty path", nil)
		}
		if !artifact.ValidFilePath(f.Path) {
			return newError(KindInvalid, "preflight", fmt.Sprintf("unsafe file path %q", f.Path), nil)
		}
		if seen[f.Path] {
			return newError(KindInvalid, "preflight", fmt.Sprintf("duplicate file path %q", f.Path), nil)
		}
		seen[f.Path] = true
	}
	if missing := artifact.MissingFiles(req.Files); len(missing) > 0 {
		return newError(KindInvalid, "preflight", strings.Join(missing, ", ")+" required", nil)
	}

	if scanner == nil {
		return nil
	}
	findings, err := scanner.Scan(req.Files)
	if err != nil {
		return newError(KindInvalid, "secret_scan", "secret scan failed", err)
	}
	if len(findings) > 0 {
		where := make([]string, len(findings))
		for i, f := range findings {
			where[i] = f.String()
		}
		return newError(KindSecretDetected, "secret_scan",
			fmt.Sprintf("%d secret(s) found: %s", len(findings), strings.Join(where, "; ")), nil)
	}
	return nil
}
