package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var pushFlags struct {
	repo      string
	branch    string
	base      string
	remoteURL string
	username  string
	message   string
	noCreate  bool
	public    bool
}

var pushCmd = &cobra.Command{
	Use:   "push <strategy.json|->",
	Short: "Push a git strategy's files to a repository",
	Long: `Push the files of a git strategy JSON (branch_name, base_branch, files)
as one commit. The token comes from BLUEPRINT_GITHUB_TOKEN or GITHUB_TOKEN.
Files are scanned for secrets before anything is sent.

Examples:
  bp push --repo octo/blog strategy.json
  jq .stage_outputs.git_strategy run.json | bp push --repo octo/blog -
  bp push --remote-url https://git.example.com/team/blog.git strategy.json`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	f := pushCmd.Flags()
	f.StringVar(&pushFlags.repo, "repo", "", "GitHub repository as owner/name")
	f.StringVar(&pushFlags.branch, "branch", "", "branch to push (default from the strategy)")
	f.StringVar(&pushFlags.base, "base", "", "base branch (default from the strategy)")
	f.StringVar(&pushFlags.remoteURL, "remote-url", "", "push to a plain git remote instead of GitHub")
	f.StringVar(&pushFlags.username, "username", "", "username for a plain git remote")
	f.StringVarP(&pushFlags.message, "message", "m", "", "commit message")
	f.BoolVar(&pushFlags.noCreate, "no-create", false, "fail instead of creating a missing repository")
	f.BoolVar(&pushFlags.public, "public", false, "create a missing repository as public")
}

// GitStrategy is the part of a git strategy the push needs.
type GitStrategy struct {
	BranchName string          `json:"branch_name"`
	BaseBranch string          `json:"base_branch"`
	Action     string          `json:"action"`
	Files      json.RawMessage `json:"files"`
}

// PushResponse matches internal/http PushResponse
type PushResponse struct {
	OK           bool     `json:"ok"`
	RepoURL      string   `json:"repo_url"`
	Branch       string   `json:"branch"`
	CommitSHA    string   `json:"commit_sha"`
	Files        []string `json:"files"`
	CreatedRepo  bool     `json:"created_repo"`
	Bootstrapped bool     `json:"bootstrapped"`
	Ignored      []string `json:"ignored,omitempty"`
}

func runPush(cmd *cobra.Command, args []string) error {
	if pushFlags.repo == "" && pushFlags.remoteURL == "" {
		return errors.New("one of --repo or --remote-url is required")
	}
	token := envOr("BLUEPRINT_GITHUB_TOKEN", envOr("GITHUB_TOKEN", ""))
	if token == "" {
		return errors.New("set BLUEPRINT_GITHUB_TOKEN or GITHUB_TOKEN")
	}

	content, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	var strategy GitStrategy
	if err := json.Unmarshal(content, &strategy); err != nil {
		return fmt.Errorf("failed to parse strategy: %w", err)
	}

	body := map[string]any{
		"github_token":              token,
		"repo_full_name":            pushFlags.repo,
		"branch_name":               firstNonEmpty(pushFlags.branch, strategy.BranchName),
		"base_branch":               firstNonEmpty(pushFlags.base, strategy.BaseBranch),
		"files":                     strategy.Files,
		"commit_message":            firstNonEmpty(pushFlags.message, strategy.Action),
		"create_repo_if_not_exists": !pushFlags.noCreate,
		"repo_private":              !pushFlags.public,
		"remote_url":                pushFlags.remoteURL,
		"username":                  pushFlags.username,
	}

	var resp PushResponse
	raw, err := call(http.MethodPost, "/api/v1/git/push", body, &resp, 5*time.Minute)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, raw)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pushed %d file(s) to %s\n", len(resp.Files), resp.RepoURL)
	fmt.Fprintf(out, "Branch: %s\n", resp.Branch)
	fmt.Fprintf(out, "Commit: %s\n", resp.CommitSHA)
	if resp.CreatedRepo {
		fmt.Fprintln(out, "Repository was created")
	}
	if len(resp.Ignored) > 0 {
		fmt.Fprintf(out, "Excluded by .gitignore: %s\n", strings.Join(resp.Ignored, ", "))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
