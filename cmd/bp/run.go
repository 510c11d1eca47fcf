package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Runs wait on several model calls.
const runTimeout = 10 * time.Minute

var runLanguage string

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run the pipeline for a prompt",
	Long: `Run requirements, database design, validation, review and git strategy
for a prompt. A run whose review needs approval stops at PENDING_APPROVAL
and prints the approval token.

Examples:
  bp run "A blog with users, posts and comments"
  bp run --language go "An inventory service for a warehouse"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"prompt": strings.Join(args, " ")}
		if runLanguage != "" {
			body["language"] = runLanguage
		}
		return postRun(cmd, "/api/v1/orchestrate", body)
	},
}

var continueLanguage string

var continueCmd = &cobra.Command{
	Use:   "continue <approval-token>",
	Short: "Resume a run after its decision is recorded",
	Long: `Resume a parked run. An approved run generates its git strategy; a
rejected run ends HALTED. Record the decision first with bp approve or
bp reject.

Examples:
  bp continue 6f1c...
  bp continue --language node 6f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"approval_token": args[0]}
		if continueLanguage != "" {
			body["language"] = continueLanguage
		}
		return postRun(cmd, "/api/v1/orchestrate/continue", body)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runLanguage, "language", "l", "", "project language (default python)")
	continueCmd.Flags().StringVarP(&continueLanguage, "language", "l", "", "override the run's language")
}

// Run is the subset of the server's run the CLI prints.
type Run struct {
	ID              string   `json:"run_id"`
	Status          string   `json:"status"`
	Stage           string   `json:"stage"`
	Language        string   `json:"language"`
	CompletedStages []string `json:"completed_stages"`
	ApprovalToken   string   `json:"approval_token"`
	Error           *struct {
		Stage    string `json:"stage"`
		Kind     string `json:"kind"`
		Message  string `json:"message"`
		Attempts int    `json:"attempts"`
	} `json:"error"`
	StageOutputs struct {
		Review *struct {
			RiskLevel string   `json:"risk_level"`
			Issues    []string `json:"issues"`
		} `json:"review"`
		GitStrategy *struct {
			BranchName string `json:"branch_name"`
			Files      []struct {
				Path string `json:"path"`
			} `json:"files"`
		} `json:"git_strategy"`
		GitExecution *struct {
			Result *struct {
				RepoURL   string `json:"repo_url"`
				CommitSHA string `json:"commit_sha"`
			} `json:"result"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"git_execution"`
	} `json:"stage_outputs"`
}

func postRun(cmd *cobra.Command, path string, body any) error {
	var run Run
	raw, err := call(http.MethodPost, path, body, &run, runTimeout)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, raw)
	}
	printRun(cmd.OutOrStdout(), &run)
	return nil
}

func printRun(out io.Writer, run *Run) {
	fmt.Fprintf(out, "Run:    %s\n", run.ID)
	fmt.Fprintf(out, "Status: %s\n", run.Status)
	if run.Stage != "" {
		fmt.Fprintf(out, "Stage:  %s\n", run.Stage)
	}
	if len(run.CompletedStages) > 0 {
		fmt.Fprintf(out, "Done:   %s\n", strings.Join(run.CompletedStages, ", "))
	}

	if r := run.StageOutputs.Review; r != nil {
		fmt.Fprintf(out, "Risk:   %s\n", r.RiskLevel)
		for _, issue := range r.Issues {
			fmt.Fprintf(out, "  - %s\n", issue)
		}
	}
	if g := run.StageOutputs.GitStrategy; g != nil {
		fmt.Fprintf(out, "Branch: %s (%d files)\n", g.BranchName, len(g.Files))
	}
	if x := run.StageOutputs.GitExecution; x != nil {
		switch {
		case x.Error != nil:
			fmt.Fprintf(out, "Push:   failed: %s\n", x.Error.Message)
		case x.Result != nil:
			fmt.Fprintf(out, "Push:   %s @ %s\n", x.Result.RepoURL, x.Result.CommitSHA)
		}
	}
	if run.Error != nil {
		fmt.Fprintf(out, "Error:  %s (%s): %s\n", run.Error.Stage, run.Error.Kind, run.Error.Message)
	}
	if run.Status == "PENDING_APPROVAL" {
		fmt.Fprintf(out, "\nApproval token: %s\n", run.ApprovalToken)
		fmt.Fprintf(out, "Approve with:   bp approve %s\n", run.ApprovalToken)
	}
}
