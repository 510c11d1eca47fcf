package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	decisionComment string
	decidedBy       string
)

var approveCmd = &cobra.Command{
	Use:   "approve <approval-token>",
	Short: "Approve a parked run",
	Long: `Record an approval for a run waiting at PENDING_APPROVAL. The first
decision for a token is final.

Examples:
  bp approve 6f1c... --comment "indexes look fine" --by dba@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], "approve")
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <approval-token>",
	Short: "Reject a parked run",
	Long: `Record a rejection for a run waiting at PENDING_APPROVAL. Continuing a
rejected run ends it HALTED.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], "reject")
	},
}

var approvalCmd = &cobra.Command{
	Use:   "approval <approval-token>",
	Short: "Show a parked run and its decision",
	Long: `Show the checkpoint behind an approval token: the prompt, the design,
its validation and the review that asked for approval.`,
	Args: cobra.ExactArgs(1),
	RunE: runShowApproval,
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVarP(&decisionComment, "comment", "m", "", "comment stored with the decision")
		c.Flags().StringVar(&decidedBy, "by", envOr("USER", ""), "who made the decision")
	}
}

// ApprovalResponse matches internal/http ApprovalResponse
type ApprovalResponse struct {
	OK            bool   `json:"ok"`
	ApprovalToken string `json:"approval_token"`
	Decision      string `json:"decision"`
	Message       string `json:"message"`
}

func decide(cmd *cobra.Command, token, decision string) error {
	body := map[string]string{
		"approval_token": token,
		"decision":       decision,
		"comment":        decisionComment,
		"decided_by":     decidedBy,
	}
	var resp ApprovalResponse
	raw, err := call(http.MethodPost, "/api/v1/approval", body, &resp, 30*time.Second)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, raw)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recorded %s for %s\n", resp.Decision, resp.ApprovalToken)
	fmt.Fprintf(out, "Continue with: bp continue %s\n", resp.ApprovalToken)
	return nil
}

// ApprovalRecord is the subset of the server's approval record the CLI prints.
type ApprovalRecord struct {
	Token      string `json:"approval_token"`
	RunID      string `json:"run_id"`
	Decision   string `json:"decision"`
	Comment    string `json:"comment"`
	DecidedBy  string `json:"decided_by"`
	CreatedAt  string `json:"created_at"`
	Checkpoint struct {
		Prompt   string `json:"prompt"`
		Language string `json:"language"`
		Review   *struct {
			Assessment string   `json:"assessment"`
			RiskLevel  string   `json:"risk_level"`
			Issues     []string `json:"issues"`
		} `json:"review"`
		DatabaseDesign *struct {
			Tables []struct {
				Name string `json:"name"`
			} `json:"tables"`
		} `json:"database_design"`
	} `json:"checkpoint"`
}

func runShowApproval(cmd *cobra.Command, args []string) error {
	var rec ApprovalRecord
	raw, err := call(http.MethodGet, "/api/v1/approvals/"+url.PathEscape(args[0]), nil, &rec, 30*time.Second)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, raw)
	}

	out := cmd.OutOrStdout()
	cp := rec.Checkpoint
	fmt.Fprintf(out, "Token:    %s\n", rec.Token)
	fmt.Fprintf(out, "Run:      %s\n", rec.RunID)
	fmt.Fprintf(out, "Decision: %s\n", rec.Decision)
	if rec.DecidedBy != "" {
		fmt.Fprintf(out, "By:       %s\n", rec.DecidedBy)
	}
	if rec.Comment != "" {
		fmt.Fprintf(out, "Comment:  %s\n", rec.Comment)
	}
	fmt.Fprintf(out, "Prompt:   %s\n", cp.Prompt)
	fmt.Fprintf(out, "Language: %s\n", cp.Language)
	if d := cp.DatabaseDesign; d != nil {
		fmt.Fprintf(out, "Tables:   %d\n", len(d.Tables))
		for _, t := range d.Tables {
			fmt.Fprintf(out, "  - %s\n", t.Name)
		}
	}
	if r := cp.Review; r != nil {
		fmt.Fprintf(out, "Risk:     %s\n", r.RiskLevel)
		fmt.Fprintf(out, "Review:   %s\n", r.Assessment)
		for _, issue := range r.Issues {
			fmt.Fprintf(out, "  - %s\n", issue)
		}
	}
	return nil
}
