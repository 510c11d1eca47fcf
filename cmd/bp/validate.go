package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <design.json|->",
	Short: "Validate a database design",
	Long: `Run the deterministic design checks on a database design JSON file (or
stdin). Every violation is listed; the command fails when any is found.

Examples:
  bp validate design.json
  jq .stage_outputs.database_design run.json | bp validate -`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

// ValidationResult matches validator.Result
type ValidationResult struct {
	OK         bool `json:"ok"`
	Violations []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"violations"`
}

var errInvalidDesign = errors.New("design is invalid")

func runValidate(cmd *cobra.Command, args []string) error {
	content, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	if !json.Valid(content) {
		return fmt.Errorf("%s is not valid JSON", args[0])
	}

	body := map[string]json.RawMessage{"database_design": content}
	var result ValidationResult
	raw, err := call(http.MethodPost, "/api/v1/skills/validate", body, &result, 30*time.Second)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := printJSON(cmd, raw); err != nil {
			return err
		}
	} else if result.OK {
		fmt.Fprintln(cmd.OutOrStdout(), "Design is valid")
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d violation(s):\n", len(result.Violations))
		for _, v := range result.Violations {
			fmt.Fprintf(out, "  [%s] %s\n", v.Code, v.Message)
		}
	}

	if !result.OK {
		return errInvalidDesign
	}
	return nil
}
