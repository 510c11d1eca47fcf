package http

import (
	"github.com/fyrsmithlabs/blueprint/internal/artifact"
)

// OrchestrateRequest is the body of POST /api/v1/orchestrate.
type OrchestrateRequest struct {
	Prompt   string `json:"prompt"`
	Language string `json:"language,omitempty"`
}

// ContinueRequest is the body of POST /api/v1/orchestrate/continue.
type ContinueRequest struct {
	ApprovalToken string `json:"approval_token"`
	Language      string `json:"language,omitempty"`
}

// ApprovalRequest is the body of POST /api/v1/approval.
//
// Decision is approve or reject. Older clients send approved, comments and
// approved_by instead; those are accepted when decision is empty.
type ApprovalRequest struct {
	ApprovalToken string `json:"approval_token"`
	Decision      string `json:"decision,omitempty"`
	Comment       string `json:"comment,omitempty"`
	DecidedBy     string `json:"decided_by,omitempty"`

	Approved   *bool  `json:"approved,omitempty"`
	Comments   string `json:"comments,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

// ApprovalResponse acknowledges a recorded decision.
type ApprovalResponse struct {
	OK            bool   `json:"ok"`
	ApprovalToken string `json:"approval_token"`
	Decision      string `json:"decision"`
	Message       string `json:"message"`
}

// PushRequest is the body of POST /api/v1/git/push.
type PushRequest struct {
	GitHubToken     string              `json:"github_token"`
	RepoFullName    string              `json:"repo_full_name"`
	BranchName      string              `json:"branch_name"`
	BaseBranch      string              `json:"base_branch,omitempty"`
	Files           []artifact.RepoFile `json:"files"`
	CreateIfMissing *bool               `json:"create_repo_if_not_exists,omitempty"`
	Private         *bool               `json:"repo_private,omitempty"`
	Message         string              `json:"commit_message,omitempty"`
	RemoteURL       string              `json:"remote_url,omitempty"`
	Username        string              `json:"username,omitempty"`
}

// PushResponse reports a completed push.
type PushResponse struct {
	OK           bool     `json:"ok"`
	RepoURL      string   `json:"repo_url"`
	Branch       string   `json:"branch"`
	CommitSHA    string   `json:"commit_sha"`
	CommitURL    string   `json:"commit_url,omitempty"`
	Files        []string `json:"files"`
	CreatedRepo  bool     `json:"created_repo"`
	Bootstrapped bool     `json:"bootstrapped"`
	// Ignored lists pushed files the pushed .gitignore excludes.
	Ignored []string `json:"ignored,omitempty"`
}

// RequirementsRequest is the body of POST /api/v1/agents/requirements.
type RequirementsRequest struct {
	Prompt string `json:"prompt"`
}

// DesignRequest is the body of POST /api/v1/agents/database-design.
type DesignRequest struct {
	Requirements *artifact.Requirements `json:"requirements"`
}

// DesignBody carries a design for review and validation. db_design is
// accepted as an alias.
type DesignBody struct {
	DatabaseDesign *artifact.DatabaseDesign `json:"database_design"`
	DBDesign       *artifact.DatabaseDesign `json:"db_design,omitempty"`
}

func (b DesignBody) design() *artifact.DatabaseDesign {
	if b.DatabaseDesign != nil {
		return b.DatabaseDesign
	}
	return b.DBDesign
}

// GitStrategyRequest is the body of POST /api/v1/agents/git-strategy.
type GitStrategyRequest struct {
	ProjectType string `json:"project_type,omitempty"`
	Framework   string `json:"framework,omitempty"`
	Language    string `json:"language,omitempty"`
	Description string `json:"description,omitempty"`
}

func (r GitStrategyRequest) projectContext() artifact.ProjectContext {
	pc := artifact.NewProjectContext(r.Language, nil)
	if r.ProjectType != "" {
		pc.Type = r.ProjectType
	}
	if r.Framework != "" {
		pc.Framework = r.Framework
	}
	if r.Description != "" {
		pc.Description = r.Description
	}
	return pc
}

// HealthResponse is the response body for GET /api/v1/health.
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	ApprovalsPending int    `json:"approvals_pending"`
}
