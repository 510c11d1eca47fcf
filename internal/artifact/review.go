package artifact

import "strings"

// RiskLevel grades a design review.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Review is the output of the review stage.
type Review struct {
	Assessment       string    `json:"assessment" jsonschema:"overall assessment summary"`
	Issues           []string  `json:"issues,omitempty" jsonschema:"identified issues or concerns"`
	RiskLevel        RiskLevel `json:"risk_level" jsonschema:"LOW, MEDIUM or HIGH"`
	ApprovalRequired bool      `json:"approval_required" jsonschema:"whether a human must approve before repository setup"`
}

// Normalize upper-cases the risk level, so "high" is accepted as HIGH.
func (r *Review) Normalize() {
	r.RiskLevel = RiskLevel(strings.ToUpper(strings.TrimSpace(string(r.RiskLevel))))
}

func (r *Review) Validate() error {
	var p problems
	if strings.TrimSpace(r.Assessment) == "" {
		p.addf("assessment is empty")
	}
	switch r.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		p.addf("unknown risk_level %q", r.RiskLevel)
	}
	return p.err("review")
}
