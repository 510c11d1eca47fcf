// Package secrets scans generated repository files for credentials before
// they are pushed, using the Gitleaks SDK.
package secrets

import (
	"fmt"
	"regexp"
	"sort"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
)

// Finding is a detected secret. The secret value itself is never kept.
type Finding struct {
	Path        string `json:"path"`
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	StartCol    int    `json:"start_col"`
	EndCol      int    `json:"end_col"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s:%d %s", f.Path, f.Line, f.RuleID)
}

// Scanner runs the default Gitleaks rule set plus an optional allowlist.
type Scanner struct {
	allowlist *Allowlist
	paths     []*regexp.Regexp
}

// NewScanner compiles the allowlist. A nil allowlist scans with the
// default rules only.
func NewScanner(allowlist *Allowlist) (*Scanner, error) {
	s := &Scanner{allowlist: allowlist}
	if allowlist == nil {
		return s, nil
	}
	for _, p := range allowlist.Paths {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: path pattern %q: %v", ErrInvalidRegex, p, err)
		}
		s.paths = append(s.paths, re)
	}
	for _, p := range allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: content pattern %q: %v", ErrInvalidRegex, p, err)
		}
	}
	return s, nil
}

// Scan checks every file and returns findings ordered by path and line.
func (s *Scanner) Scan(files []artifact.RepoFile) ([]Finding, error) {
	// A detector accumulates findings internally, so each scan gets its own.
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create gitleaks detector: %w", err)
	}
	if s.allowlist != nil {
		applyAllowlist(&detector.Config, s.allowlist)
	}

	var findings []Finding
	for _, f := range files {
		if s.pathAllowed(f.Path) {
			continue
		}
		for _, lf := range detector.DetectString(f.Content) {
			findings = append(findings, Finding{
				Path:        f.Path,
				RuleID:      lf.RuleID,
				Description: lf.Description,
				Line:        lf.StartLine,
				StartCol:    lf.StartColumn,
				EndCol:      lf.EndColumn,
			})
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Path != findings[j].Path {
			return findings[i].Path < findings[j].Path
		}
		return findings[i].Line < findings[j].Line
	})
	return findings, nil
}

func (s *Scanner) pathAllowed(p string) bool {
	for _, re := range s.paths {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// applyAllowlist merges content patterns into the Gitleaks config. Patterns
// were validated by NewScanner.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "blueprint allowlist",
	}
	for _, p := range allowlist.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}
