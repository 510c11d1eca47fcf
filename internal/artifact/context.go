package artifact

import (
	"fmt"
	"strings"
)

// DefaultLanguage is assumed when a run names no language.
const DefaultLanguage = "python"

var frameworks = map[string]string{
	"python": "fastapi",
	"node":   "express",
	"nodejs": "express",
	"java":   "spring-boot",
	"go":     "gin",
}

// ProjectContext is the input to the git strategy stage.
type ProjectContext struct {
	Type        string `json:"type"`
	Framework   string `json:"framework"`
	Language    string `json:"language"`
	Description string `json:"description"`
}

// FrameworkFor maps a language to its default web framework. Unknown
// languages map to themselves.
func FrameworkFor(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if fw, ok := frameworks[lang]; ok {
		return fw
	}
	return lang
}

// NewProjectContext builds the git strategy input for a backend in language
// that implements the entities in req.
func NewProjectContext(language string, req *Requirements) ProjectContext {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = DefaultLanguage
	}
	desc := "Backend service"
	if req != nil && len(req.Entities) > 0 {
		desc = fmt.Sprintf("Backend with entities: %s", strings.Join(req.EntityNames(), ", "))
	}
	return ProjectContext{
		Type:        "backend",
		Framework:   FrameworkFor(lang),
		Language:    lang,
		Description: desc,
	}
}
