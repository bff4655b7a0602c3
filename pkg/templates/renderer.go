// Package templates provides the embedded role prompts.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// TemplateData holds the data for template rendering.
type TemplateData struct {
	Extra       map[string]any `json:"extra,omitempty"`
	Category    string         `json:"category,omitempty"`
	Instruction string         `json:"instruction,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	TestCommand string         `json:"test_command,omitempty"`
	Roles       []string       `json:"roles,omitempty"`
}

// PromptTemplate names one embedded template.
type PromptTemplate string

const (
	// CoordinatorTemplate classifies a request and proposes roles.
	CoordinatorTemplate PromptTemplate = "coordinator.tpl.md"
	// RecoveryTemplate asks the coordinator to repair a failed plan.
	RecoveryTemplate PromptTemplate = "recovery.tpl.md"
	// PlannerTemplate produces a change plan.
	PlannerTemplate PromptTemplate = "planner.tpl.md"
	// PlannerAnswerTemplate answers an implementer's question.
	PlannerAnswerTemplate PromptTemplate = "planner_answer.tpl.md"
	// ImplementerEditTemplate rewrites one file.
	ImplementerEditTemplate PromptTemplate = "implementer_edit.tpl.md"
	// ImplementerCommandTemplate corrects a failed command.
	ImplementerCommandTemplate PromptTemplate = "implementer_command.tpl.md"
	// VerifierTemplate evaluates recent changes.
	VerifierTemplate PromptTemplate = "verifier.tpl.md"
	// ReviewerTemplate approves or rejects the whole change.
	ReviewerTemplate PromptTemplate = "reviewer.tpl.md"
)

// All lists every prompt, in the order agents are usually invoked.
var All = []PromptTemplate{
	CoordinatorTemplate,
	PlannerTemplate,
	PlannerAnswerTemplate,
	ImplementerEditTemplate,
	ImplementerCommandTemplate,
	VerifierTemplate,
	ReviewerTemplate,
	RecoveryTemplate,
}

var funcs = template.FuncMap{
	"join":     strings.Join,
	"contains": strings.Contains,
}

// Renderer executes the embedded prompts. It is safe for concurrent use.
type Renderer struct {
	set *template.Template
}

// NewRenderer parses every embedded template and checks that each prompt in
// All is present.
func NewRenderer() (*Renderer, error) {
	set, err := template.New("prompts").Funcs(funcs).ParseFS(templateFS, "*.tpl.md")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	for _, name := range All {
		if set.Lookup(string(name)) == nil {
			return nil, fmt.Errorf("prompt template %s is missing", name)
		}
	}
	return &Renderer{set: set}, nil
}

// Render executes name with data. Nil data renders with zero values.
func (r *Renderer) Render(name PromptTemplate, data *TemplateData) (string, error) {
	tmpl := r.set.Lookup(string(name))
	if tmpl == nil {
		return "", fmt.Errorf("template %s not found", name)
	}
	if data == nil {
		data = &TemplateData{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
